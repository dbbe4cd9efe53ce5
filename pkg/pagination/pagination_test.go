package pagination_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropday-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := pagination.Cursor{CreatedAt: time.Date(2026, 10, 1, 9, 30, 0, 123456789, time.UTC), ID: uuid.New()}
	encoded := pagination.EncodeCursor(in)
	assert.False(t, strings.ContainsAny(encoded, "+/="))

	out, err := pagination.ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	none, err := pagination.ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"%%%", "bm9waXBl", pagination.EncodeCursor(pagination.Cursor{})[:10]} {
		_, err := pagination.ParseCursor(raw)
		assert.Error(t, err, raw)
	}
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, pagination.DefaultLimit, pagination.NormalizeLimit(0))
	assert.Equal(t, pagination.MaxLimit, pagination.NormalizeLimit(1000))
	assert.Equal(t, 7, pagination.NormalizeLimit(7))
}

func TestNewestWalksEveryRowOnce(t *testing.T) {
	db := dbtest.Open(t)
	user := uuid.New()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.Notification{
			ID:        uuid.New(),
			UserID:    user,
			Type:      enums.NotificationTypeOrderAlert,
			Title:     "t",
			Message:   "m",
			CreatedAt: base.Add(time.Duration(i%3) * time.Minute),
		}).Error)
	}

	seen := map[uuid.UUID]bool{}
	var last time.Time
	params := pagination.Params{Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "paging did not terminate")
		query, limit, err := pagination.Newest(db.Model(&models.Notification{}).Where("user_id = ?", user), "", params)
		require.NoError(t, err)
		var rows []models.Notification
		require.NoError(t, query.Find(&rows).Error)

		page, next := pagination.Cut(rows, limit, func(n models.Notification) pagination.Cursor {
			return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
		})
		for _, n := range page {
			assert.False(t, seen[n.ID], "row returned twice")
			seen[n.ID] = true
			if !last.IsZero() {
				assert.False(t, n.CreatedAt.After(last), "rows must be newest first")
			}
			last = n.CreatedAt
		}
		if next == "" {
			break
		}
		params.Cursor = next
	}
	assert.Len(t, seen, 5)
}
