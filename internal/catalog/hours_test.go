package catalog

import (
	"testing"
	"time"

	"github.com/angelmondragon/dropday-backend/pkg/db/models"
)

func strPtr(v string) *string { return &v }

func TestIsOpen(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }

	cases := []struct {
		name   string
		opens  *string
		closes *string
		now    time.Time
		want   bool
	}{
		{name: "no hours", now: at(3, 0), want: true},
		{name: "only opening", opens: strPtr("09:00"), now: at(3, 0), want: true},
		{name: "inside day window", opens: strPtr("09:00"), closes: strPtr("21:00"), now: at(12, 30), want: true},
		{name: "at opening", opens: strPtr("09:00"), closes: strPtr("21:00"), now: at(9, 0), want: true},
		{name: "at closing", opens: strPtr("09:00"), closes: strPtr("21:00"), now: at(21, 0), want: false},
		{name: "before opening", opens: strPtr("09:00"), closes: strPtr("21:00"), now: at(8, 59), want: false},
		{name: "overnight late", opens: strPtr("18:00"), closes: strPtr("02:00"), now: at(23, 0), want: true},
		{name: "overnight early", opens: strPtr("18:00"), closes: strPtr("02:00"), now: at(1, 0), want: true},
		{name: "overnight closed", opens: strPtr("18:00"), closes: strPtr("02:00"), now: at(10, 0), want: false},
		{name: "malformed hours", opens: strPtr("9am"), closes: strPtr("21:00"), now: at(3, 0), want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shop := models.Shop{OpensAt: tc.opens, ClosesAt: tc.closes, Timezone: "UTC"}
			if got := IsOpen(shop, tc.now); got != tc.want {
				t.Fatalf("IsOpen=%v want %v", got, tc.want)
			}
		})
	}
}

func TestIsOpenUsesShopTimezone(t *testing.T) {
	shop := models.Shop{OpensAt: strPtr("09:00"), ClosesAt: strPtr("17:00"), Timezone: "Africa/Lagos"}
	// 08:30 UTC is 09:30 in Lagos (UTC+1).
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	if !IsOpen(shop, now) {
		t.Fatalf("expected shop open in local time")
	}
}
