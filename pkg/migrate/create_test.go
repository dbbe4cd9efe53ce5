package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Add Disputes":      "add_disputes",
		"  orders--index  ": "orders_index",
		"!!!":               "",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateAtWritesValidTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

	path, err := createAt(dir, "Add rider index", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20261001093000_add_rider_index.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := createAt(dir, "add rider index", now); err == nil {
		t.Fatalf("expected duplicate filename to fail")
	}
	if _, err := createAt(Embedded, "x", now); err == nil {
		t.Fatalf("expected embedded target to be rejected")
	}
}

func TestValidateDirRejectsBrokenFiles(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
		want string
	}{
		"bad name":     {name: "1_bad.sql", body: "-- +goose Up\n-- +goose Down\n", want: "invalid migration filename"},
		"missing down": {name: "20261001000000_x.sql", body: "-- +goose Up\n", want: "Down"},
		"down first":   {name: "20261001000000_x.sql", body: "-- +goose Down\n-- +goose Up\n", want: "Down before Up"},
		"unbalanced": {
			name: "20261001000000_x.sql",
			body: "-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n",
			want: "StatementBegin",
		},
	}
	for label, tc := range cases {
		t.Run(label, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tc.name), []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			err := ValidateDir(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
