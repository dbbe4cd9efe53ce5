// Package instance names the running replica in logs and redis markers.
package instance

import (
	"os"

	"github.com/angelmondragon/dropday-backend/pkg/env"
)

// GetID prefers DROPDAY_INSTANCE_ID, then the platform's DYNO, then the host name.
func GetID() string {
	if id := env.Get("DROPDAY_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "dropday-0"
}
