package instance

import (
	"os"

	"github.com/google/uuid"
)

// GetID returns the stable identity of this execution context. Terminals set
// TILLSYNC_TERMINAL_ID; worker deployments set WORKER_ID. When neither is
// present a random identity is generated so lease ownership stays unambiguous.
func GetID() string {
	if id := os.Getenv("TILLSYNC_TERMINAL_ID"); id != "" {
		return id
	}
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	return "terminal-" + uuid.NewString()
}
