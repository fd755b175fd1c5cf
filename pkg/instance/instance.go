package instance

import (
	"os"

	"github.com/google/uuid"
)

// GetID returns this process's identifier, used as the lease owner on
// claimed sync jobs. WORKER_ID wins so an operator can pin a name; otherwise
// the hostname ties a stuck lease back to an instance.
func GetID(kind string) string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return kind + "-" + uuid.NewString()[:8]
	}
	return kind + "-" + host
}
