package instance

import "github.com/angelmondragon/cantora-backend/pkg/env"

// GetID returns the worker instance identifier logged by background binaries.
// Heroku-style DYNO names win over WORKER_ID.
func GetID() string {
	return env.First("worker-0", "DYNO", "WORKER_ID")
}
