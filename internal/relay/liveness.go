package relay

import "time"

// livenessWindow is how recently a worker must have pinged to count as
// active in status reports.
const livenessWindow = 60 * time.Second

// isWorker reports whether the entry registered as a worker client.
func isWorker(e *clientEntry) bool {
	return e.clientType == WorkerClientType
}

func isObserver(e *clientEntry) bool {
	return !isWorker(e)
}

// hasActiveWorker reports whether at least one worker pinged within the
// liveness window. Reporting only; delivery never consults it.
func hasActiveWorker(reg *registry, now time.Time) bool {
	for _, entry := range reg.entries {
		if isWorker(entry) && now.Sub(entry.lastPing) < livenessWindow {
			return true
		}
	}
	return false
}
