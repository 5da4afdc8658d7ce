package httpapi

import "net/http"

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusResponse is the JSON shape of GET /status (spec §6).
type statusResponse struct {
	Servers []statusEntry `json:"servers"`
}

type statusEntry struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Running     bool   `json:"running"`
	Players     int    `json:"players"`
	IdleSince   string `json:"idle_since,omitempty"`
	Degraded    bool   `json:"degraded"`
	Quarantined bool   `json:"quarantined"`
}

func statusHandler(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := source.Snapshot()
		entries := make([]statusEntry, 0, len(snapshot))
		for _, s := range snapshot {
			entry := statusEntry{
				Name:        s.Name,
				State:       s.State,
				Running:     s.Running,
				Players:     s.Players,
				Degraded:    s.Degraded,
				Quarantined: s.Quarantined,
			}
			if !s.IdleSince.IsZero() {
				entry.IdleSince = s.IdleSince.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			entries = append(entries, entry)
		}
		JSON(w, http.StatusOK, statusResponse{Servers: entries})
	}
}
