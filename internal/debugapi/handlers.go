// Package debugapi serves the diagnostic endpoints of a dirlister process:
// recent log entries and recent change events, either as a JSON snapshot or
// followed live over server-sent events.
package debugapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dirlister/internal/event"
	"dirlister/internal/logging"
)

// Register mounts /debug/logs and, when bus is set, /debug/events.
func Register(mux *http.ServeMux, logger *logging.Logger, bus *event.Bus[event.DirEvent]) {
	mux.Handle("/debug/logs", &LogsHandler{Logger: logger})
	if bus != nil {
		mux.Handle("/debug/events", &EventsHandler{Bus: bus, Logger: logger})
	}
}

// LogsHandler lists buffered log entries. ?level= drops entries below that
// level and ?follow=1 keeps streaming new entries after the snapshot.
type LogsHandler struct {
	Logger            *logging.Logger
	HeartbeatInterval time.Duration
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	minLevel := logging.Level("")
	if raw := query.Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			http.Error(w, "unknown level "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
		minLevel = level
	}
	allow := func(entry logging.LogEntry) bool {
		return minLevel == "" || logging.LevelAtLeast(entry.Level, minLevel)
	}

	if !isFollow(query.Get("follow")) {
		entries := make([]logging.LogEntry, 0)
		for _, entry := range h.Logger.Buffer().List() {
			if allow(entry) {
				entries = append(entries, entry)
			}
		}
		writeJSON(w, h.Logger, entries)
		return
	}

	output, cancel := h.Logger.Subscribe()
	defer cancel()
	if output == nil {
		http.Error(w, "log stream unavailable", http.StatusServiceUnavailable)
		return
	}
	writer, err := startSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := writer.WriteRetry(defaultRetryInterval); err != nil {
		return
	}
	for _, entry := range h.Logger.Buffer().List() {
		if !allow(entry) {
			continue
		}
		if err := writer.WriteEvent("", entry); err != nil {
			return
		}
	}
	runStream(r, writer, streamConfig[logging.LogEntry]{
		Output:            output,
		Allow:             allow,
		HeartbeatInterval: h.HeartbeatInterval,
	})
}

// EventsHandler lists the change events remembered by a bus. ?limit= caps
// the snapshot, ?types= (comma separated) narrows it and ?follow=1 keeps
// streaming.
type EventsHandler struct {
	Bus               *event.Bus[event.DirEvent]
	Logger            *logging.Logger
	HeartbeatInterval time.Duration
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	var types []string
	for _, value := range query["types"] {
		types = append(types, strings.Split(value, ",")...)
	}
	allow := event.MatchTypes[event.DirEvent](types...)

	recent := make([]event.DirEvent, 0)
	for _, dirEvent := range h.Bus.Recent(0) {
		if allow == nil || allow(dirEvent) {
			recent = append(recent, dirEvent)
		}
	}
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}

	if !isFollow(query.Get("follow")) {
		writeJSON(w, h.Logger, recent)
		return
	}

	output, cancel := h.Bus.SubscribeFiltered(allow)
	defer cancel()
	writer, err := startSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := writer.WriteRetry(defaultRetryInterval); err != nil {
		return
	}
	for _, dirEvent := range recent {
		if err := writer.WriteEvent(dirEvent.Type(), dirEvent); err != nil {
			return
		}
	}
	runStream(r, writer, streamConfig[event.DirEvent]{
		Output:            output,
		EventName:         event.DirEvent.Type,
		HeartbeatInterval: h.HeartbeatInterval,
	})
}

func writeJSON(w http.ResponseWriter, logger *logging.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("debug response failed", map[string]string{
			"error": err.Error(),
		})
	}
}

func isFollow(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
