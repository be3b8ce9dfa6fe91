package debugapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultRetryInterval     = 5 * time.Second
)

var errNoFlusher = errors.New("sse response writer does not support flushing")

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-store")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	flusher.Flush()
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (writer *sseWriter) WriteRetry(retry time.Duration) error {
	if retry <= 0 {
		return nil
	}
	if _, err := io.WriteString(writer.writer, "retry: "+strconv.FormatInt(retry.Milliseconds(), 10)+"\n\n"); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

func (writer *sseWriter) WriteComment(comment string) error {
	if _, err := io.WriteString(writer.writer, ": "+strings.TrimSpace(comment)+"\n\n"); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

// WriteEvent sends payload as JSON, split over data lines.
func (writer *sseWriter) WriteEvent(eventName string, payload any) error {
	if eventName != "" {
		if _, err := io.WriteString(writer.writer, "event: "+eventName+"\n"); err != nil {
			return err
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, err := io.WriteString(writer.writer, "data: "); err != nil {
			return err
		}
		if _, err := writer.writer.Write(line); err != nil {
			return err
		}
		if _, err := io.WriteString(writer.writer, "\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(writer.writer, "\n"); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

type streamConfig[T any] struct {
	Output            <-chan T
	Allow             func(T) bool
	EventName         func(T) string
	HeartbeatInterval time.Duration
}

// runStream forwards Output until the client goes away or Output closes,
// with a comment line as heartbeat.
func runStream[T any](r *http.Request, writer *sseWriter, config streamConfig[T]) {
	heartbeat := config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writer.WriteComment("ping"); err != nil {
				return
			}
		case value, ok := <-config.Output:
			if !ok {
				return
			}
			if config.Allow != nil && !config.Allow(value) {
				continue
			}
			name := ""
			if config.EventName != nil {
				name = config.EventName(value)
			}
			if err := writer.WriteEvent(name, value); err != nil {
				return
			}
		}
	}
}
