package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/aplab/internal/metrics"
)

// writeTimeout bounds each write on a long-lived stream.
const writeTimeout = 30 * time.Second

// eventWriter writes SSE frames to one connection.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger

	messages int64
	bytes    int64
}

func (e *eventWriter) extendDeadline() {
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		e.logger.Debug("could not set write deadline", "error", err)
	}
}

// send writes v as a data message: "data: {json}\n\n".
func (e *eventWriter) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	e.extendDeadline()
	n, err := fmt.Fprintf(e.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	e.flusher.Flush()

	e.messages++
	e.bytes += int64(n)
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
	return nil
}

// retry tells the browser how long to wait before reconnecting.
func (e *eventWriter) retry(ms int) error {
	n, err := fmt.Fprintf(e.w, "retry: %d\n\n", ms)
	if err != nil {
		return err
	}
	e.flusher.Flush()
	e.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	return nil
}

// keepalive writes an SSE comment.
func (e *eventWriter) keepalive() error {
	e.extendDeadline()
	n, err := fmt.Fprint(e.w, ":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	e.flusher.Flush()
	e.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	return nil
}
