// Package stream implements Server-Sent Events for plate solve jobs.
// Clients connect via GET /api/v1/solve/{id}/events and receive the job's
// state on connect and after every change:
//
//	data: {"type":"job","job":{"id":"...","state":"running",...}}\n\n
//
// The stream closes after a terminal state (solved, failed, cancelled).
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval.
package stream

import (
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/metrics"
	"github.com/star/aplab/internal/solver"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // default 10
	MaxTotal           int           // default 1000
	KeepaliveInterval  time.Duration // default 15s
	TrustProxy         bool
}

// Jobs is the part of the solver the stream needs.
type Jobs interface {
	Subscribe(id string) (<-chan solver.Job, func(), error)
}

// Handler serves job event streams.
type Handler struct {
	jobs    Jobs
	config  Config
	limiter *connLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler.
func NewHandler(jobs Jobs, config Config, logger *slog.Logger) *Handler {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}
	return &Handler{
		jobs:    jobs,
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger.With("component", "stream"),
	}
}

type jobMessage struct {
	Type string     `json:"type"`
	Job  solver.Job `json:"job"`
}

// HandleJobEvents serves GET /api/v1/solve/{id}/events.
func (h *Handler) HandleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ip := httputil.ClientIP(r, h.config.TrustProxy)

	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream limit exceeded", "remote_ip", ip, "current_count", h.limiter.count(ip))
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	updates, stop, err := h.jobs.Subscribe(id)
	if err != nil {
		if errors.Is(err, solver.ErrJobNotFound) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer stop()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	start := time.Now()
	h.logger.Info("stream connected", "remote_ip", ip, "job_id", id, "user_agent", r.Header.Get("User-Agent"))

	ew := &eventWriter{w: w, flusher: flusher, rc: http.NewResponseController(w), logger: h.logger}
	defer func() {
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"job_id", id,
			"messages", ew.messages,
			"bytes", ew.bytes,
			"duration_seconds", int(time.Since(start).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived: drop the server's write timeout for this connection.
	if err := ew.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered 3-7s reconnect delay so restarts do not cause a stampede.
	if err := ew.retry(3000 + rand.Intn(4000)); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case job, ok := <-updates:
			if !ok {
				metrics.IncStreamConnections("complete")
				return
			}
			if err := ew.send(jobMessage{Type: "job", Job: job}); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := ew.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}
