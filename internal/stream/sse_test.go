package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/aplab/internal/solver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// fakeJobs hands out a prepared channel per job id.
type fakeJobs struct {
	mu         sync.Mutex
	chans      map[string]chan solver.Job
	subscribed chan string
	stopped    int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		chans:      make(map[string]chan solver.Job),
		subscribed: make(chan string, 16),
	}
}

func (f *fakeJobs) add(id string, jobs ...solver.Job) chan solver.Job {
	ch := make(chan solver.Job, len(jobs)+1)
	for _, j := range jobs {
		ch <- j
	}
	f.mu.Lock()
	f.chans[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeJobs) Subscribe(id string) (<-chan solver.Job, func(), error) {
	f.mu.Lock()
	ch, ok := f.chans[id]
	f.mu.Unlock()
	if !ok {
		return nil, nil, solver.ErrJobNotFound
	}
	f.subscribed <- id
	return ch, func() {
		f.mu.Lock()
		f.stopped++
		f.mu.Unlock()
	}, nil
}

func TestJobEventsFormat(t *testing.T) {
	jobs := newFakeJobs()
	ch := jobs.add("abc",
		solver.Job{ID: "abc", State: solver.Running},
		solver.Job{ID: "abc", State: solver.Solved, Solution: &solver.Solution{RA: "05h35m17.3s"}},
	)
	close(ch)

	h := NewHandler(jobs, Config{KeepaliveInterval: time.Second}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/solve/abc/events", nil)
	req.SetPathValue("id", "abc")
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	h.HandleJobEvents(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}
	if ctx.Err() != nil {
		t.Error("handler should return when the job channel closes, not on timeout")
	}

	body := w.Body.String()
	var states []solver.State
	var sawRetry bool
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "", line == ":":
		case strings.HasPrefix(line, "retry: "):
			sawRetry = true
		case strings.HasPrefix(line, "data: "):
			var msg jobMessage
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				t.Fatalf("invalid JSON in data line: %v", err)
			}
			if msg.Type != "job" {
				t.Errorf("type = %q, want job", msg.Type)
			}
			states = append(states, msg.Job.State)
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	if !sawRetry {
		t.Error("missing retry directive")
	}
	if len(states) != 2 || states[0] != solver.Running || states[1] != solver.Solved {
		t.Errorf("states = %v, want [running solved]", states)
	}

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	if jobs.stopped != 1 {
		t.Errorf("stop called %d times, want 1", jobs.stopped)
	}
}

func TestJobEventsUnknownJob(t *testing.T) {
	h := NewHandler(newFakeJobs(), Config{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/solve/nope/events", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.HandleJobEvents(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if h.limiter.count("192.0.2.1") != 0 {
		t.Error("limiter slot not released after 404")
	}
}

func TestJobEventsRateLimit(t *testing.T) {
	jobs := newFakeJobs()
	jobs.add("held")
	h := NewHandler(jobs, Config{MaxConcurrentPerIP: 1, KeepaliveInterval: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/solve/held/events", nil).WithContext(ctx)
		req.SetPathValue("id", "held")
		req.RemoteAddr = "10.0.0.1:12345"
		h.HandleJobEvents(httptest.NewRecorder(), req)
	}()

	select {
	case <-jobs.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("first stream never subscribed")
	}

	req := httptest.NewRequest("GET", "/api/v1/solve/held/events", nil)
	req.SetPathValue("id", "held")
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.HandleJobEvents(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", w.Header().Get("Retry-After"))
	}

	cancel()
	<-done
	if c := h.limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after disconnect = %d, want 0", c)
	}
}

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2, 3)

	if !l.acquire("a") || !l.acquire("a") {
		t.Fatal("first two acquires should succeed")
	}
	if l.acquire("a") {
		t.Error("per-IP cap not enforced")
	}
	if !l.acquire("b") {
		t.Error("different IP should not be limited")
	}
	if l.acquire("c") {
		t.Error("total cap not enforced")
	}

	l.release("a")
	if !l.acquire("c") {
		t.Error("acquire after release should succeed")
	}
	if c := l.count("a"); c != 1 {
		t.Errorf("count(a) = %d, want 1", c)
	}
}

func TestConnLimiterConcurrent(t *testing.T) {
	l := newConnLimiter(100, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.acquire("10.0.0.1") {
				defer l.release("10.0.0.1")
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := l.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

func TestKeepaliveFormat(t *testing.T) {
	w := httptest.NewRecorder()
	ew := &eventWriter{w: w, flusher: w, rc: http.NewResponseController(w), logger: testLogger()}
	if err := ew.keepalive(); err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	if got := w.Body.String(); got != ":\n\n" {
		t.Errorf("keepalive = %q, want %q", got, ":\n\n")
	}
	if ew.bytes != 3 {
		t.Errorf("bytes = %d, want 3", ew.bytes)
	}
}
