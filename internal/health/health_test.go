package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := func(context.Context) error { return nil }
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "vocabulary", Check: ok},
				{Name: "lm_store", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"vocabulary": "ok", "lm_store": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "vocabulary", Check: ok},
				{Name: "lm_store", Check: fail("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"vocabulary": "ok", "lm_store": "fail: connection refused"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "vocabulary", Check: fail("empty")},
				{Name: "lm_store", Check: fail("timeout")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"vocabulary": "fail: empty", "lm_store": "fail: timeout"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, body := readyz(t, New(tc.checkers...), context.Background())
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d", status, tc.wantStatus)
			}
			if body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsCheckersConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	both := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, _ := readyz(t, New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}), ctx)
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200 (checkers did not overlap)", status)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if status, _ := readyz(t, h, ctx); status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", status, http.StatusServiceUnavailable)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	t.Parallel()
	if err := PingChecker("lm_store", fakePinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy pinger: %v", err)
	}
	want := errors.New("no route")
	c := PingChecker("lm_store", fakePinger{err: want})
	if c.Name != "lm_store" || !errors.Is(c.Check(context.Background()), want) {
		t.Errorf("failing pinger: name=%q err=%v", c.Name, c.Check(context.Background()))
	}
}

func TestLoadedChecker(t *testing.T) {
	t.Parallel()
	var loaded atomic.Bool
	c := LoadedChecker("vocabulary", loaded.Load)

	if err := c.Check(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("before load: err = %v, want ErrNotLoaded", err)
	}
	loaded.Store(true)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("after load: %v", err)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}
