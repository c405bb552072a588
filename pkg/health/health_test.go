package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	stateNameStarting = "starting"
	stateNameReady    = "ready"
	stateNameDraining = "draining"
	probeDatabase     = "database"
	probeSessions     = "sessions"
	goroutineCount    = 50
)

func okProbe(context.Context) error { return nil }

func readyz(t *testing.T, hc *Checker) (int, healthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	hc.ReadinessHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))

	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w.Code, resp
}

func TestStateTransitions(t *testing.T) {
	hc := NewChecker()
	if hc.State() != stateNameStarting || hc.IsReady() {
		t.Fatalf("initial state = %q, want %s", hc.State(), stateNameStarting)
	}

	hc.SetReady()
	if hc.State() != stateNameReady || !hc.IsReady() {
		t.Fatalf("after SetReady() = %q, want %s", hc.State(), stateNameReady)
	}

	hc.SetDraining()
	if hc.State() != stateNameDraining || hc.IsReady() {
		t.Fatalf("after SetDraining() = %q, want %s", hc.State(), stateNameDraining)
	}
}

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	hc := NewChecker()
	hc.AddProbe(probeDatabase, func(context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	hc.LivenessHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadinessHandler_FollowsState(t *testing.T) {
	hc := NewChecker()

	tests := []struct {
		name       string
		setup      func()
		wantCode   int
		wantStatus string
	}{
		{stateNameStarting, func() { hc.state.Store(stateStarting) }, http.StatusServiceUnavailable, stateNameStarting},
		{stateNameReady, hc.SetReady, http.StatusOK, stateNameReady},
		{stateNameDraining, hc.SetDraining, http.StatusServiceUnavailable, stateNameDraining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			code, resp := readyz(t, hc)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("body status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestReadinessHandler_Probes(t *testing.T) {
	hc := NewChecker()
	hc.SetReady()
	hc.AddProbe(probeSessions, okProbe)

	code, resp := readyz(t, hc)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp.Checks[probeSessions] != "ok" {
		t.Errorf("checks[%s] = %q, want ok", probeSessions, resp.Checks[probeSessions])
	}

	hc.AddProbe(probeDatabase, func(context.Context) error { return errors.New("connection refused") })

	code, resp = readyz(t, hc)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if resp.Status != "degraded" {
		t.Errorf("body status = %q, want degraded", resp.Status)
	}
	if resp.Checks[probeDatabase] != "connection refused" {
		t.Errorf("checks[%s] = %q", probeDatabase, resp.Checks[probeDatabase])
	}
}

func TestCheck_ProbeHonorsTimeout(t *testing.T) {
	hc := NewChecker()
	hc.timeout = 0
	hc.AddProbe(probeDatabase, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	checks, ok := hc.Check(context.Background())
	if ok {
		t.Fatal("Check() ok = true, want false for an expired probe")
	}
	if checks[probeDatabase] == "ok" {
		t.Error("expired probe reported ok")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hc := NewChecker()

	var wg sync.WaitGroup
	wg.Add(goroutineCount * 3)

	for range goroutineCount {
		go func() {
			defer wg.Done()
			hc.SetReady()
		}()
		go func() {
			defer wg.Done()
			hc.AddProbe(probeSessions, okProbe)
		}()
		go func() {
			defer wg.Done()
			_, _ = hc.Check(context.Background())
			_ = hc.State()
		}()
	}

	wg.Wait()
}
