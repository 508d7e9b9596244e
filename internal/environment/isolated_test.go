package environment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// fakeProvisioner hands back a driver httptest.Server's URL as the
// tunnel URL, and records whether Teardown was called.
type fakeProvisioner struct {
	server      *httptest.Server
	provisionErr error
	torndown    bool
}

func (p *fakeProvisioner) Provision(ctx context.Context, sessionID string) (string, error) {
	if p.provisionErr != nil {
		return "", p.provisionErr
	}
	return p.server.URL, nil
}

func (p *fakeProvisioner) Teardown(ctx context.Context, sessionID string) error {
	p.torndown = true
	return nil
}

func newDriverServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/context", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		result := rlmtype.REPLResult{Success: true, Stdout: "ok"}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})
	mux.HandleFunc("/broker-status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestIsolatedEnvironment_SetupProvisionsAndDispatcherAddrReportsTunnel(t *testing.T) {
	driver := newDriverServer(t)
	defer driver.Close()

	prov := &fakeProvisioner{server: driver}
	cfg := DefaultIsolatedConfig()
	cfg.SessionID = "s1"
	cfg.PollInterval = time.Millisecond
	env := NewIsolatedEnvironment(cfg, prov, zap.NewNop())

	if err := env.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer env.Cleanup(context.Background())

	if env.DispatcherAddr().BrokerURL != driver.URL {
		t.Fatalf("expected dispatcher addr to report the tunnel URL, got %q", env.DispatcherAddr().BrokerURL)
	}
}

func TestIsolatedEnvironment_ExecuteCodeRoundTripsThroughDriver(t *testing.T) {
	driver := newDriverServer(t)
	defer driver.Close()

	prov := &fakeProvisioner{server: driver}
	cfg := DefaultIsolatedConfig()
	cfg.SessionID = "s2"
	env := NewIsolatedEnvironment(cfg, prov, zap.NewNop())

	if err := env.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer env.Cleanup(context.Background())

	result, err := env.ExecuteCode(context.Background(), "print(1)")
	if err != nil {
		t.Fatalf("ExecuteCode: %v", err)
	}
	if !result.Success || result.Stdout != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIsolatedEnvironment_CleanupTearsDownProvisionedSandboxAndIsIdempotent(t *testing.T) {
	driver := newDriverServer(t)
	defer driver.Close()

	prov := &fakeProvisioner{server: driver}
	env := NewIsolatedEnvironment(DefaultIsolatedConfig(), prov, zap.NewNop())

	if err := env.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := env.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if !prov.torndown {
		t.Fatal("expected Teardown to be called")
	}

	prov.torndown = false
	if err := env.Cleanup(context.Background()); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if prov.torndown {
		t.Fatal("expected a second Cleanup call to be a no-op, not re-teardown")
	}
}

func TestIsolatedEnvironment_SetupFailurePropagatesProvisionError(t *testing.T) {
	prov := &fakeProvisioner{provisionErr: context.DeadlineExceeded}
	env := NewIsolatedEnvironment(DefaultIsolatedConfig(), prov, zap.NewNop())

	err := env.Setup(context.Background())
	if err == nil {
		t.Fatal("expected Setup to fail when the provisioner fails")
	}

	// Cleanup after a failed Setup must not attempt to tear down an
	// environment that was never actually provisioned.
	if err := env.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup after failed Setup: %v", err)
	}
	if prov.torndown {
		t.Fatal("Teardown should not be called when provisioning never succeeded")
	}
}
