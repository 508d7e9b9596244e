// Package environment implements C6: a uniform setup/load_context/
// execute_code/cleanup surface over two radically different
// executors — a local subprocess sandbox, and a remote cloud sandbox
// reached only through an HTTP tunnel.
package environment

import (
	"context"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Environment is the interface both variants satisfy. Cleanup must be
// idempotent and must release every external resource the
// implementation acquired (sockets, subprocess handles, remote
// sandboxes, poller goroutines) on every exit path, including a
// partially-failed Setup.
type Environment interface {
	Setup(ctx context.Context) error
	LoadContext(ctx context.Context, payload map[string]any) error
	ExecuteCode(ctx context.Context, code string) (rlmtype.REPLResult, error)
	Cleanup(ctx context.Context) error
}

// DispatcherAddr is where an Environment's generated sandbox code
// reaches the recursive-call dispatcher (C8): a TCP address in
// non-isolated mode, an HTTP broker URL in isolated mode. Both
// variants accept it as configuration rather than discovering it,
// matching §9's "replace the global client singleton with an explicit
// handle" design note.
type DispatcherAddr struct {
	// TCPAddr is set for the non-isolated variant: the LM Handler's
	// own listen address, dialed directly by generated code.
	TCPAddr string
	// BrokerURL is set for the isolated variant: the sandbox broker's
	// base URL as the host reaches it (the provisioned tunnel URL).
	BrokerURL string
}
