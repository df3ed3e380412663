// ABOUTME: Bridge mode selection: how widget tool calls reach the upstream server.
// ABOUTME: Proxy mode shares the process-wide session; direct mode owns a dedicated one.
package bridge

import (
	"context"
	"fmt"

	"github.com/2389-research/appview/session"
)

// Mode identifies the forwarding strategy, chosen once at startup.
type Mode string

const (
	// ModeProxy routes widget calls through the shared preview session.
	ModeProxy Mode = "proxy"
	// ModeDirect gives the bridge its own upstream session, matching the
	// behavior of a directly-compiled WASM bridge channel.
	ModeDirect Mode = "direct"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeProxy, ModeDirect:
		return Mode(s), nil
	case "":
		return ModeProxy, nil
	default:
		return "", fmt.Errorf("unknown bridge mode %q (want %q or %q)", s, ModeProxy, ModeDirect)
	}
}

// Forwarder sends a widget tool call upstream. Both modes are behaviorally
// equivalent from the handler's point of view.
type Forwarder interface {
	Forward(ctx context.Context, req *session.ForwardRequest) (*session.ForwardResponse, error)
	Mode() Mode
}

// proxyForwarder delegates to the shared session manager.
type proxyForwarder struct {
	mgr *session.Manager
}

func (f *proxyForwarder) Forward(ctx context.Context, req *session.ForwardRequest) (*session.ForwardResponse, error) {
	return f.mgr.Forward(ctx, req)
}

func (f *proxyForwarder) Mode() Mode { return ModeProxy }

// directForwarder owns a private session manager, isolated from the shared
// preview session.
type directForwarder struct {
	mgr *session.Manager
}

func (f *directForwarder) Forward(ctx context.Context, req *session.ForwardRequest) (*session.ForwardResponse, error) {
	return f.mgr.Forward(ctx, req)
}

func (f *directForwarder) Mode() Mode { return ModeDirect }

// New builds the forwarder for the configured mode. Proxy mode reuses shared;
// direct mode constructs its own manager from dialer with the same options.
func New(mode Mode, shared *session.Manager, dialer session.Dialer, opts ...session.ManagerOption) Forwarder {
	switch mode {
	case ModeDirect:
		return &directForwarder{mgr: session.NewManager(dialer, opts...)}
	default:
		return &proxyForwarder{mgr: shared}
	}
}

var _ Forwarder = (*proxyForwarder)(nil)
var _ Forwarder = (*directForwarder)(nil)
