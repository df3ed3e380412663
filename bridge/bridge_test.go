// ABOUTME: Tests for bridge mode parsing and forwarder selection/isolation.
package bridge

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/2389-research/appview/session"
)

type countingConn struct{}

func (countingConn) Call(ctx context.Context, req *session.ForwardRequest) (*session.ForwardResponse, error) {
	return &session.ForwardResponse{Body: []byte(`{}`)}, nil
}

func (countingConn) Close() error { return nil }

type countingDialer struct {
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context) (session.Conn, error) {
	d.dials.Add(1)
	return countingConn{}, nil
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"proxy", ModeProxy, false},
		{"direct", ModeDirect, false},
		{"", ModeProxy, false},
		{"wasm", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProxyModeSharesSession(t *testing.T) {
	dialer := &countingDialer{}
	shared := session.NewManager(dialer)
	defer shared.Close()

	f := New(ModeProxy, shared, dialer)
	if f.Mode() != ModeProxy {
		t.Fatalf("expected mode %q, got %q", ModeProxy, f.Mode())
	}

	if _, err := f.Forward(context.Background(), &session.ForwardRequest{Tool: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The shared manager connected; the proxy forwarder did not dial its own.
	if shared.State() != session.StateConnected {
		t.Errorf("expected shared manager connected, got %s", shared.State())
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("expected 1 dial, got %d", got)
	}
}

func TestDirectModeOwnsSession(t *testing.T) {
	sharedDialer := &countingDialer{}
	shared := session.NewManager(sharedDialer)
	defer shared.Close()

	directDialer := &countingDialer{}
	f := New(ModeDirect, shared, directDialer)
	if f.Mode() != ModeDirect {
		t.Fatalf("expected mode %q, got %q", ModeDirect, f.Mode())
	}

	if _, err := f.Forward(context.Background(), &session.ForwardRequest{Tool: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := directDialer.dials.Load(); got != 1 {
		t.Errorf("expected direct forwarder to dial once, got %d", got)
	}
	if got := sharedDialer.dials.Load(); got != 0 {
		t.Errorf("expected shared manager untouched, got %d dials", got)
	}
	if shared.State() != session.StateDisconnected {
		t.Errorf("expected shared manager %s, got %s", session.StateDisconnected, shared.State())
	}
}
