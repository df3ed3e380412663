// ABOUTME: Tests for the MCP-backed dialer against a real in-process go-sdk server.
// ABOUTME: Covers connect-then-forward surviving the dial timeout, error classification, and transport selection.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Text string `json:"text"`
}

// newUpstreamURL starts an in-process streamable-HTTP MCP server with one
// well-behaved tool and one that always reports a tool-level error.
func newUpstreamURL(t *testing.T) string {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "upstream-test", Version: "v0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo"}, func(ctx context.Context, req *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: args.Text}},
		}, nil, nil
	})
	mcp.AddTool(server, &mcp.Tool{Name: "explode"}, func(ctx context.Context, req *mcp.CallToolRequest, args echoArgs) (*mcp.CallToolResult, any, error) {
		return nil, nil, fmt.Errorf("tool blew up")
	})

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	httpSrv := httptest.NewServer(handler)
	t.Cleanup(httpSrv.Close)
	return httpSrv.URL
}

// The connect loop dials on a context that is cancelled as soon as Dial
// returns. The connection must stay usable afterwards: the dial context
// bounds the handshake, not the session.
func TestMCPDialerForwardSurvivesDialTimeout(t *testing.T) {
	dialer := &MCPDialer{URL: newUpstreamURL(t)}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := dialer.Dial(dialCtx)
	cancel()
	if err != nil {
		t.Fatalf("failed to dial upstream: %v", err)
	}
	defer conn.Close()

	resp, err := conn.Call(context.Background(), &ForwardRequest{
		Tool:      "echo",
		Arguments: []byte(`{"text":"still here"}`),
	})
	if err != nil {
		t.Fatalf("forward after dial-context cancel failed: %v", err)
	}
	if !strings.Contains(string(resp.Body), "still here") {
		t.Errorf("expected echoed text in response, got %s", resp.Body)
	}
}

// A stdio upstream is spawned per connection and torn down by Close. Binding
// the subprocess to the dial context would kill the server the moment the
// connect loop cancels that context, so the command must not be context-bound.
func TestMCPDialerStdioCommandOutlivesDialContext(t *testing.T) {
	dialer := &MCPDialer{Command: "upstream-server", Args: []string{"--stdio"}}

	transport, err := dialer.transport()
	if err != nil {
		t.Fatalf("failed to build transport: %v", err)
	}
	ct, ok := transport.(*mcp.CommandTransport)
	if !ok {
		t.Fatalf("expected CommandTransport, got %T", transport)
	}
	if ct.Command.Cancel != nil {
		t.Error("stdio command is bound to a context; cancelling the dial would kill the server")
	}
	if ct.Command.Path == "" || len(ct.Command.Args) != 2 {
		t.Errorf("unexpected command: %v", ct.Command.Args)
	}
}

func TestMCPDialerToolErrorIsProtocolError(t *testing.T) {
	dialer := &MCPDialer{URL: newUpstreamURL(t)}

	conn, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("failed to dial upstream: %v", err)
	}
	defer conn.Close()

	_, err = conn.Call(context.Background(), &ForwardRequest{
		Tool:      "explode",
		Arguments: []byte(`{"text":"x"}`),
	})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError for in-band tool failure, got %v", err)
	}

	// The connection is still healthy after a protocol-level failure.
	if _, err := conn.Call(context.Background(), &ForwardRequest{
		Tool:      "echo",
		Arguments: []byte(`{"text":"alive"}`),
	}); err != nil {
		t.Errorf("expected connection to survive tool error, got %v", err)
	}
}

func TestMCPDialerUnreachableUpstreamIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	dialer := &MCPDialer{URL: srv.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := dialer.Dial(ctx)
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !cerr.IsRetryable() {
		t.Error("expected unreachable upstream to be retryable")
	}
}

func TestMCPDialerTransportSelection(t *testing.T) {
	tests := []struct {
		name    string
		dialer  MCPDialer
		wantErr bool
	}{
		{"stdio", MCPDialer{Command: "srv"}, false},
		{"http", MCPDialer{URL: "http://localhost:1"}, false},
		{"both set", MCPDialer{Command: "srv", URL: "http://localhost:1"}, true},
		{"neither set", MCPDialer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.dialer.transport()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
