// ABOUTME: MCP-backed upstream dialer and connection on the official go-sdk client.
// ABOUTME: Supports stdio (spawned command) and streamable HTTP transports; classifies call failures.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDialer dials the backend MCP server the preview proxies for. Exactly one
// of Command or URL must be set: Command spawns a stdio server per connection,
// URL connects over streamable HTTP.
type MCPDialer struct {
	// Command and Args spawn a stdio MCP server (e.g. "node server.js").
	Command string
	Args    []string

	// URL is the endpoint of a streamable-HTTP MCP server.
	URL string

	// HTTPClient overrides the default client for HTTP transports.
	HTTPClient *http.Client

	// ClientName and ClientVersion identify the preview server to upstream.
	ClientName    string
	ClientVersion string
}

// Dial establishes a fresh MCP client session.
func (d *MCPDialer) Dial(ctx context.Context) (Conn, error) {
	name := d.ClientName
	if name == "" {
		name = "appview"
	}
	version := d.ClientVersion
	if version == "" {
		version = "dev"
	}

	transport, err := d.transport()
	if err != nil {
		return nil, &ConnectionError{Message: "building upstream transport", Cause: err, Retryable: false}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: name, Version: version}, nil)
	sess, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, &ConnectionError{Message: "connecting to upstream MCP server", Cause: err, Retryable: true}
	}

	return &mcpConn{sess: sess}, nil
}

func (d *MCPDialer) transport() (mcp.Transport, error) {
	switch {
	case d.Command != "" && d.URL != "":
		return nil, fmt.Errorf("upstream command and URL are mutually exclusive")
	case d.Command != "":
		// The dial context bounds only the MCP handshake. The spawned server
		// must outlive it, so the command is deliberately not context-bound;
		// Close tears the process down with the session.
		cmd := exec.Command(d.Command, d.Args...)
		return &mcp.CommandTransport{Command: cmd}, nil
	case d.URL != "":
		return &mcp.StreamableClientTransport{Endpoint: d.URL, HTTPClient: d.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("no upstream configured: set command or url")
	}
}

// mcpConn wraps a live ClientSession as an opaque request/response channel.
type mcpConn struct {
	sess *mcp.ClientSession
}

const livenessProbeTimeout = 2 * time.Second

// Call forwards a tool call and returns the full result marshaled as opaque
// JSON. Failures are classified by probing the session: if a ping still
// succeeds the error was protocol-level and the connection stays usable.
func (c *mcpConn) Call(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	params := &mcp.CallToolParams{Name: req.Tool}
	if len(req.Arguments) > 0 {
		params.Arguments = json.RawMessage(req.Arguments)
	}

	result, err := c.sess.CallTool(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ConnectionError{Message: "upstream call " + req.Tool, Cause: ctx.Err(), Retryable: true}
		}
		return nil, c.classify(req.Tool, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, &ProtocolError{Message: "encoding upstream result for " + req.Tool, Cause: err}
	}
	if result.IsError {
		// Tool-level failure reported in-band; the connection is healthy.
		return nil, &ProtocolError{Message: "upstream tool " + req.Tool + " reported an error", Raw: body}
	}

	return &ForwardResponse{Body: body}, nil
}

func (c *mcpConn) Close() error {
	return c.sess.Close()
}

// classify distinguishes a broken transport from a protocol-level rejection
// by pinging the session on a short deadline.
func (c *mcpConn) classify(tool string, callErr error) error {
	probeCtx, cancel := context.WithTimeout(context.Background(), livenessProbeTimeout)
	defer cancel()

	if pingErr := c.sess.Ping(probeCtx, nil); pingErr != nil {
		return &ConnectionError{Message: "upstream connection lost during " + tool, Cause: callErr, Retryable: true}
	}
	return &ProtocolError{Message: "upstream rejected " + tool, Cause: callErr}
}

var _ Dialer = (*MCPDialer)(nil)
var _ Conn = (*mcpConn)(nil)
