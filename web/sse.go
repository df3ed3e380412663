// ABOUTME: Server-sent-events encoding for build lifecycle notifications.
// ABOUTME: Keeps the wire format in one place so handlers and tests agree on it.
package web

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/2389-research/appview/build"
)

// formatSSE encodes a build event as a server-sent-events frame. The event
// name carries the lifecycle type so browser EventSource listeners can
// subscribe per type.
func formatSSE(evt build.Event) string {
	data, err := json.Marshal(evt)
	if err != nil {
		// Event structs are plain data; this should not happen.
		data = []byte(`{}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, data)
}

// openArtifact opens an artifact file for streaming.
func openArtifact(path string) (*os.File, error) {
	return os.Open(path)
}
