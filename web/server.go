// ABOUTME: Preview HTTP server wiring session, build, and bridge endpoints behind a chi router.
// ABOUTME: Handlers translate requests into Session Manager / Build Orchestrator calls; no state lives here.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/appview/bridge"
	"github.com/2389-research/appview/build"
	"github.com/2389-research/appview/session"
)

// Server is the appview preview HTTP server.
type Server struct {
	router      chi.Router
	addr        string
	sessions    *session.Manager
	builds      *build.Orchestrator
	forwarder   bridge.Forwarder
	targetsRoot string
}

// ServerConfig holds the collaborators the server mediates between.
type ServerConfig struct {
	Addr        string // listen address (default: "127.0.0.1:4680")
	Sessions    *session.Manager
	Builds      *build.Orchestrator
	Forwarder   bridge.Forwarder
	TargetsRoot string
}

// NewServer creates the preview server and sets up routing.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:4680"
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("Sessions must not be nil")
	}
	if cfg.Builds == nil {
		return nil, fmt.Errorf("Builds must not be nil")
	}
	if cfg.Forwarder == nil {
		return nil, fmt.Errorf("Forwarder must not be nil")
	}

	s := &Server{
		addr:        cfg.Addr,
		sessions:    cfg.Sessions,
		builds:      cfg.Builds,
		forwarder:   cfg.Forwarder,
		targetsRoot: cfg.TargetsRoot,
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server with timeouts that tolerate
// long-lived SSE streams without letting slow clients pin readers.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return srv.ListenAndServe()
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/bootstrap", s.handleBootstrap)
		r.Post("/forward", s.handleForward)

		r.Route("/session", func(r chi.Router) {
			r.Get("/status", s.handleSessionStatus)
			r.Post("/reconnect", s.handleReconnect)
		})

		r.Route("/targets/{targetID}", func(r chi.Router) {
			r.Post("/build", s.handleBuildTrigger)
			r.Get("/build", s.handleBuildStatus)
			r.Get("/artifact", s.handleArtifact)
			r.Get("/events", s.handleBuildEvents)
		})
	})

	r.Get("/targets/{targetID}/docs", s.handleDocs)

	return r
}

// handleHealth returns a JSON health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBootstrap tells the widget loader which bridge mode is active and
// where the session endpoints live.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bridge_mode": s.forwarder.Mode(),
		"endpoints": map[string]string{
			"forward":   "/api/forward",
			"status":    "/api/session/status",
			"reconnect": "/api/session/reconnect",
		},
	})
}

// handleSessionStatus returns the session snapshot without blocking on any
// in-flight connect.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleReconnect forces a new upstream connect attempt and reports the
// resulting state.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	state := s.sessions.Reconnect(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// forwardPayload is the opaque tool call accepted from the widget.
type forwardPayload struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// handleForward bridges a widget tool call to the upstream server.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var payload forwardPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "request", "tool name is required")
		return
	}

	resp, err := s.forwarder.Forward(r.Context(), &session.ForwardRequest{
		Tool:      payload.Name,
		Arguments: payload.Arguments,
	})
	if err != nil {
		var perr *session.ProtocolError
		if errors.As(err, &perr) {
			writeError(w, http.StatusUnprocessableEntity, "protocol", perr.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "connection", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		log.Printf("web: writing forward response: %v", err)
	}
}

// handleBuildTrigger starts or joins a build and returns the job snapshot
// immediately; it never waits for the build to finish.
func (s *Server) handleBuildTrigger(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")

	handle, err := s.builds.Trigger(targetID)
	if err != nil {
		if errors.Is(err, build.ErrUnknownTarget) {
			writeError(w, http.StatusNotFound, "target", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "target", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, handle.Snapshot())
}

// handleBuildStatus returns the current build status, including error detail
// when the last job failed. A target with no job yet reads as not_started.
func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")

	snap, ok := s.builds.Status(targetID)
	if !ok {
		writeJSON(w, http.StatusOK, build.Snapshot{
			TargetID: targetID,
			Status:   build.StatusNotStarted,
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleArtifact streams the cached artifact bytes, or a structured
// not-ready/failed response.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")

	ref, err := s.builds.Artifact(targetID)
	if err != nil {
		if errors.Is(err, build.ErrCacheMiss) {
			writeJSON(w, http.StatusTooEarly, map[string]string{
				"status":  "not_ready",
				"message": "no successful build for target " + targetID,
			})
			return
		}
		var buildErr *build.BuildError
		if errors.As(err, &buildErr) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status": "failed",
				"error":  buildErr,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "artifact", err.Error())
		return
	}

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Trim(match, `"`) == ref.ContentHash {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	f, err := openArtifact(ref.Path)
	if err != nil {
		log.Printf("web: opening artifact target=%s: %v", targetID, err)
		writeError(w, http.StatusInternalServerError, "artifact", "artifact unreadable")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/wasm")
	w.Header().Set("ETag", `"`+ref.ContentHash+`"`)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", ref.SizeBytes))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("web: streaming artifact target=%s: %v", targetID, err)
	}
}

// handleBuildEvents streams build lifecycle events for a target as SSE,
// starting with the retained history.
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")

	history, events, unsubscribe := s.builds.Subscribe(targetID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for _, evt := range history {
		fmt.Fprint(w, formatSSE(evt))
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprint(w, formatSSE(evt))
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encoding response: %v", err)
	}
}

// writeError writes a structured error payload.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{
		"error":   kind,
		"message": message,
	})
}

// isMaxBytesError reports whether err (or any error in its chain) is an
// *http.MaxBytesError.
func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
