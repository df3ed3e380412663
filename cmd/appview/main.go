// ABOUTME: CLI entrypoint for the appview preview server.
// ABOUTME: Wires the config, upstream session, bridge, build orchestrator, and HTTP server together.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/appview/bridge"
	"github.com/2389-research/appview/build"
	"github.com/2389-research/appview/config"
	"github.com/2389-research/appview/session"
	"github.com/2389-research/appview/web"
)

var version = "dev"

// cliFlags holds command-line overrides layered on top of the config file.
type cliFlags struct {
	configPath  string
	addr        string
	targetsRoot string
	dataDir     string
	upstream    string
	upstreamURL string
	bridgeMode  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("appview %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(flags))
}

// parseFlags parses command-line flags.
func parseFlags() cliFlags {
	var flags cliFlags

	fs := flag.NewFlagSet("appview", flag.ContinueOnError)
	fs.StringVar(&flags.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&flags.addr, "addr", "", "Listen address (default: 127.0.0.1:4680)")
	fs.StringVar(&flags.targetsRoot, "targets", "", "Directory containing widget targets")
	fs.StringVar(&flags.dataDir, "data-dir", "", "Directory for build artifacts and state")
	fs.StringVar(&flags.upstream, "upstream", "", "Upstream MCP server command (stdio transport)")
	fs.StringVar(&flags.upstreamURL, "upstream-url", "", "Upstream MCP server URL (http transport)")
	fs.StringVar(&flags.bridgeMode, "bridge", "", "Bridge mode: proxy or direct")
	fs.BoolVar(&flags.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appview [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	return flags
}

// run loads config, wires the components, and serves until interrupted.
// Returns an exit code: 0 for success, 1 for failure.
func run(flags cliFlags) int {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, flags)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	mode, err := bridge.ParseMode(cfg.Bridge.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	dialer := &session.MCPDialer{
		Command:       cfg.Upstream.Command,
		Args:          cfg.Upstream.Args,
		URL:           cfg.Upstream.URL,
		ClientName:    "appview",
		ClientVersion: version,
	}

	sessionOpts := []session.ManagerOption{
		session.WithRetryPolicy(cfg.RetryPolicy()),
		session.WithConnectTimeout(cfg.Session.ConnectTimeout),
	}
	sessions := session.NewManager(dialer, sessionOpts...)
	defer sessions.Close()

	store, err := build.OpenStore(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	builds := build.NewOrchestrator(build.Config{
		TargetsRoot: cfg.Targets.Root,
		Command:     cfg.Build.Command,
		Env:         cfg.Build.Env,
		Timeout:     cfg.Build.Timeout,
	}, store, nil)
	if err := builds.Rehydrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: rehydrating artifact cache: %v\n", err)
		return 1
	}

	forwarder := bridge.New(mode, sessions, dialer, sessionOpts...)

	server, err := web.NewServer(web.ServerConfig{
		Addr:        cfg.Addr,
		Sessions:    sessions,
		Builds:      builds,
		Forwarder:   forwarder,
		TargetsRoot: cfg.Targets.Root,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Set up context with signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	printBanner(cfg, mode)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}

// applyFlags overlays non-empty command-line values onto the config.
func applyFlags(cfg *config.Config, flags cliFlags) {
	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.targetsRoot != "" {
		cfg.Targets.Root = flags.targetsRoot
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.upstream != "" {
		parts := strings.Fields(flags.upstream)
		cfg.Upstream.Transport = "stdio"
		cfg.Upstream.Command = parts[0]
		cfg.Upstream.Args = parts[1:]
		cfg.Upstream.URL = ""
	}
	if flags.upstreamURL != "" {
		cfg.Upstream.Transport = "http"
		cfg.Upstream.URL = flags.upstreamURL
		cfg.Upstream.Command = ""
		cfg.Upstream.Args = nil
	}
	if flags.bridgeMode != "" {
		cfg.Bridge.Mode = flags.bridgeMode
	}
}

// printBanner prints the startup summary.
func printBanner(cfg config.Config, mode bridge.Mode) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	upstream := cfg.Upstream.URL
	if cfg.Upstream.Transport == "stdio" {
		upstream = strings.TrimSpace(cfg.Upstream.Command + " " + strings.Join(cfg.Upstream.Args, " "))
	}

	fmt.Fprintln(os.Stderr, title.Render("appview "+version))
	fmt.Fprintf(os.Stderr, "%s http://%s\n", label.Render("listening"), cfg.Addr)
	fmt.Fprintf(os.Stderr, "%s %s (%s)\n", label.Render("upstream"), upstream, cfg.Upstream.Transport)
	fmt.Fprintf(os.Stderr, "%s %s\n", label.Render("bridge"), mode)
	fmt.Fprintf(os.Stderr, "%s %s\n", label.Render("targets"), cfg.Targets.Root)
}
