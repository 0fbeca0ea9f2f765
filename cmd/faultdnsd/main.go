package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/haukened/faultdns/internal/dns/common/clock"
	"github.com/haukened/faultdns/internal/dns/common/log"
	"github.com/haukened/faultdns/internal/dns/config"
	"github.com/haukened/faultdns/internal/dns/domain"
	"github.com/haukened/faultdns/internal/dns/gateways/transport"
	"github.com/haukened/faultdns/internal/dns/repos/exchanges"
	"github.com/haukened/faultdns/internal/dns/services/responder"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "faultdnsd"

	defaultShutdownTimeout = 5 * time.Second
)

// Application holds all the components of the fault server
type Application struct {
	config    *config.AppConfig
	mode      domain.FaultMode
	history   *exchanges.History
	transport *transport.UDPTransport
	responder *responder.Responder
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 && isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	app, err := buildApplication(cfg)
	if err != nil {
		exitWithError(map[string]any{"error": err}, "Failed to build application")
	}

	log.Info(map[string]any{
		"version":      version,
		"env":          cfg.Env,
		"log_level":    cfg.LogLevel,
		"address":      cfg.Address(),
		"mode":         app.mode.String(),
		"history_size": cfg.HistorySize,
	}, "Starting fault DNS server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		exitWithError(map[string]any{"error": err}, "Server failed")
	}

	log.Info(map[string]any{
		"handled": app.history.Total(),
	}, "Fault DNS server stopped")
}

// exitWithError logs at Error, flushes the logger and exits with status 1.
// log.Fatal would exit before the deferred Sync in main runs.
func exitWithError(fields map[string]any, msg string) {
	log.Error(fields, msg)
	_ = log.Sync()
	os.Exit(1)
}

// resolveMode maps the configured mode name onto the registry. Unknown names
// fall back to well-formed responses.
func resolveMode(name string) domain.FaultMode {
	mode, known := domain.ParseFaultMode(name)
	if !known {
		log.Debug(map[string]any{
			"requested": name,
			"mode":      mode.String(),
		}, "Unrecognized fault mode, serving well-formed responses")
	}
	return mode
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	mode := resolveMode(cfg.Mode)

	historySize := cfg.HistorySize
	if historySize > uint(^uint(0)>>1) {
		return nil, fmt.Errorf("history size too large: %d (max %d)", historySize, ^uint(0)>>1)
	}
	history, err := exchanges.New(int(historySize))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange history: %w", err)
	}

	resp := responder.New(responder.Options{
		Clock:   clock.RealClock{},
		History: history,
		Logger:  logger,
		Mode:    mode,
	})

	return &Application{
		config:    cfg,
		mode:      mode,
		history:   history,
		transport: transport.NewUDPTransport(cfg.Address(), logger),
		responder: resp,
	}, nil
}

// Run starts the fault server and blocks until ctx is cancelled. A bind
// failure is returned immediately.
func (app *Application) Run(ctx context.Context) error {
	if err := app.transport.Start(ctx, app.responder); err != nil {
		return fmt.Errorf("failed to start UDP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "UDP",
		"mode":      app.mode.String(),
	}, "Fault DNS server running")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	done := make(chan error, 1)
	go func() {
		done <- app.transport.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err}, "Error during transport shutdown")
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}

func isHelp(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [mode]\n\n", appName)
	fmt.Fprintf(w, "Answers every UDP request with a 12-byte DNS header faulted by mode (default %q).\n", domain.ModeGood)
	fmt.Fprintf(w, "Unknown modes behave like %q.\n\nmodes:\n", domain.ModeGood)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range domain.Modes() {
		fmt.Fprintf(tw, "  %s\t%s\n", m, m.Description())
	}
	_ = tw.Flush()

	fmt.Fprintln(w, "\nenvironment: DNS_ENV, DNS_LOG_LEVEL, DNS_HOST, DNS_PORT, DNS_MODE, DNS_HISTORY_SIZE")
}
