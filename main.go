package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
	"github.com/rhoxy/rhoxy/rhoxy-srv/guard"
	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"
	"github.com/rhoxy/rhoxy/rhoxy-srv/proxy"
	"github.com/rhoxy/rhoxy/rhoxy-srv/resolver"
	"github.com/rhoxy/rhoxy/rhoxy-srv/stats"
)

var version string

func main() {
	os.Exit(run())
}

// run parses flags, builds the server, and blocks until a clean shutdown
// or a startup failure. Its return value becomes the process exit code.
func run() int {
	host := flag.String("host", "127.0.0.1", "Address to listen on")
	port := flag.Int("port", 8080, "Port to listen on")
	flag.IntVar(port, "p", 8080, "Port to listen on (shorthand)")
	verbose := flag.Bool("verbose", false, "Enable debug-level logging")
	configPath := flag.String("config", "", "Path to configuration file (.json or .hcl)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "V", false, "Print version and exit (shorthand)")
	flag.Parse()

	if *showVersion {
		if version == "" {
			version = "dev"
		}
		fmt.Println("rhoxy version:", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	if flagPassed("host") {
		cfg.Host = *host
	}
	if flagPassed("port") || flagPassed("p") {
		cfg.Port = *port
	}
	if *verbose {
		cfg.Verbose = true
	}
	if cfg.Verbose {
		logger.SetLevel(logger.DEBUG)
	}

	server, err := buildServer(cfg)
	if err != nil {
		logger.Error("Failed to start proxy: %v", err)
		return 1
	}

	logger.Info("rhoxy listening on %s", server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal %v, draining", sig)
		cancel()
	}()

	if err := server.Serve(ctx); err != nil {
		logger.Error("proxy server error: %v", err)
		return 1
	}
	logger.Info("rhoxy shutdown complete")
	return 0
}

// flagPassed reports whether name was explicitly set on the command line,
// so an unset flag's default never overrides a value loaded from a config
// file.
func flagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// buildServer wires the guard, dialer, statistics collector and dispatcher
// from cfg into a ready-to-serve proxy.Server.
func buildServer(cfg *config.Config) (*proxy.Server, error) {
	var res guard.Resolver
	if cfg.DNS.Enabled {
		r, err := resolver.NewResolver(cfg.DNS)
		if err != nil {
			return nil, fmt.Errorf("building custom resolver: %w", err)
		}
		res = r
	}
	g := guard.New(res)

	dialer, err := proxy.NewDialer(g, cfg.Forwards, cfg.Classifiers, cfg.Allowlist, cfg.Blocklist, cfg.Tunables)
	if err != nil {
		return nil, fmt.Errorf("compiling forward rules: %w", err)
	}

	collector, err := stats.NewCollector(cfg.Statistics)
	if err != nil {
		return nil, fmt.Errorf("building statistics collector: %w", err)
	}

	transport := proxy.NewTransport(dialer, cfg.Tunables)
	forwarder := proxy.NewForwarder(transport, limitsFromTunables(cfg.Tunables), collector)

	dispatcher := &proxy.Dispatcher{
		Limits:          limitsFromTunables(cfg.Tunables),
		Dialer:          dialer,
		Forwarder:       forwarder,
		Collector:       collector,
		RequestDeadline: 60 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return proxy.NewServer(
		addr,
		dispatcher,
		cfg.Tunables.MaxConcurrentConnections,
		time.Duration(cfg.Tunables.DrainDeadlineSeconds)*time.Second,
	)
}

func limitsFromTunables(t config.Tunables) proxy.Limits {
	return proxy.Limits{
		MaxLine:    t.MaxLine,
		MaxHeaders: t.MaxHeaders,
		MaxHead:    t.MaxHead,
		MaxBody:    t.MaxBody,
	}
}
