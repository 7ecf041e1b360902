// Package main provides the entry point for the Copilot proxy. It runs an
// intercepting HTTP(S) proxy that answers completion requests from a
// configured model backend and, optionally, a direct HTTP server for
// clients that can be pointed at a base URL.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/proxypilot/copilot-proxy/internal/api"
	"github.com/proxypilot/copilot-proxy/internal/buildinfo"
	"github.com/proxypilot/copilot-proxy/internal/config"
	"github.com/proxypilot/copilot-proxy/internal/host"
	"github.com/proxypilot/copilot-proxy/internal/interceptor"
	"github.com/proxypilot/copilot-proxy/internal/logging"
	"github.com/proxypilot/copilot-proxy/internal/metrics"
	"github.com/proxypilot/copilot-proxy/internal/upstream"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

const shutdownTimeout = 10 * time.Second

func main() {
	var overrides cliOverrides
	var configPath string
	var showVersion bool

	flag.IntVar(&overrides.port, "port", 0, "Port the intercepting proxy listens on (default 15432)")
	flag.IntVar(&overrides.port, "p", 0, "Shorthand for -port")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configuration file path")
	flag.BoolVar(&overrides.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.StringVar(&overrides.caCert, "ca-cert", "", "PEM certificate of the CA used to intercept TLS")
	flag.StringVar(&overrides.caKey, "ca-key", "", "PEM private key of the CA used to intercept TLS")
	flag.BoolVar(&overrides.direct, "direct", false, "Also serve the direct HTTP endpoint")

	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage: %s [start] [flags]\n", os.Args[0])
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			s := fmt.Sprintf("  -%s", f.Name)
			name, unquoteUsage := flag.UnquoteUsage(f)
			if name != "" {
				s += " " + name
			}
			if len(s) <= 4 {
				s += "\t"
			} else {
				s += "\n    "
			}
			s += unquoteUsage
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
				s += fmt.Sprintf(" (default %s)", f.DefValue)
			}
			_, _ = fmt.Fprint(out, s+"\n")
		})
	}

	if err := flag.CommandLine.Parse(stripStartCommand(os.Args[1:])); err != nil {
		os.Exit(2)
	}
	if flag.NArg() > 0 {
		_, _ = fmt.Fprintf(os.Stderr, "unexpected argument %q\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	fmt.Printf("Copilot Proxy Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	if showVersion {
		return
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	// The default path is optional; an explicit one must exist.
	cfg, err := config.LoadConfigOptional(configPath, configPath == DefaultConfigPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.LookupEnv)
	overrides.apply(cfg)

	logging.ApplyConfigLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}

	warnings, err := config.ValidateConfig(cfg)
	if err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, configPath, overrides); err != nil {
		log.Errorf("proxy stopped: %v", err)
		os.Exit(1)
	}
}

// cliOverrides holds the flags that take precedence over the config file.
type cliOverrides struct {
	port   int
	debug  bool
	caCert string
	caKey  string
	direct bool
}

// apply writes the flags that were set onto cfg. It runs at startup and
// again on every reload.
func (o cliOverrides) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.debug {
		cfg.Debug = true
	}
	if o.caCert != "" || o.caKey != "" {
		cfg.MITM.CACert, cfg.MITM.CAKey = o.caCert, o.caKey
	}
	if o.direct {
		cfg.Direct.Enable = true
	}
}

// stripStartCommand drops a leading "start" subcommand so both
// "copilot-proxy start -p 1" and "copilot-proxy -p 1" work.
func stripStartCommand(args []string) []string {
	if len(args) > 0 && args[0] == "start" {
		return args[1:]
	}
	return args
}

// run wires the proxy together and blocks until ctx is cancelled or a
// listener fails.
func run(ctx context.Context, cfg *config.Config, configPath string, overrides cliOverrides) error {
	metrics.SetEnabled(cfg.Metrics.Enable)

	opts, err := interceptor.OptionsFromConfig(cfg.Intercept)
	if err != nil {
		return err
	}
	store := config.NewBackendStore(cfg.Backend)
	flows := host.NewEngine(interceptor.New(upstream.New(store), opts))

	var ca *tls.Certificate
	if cfg.MITM.CACert != "" {
		if ca, err = host.LoadCA(cfg.MITM.CACert, cfg.MITM.CAKey); err != nil {
			return err
		}
		log.Infof("intercepting TLS with CA %s", cfg.MITM.CACert)
	}

	proxyServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           host.NewMITMProxy(flows, ca),
		ReadHeaderTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("proxy listening on %s", proxyServer.Addr)
		if errServe := proxyServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("proxy listener: %w", errServe)
		}
		return nil
	})

	var directServer *api.Server
	if cfg.Direct.Enable {
		directServer = api.NewServer(cfg, flows)
		g.Go(directServer.Start)
		log.Infof("direct server listening on %s:%d", cfg.Host, cfg.Direct.Port)
	}

	if _, errStat := os.Stat(configPath); errStat == nil {
		g.Go(func() error {
			errWatch := config.Watch(gctx, configPath, func(next *config.Config) {
				reload(store, next, overrides)
			})
			if errWatch != nil {
				log.WithError(errWatch).Warn("config watcher disabled")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if errShutdown := proxyServer.Shutdown(shutdownCtx); errShutdown != nil {
			errs = append(errs, errShutdown)
		}
		if directServer != nil {
			if errStop := directServer.Stop(shutdownCtx); errStop != nil {
				errs = append(errs, errStop)
			}
		}
		log.Info("proxy shut down")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// reload applies a changed config file. Only the backend and the log level
// take effect without a restart.
func reload(store *config.BackendStore, next *config.Config, overrides cliOverrides) {
	overrides.apply(next)
	store.Store(next.Backend)
	logging.ApplyConfigLevel(next)
	if missing := next.Backend.Missing(); len(missing) > 0 {
		log.Warnf("backend %v not set after reload", missing)
	}
}
