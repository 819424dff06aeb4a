// adminctl drives the admin console session from a terminal.
//
//	adminctl login --identifier ops@example.com   (secret from ADMINAUTH_SECRET or --secret)
//	adminctl status
//	adminctl refresh
//	adminctl logout
//	adminctl serve --addr :8080
//
// The session is persisted between invocations in a file under
// --storage-path, or in Redis when --redis-addr is set, so a login in one
// invocation is picked up by the next.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/audit"
	"github.com/chimerakang/adminauth-go/metrics"
	"github.com/chimerakang/adminauth-go/outbound"
	"github.com/chimerakang/adminauth-go/persist"
	"github.com/chimerakang/adminauth-go/rest"
	"github.com/chimerakang/adminauth-go/session"
	"github.com/chimerakang/adminauth-go/token"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every command.
type globals struct {
	configPath string
	logFormat  string
	logLevel   string
	auditLog   bool

	cfg adminauth.Config
}

func (g *globals) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "TOML config file")
	fs.StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.BoolVar(&g.auditLog, "audit", false, "write session audit events to stderr")
	fs.StringVar(&g.cfg.APIBaseURL, "api", "", "CMS API base URL")
	fs.StringVar(&g.cfg.StoragePath, "storage-path", "", "directory for the persisted session")
	fs.StringVar(&g.cfg.StorageNamespace, "namespace", "", "persisted session namespace")
	fs.StringVar(&g.cfg.RedisAddr, "redis-addr", "", "persist the session in Redis at this address")
	fs.StringVar(&g.cfg.JWKSUrl, "jwks-url", "", "verify token signatures against this JWKS endpoint")
}

// resolve merges flags over the config file and environment.
func (g *globals) resolve(fs *pflag.FlagSet) (adminauth.Config, error) {
	cfg, err := adminauth.LoadConfig(g.configPath)
	if err != nil {
		return adminauth.Config{}, err
	}
	override := map[string]*string{
		"api":          &cfg.APIBaseURL,
		"storage-path": &cfg.StoragePath,
		"namespace":    &cfg.StorageNamespace,
		"redis-addr":   &cfg.RedisAddr,
		"jwks-url":     &cfg.JWKSUrl,
	}
	flagValues := map[string]string{
		"api":          g.cfg.APIBaseURL,
		"storage-path": g.cfg.StoragePath,
		"namespace":    g.cfg.StorageNamespace,
		"redis-addr":   g.cfg.RedisAddr,
		"jwks-url":     g.cfg.JWKSUrl,
	}
	for name, dst := range override {
		if fs.Changed(name) {
			*dst = flagValues[name]
		}
	}
	if cfg.APIBaseURL == "" {
		return adminauth.Config{}, errors.New("no API base URL: set --api, api_base_url or ADMINAUTH_API_BASE_URL")
	}
	if cfg.StoragePath == "" && cfg.RedisAddr == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return adminauth.Config{}, fmt.Errorf("locate config dir: %w", err)
		}
		cfg.StoragePath = filepath.Join(dir, "adminauth")
	}
	return cfg.WithDefaults(), nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("--log-format: unknown format %q", format)
}

// console is a wired session manager plus what has to be released with it.
type console struct {
	mgr      *session.Manager
	bearer   *outbound.Bearer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	audit    *audit.Logger
	logger   *slog.Logger
	closers  []func() error
}

func (c *console) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg adminauth.Config) (adminauth.Storage, func() error, error) {
	if cfg.RedisAddr != "" {
		r, err := persist.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	f, err := persist.NewFile(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return f, func() error { return nil }, nil
}

func newConsole(ctx context.Context, cfg adminauth.Config, logger *slog.Logger, auditTo io.Writer) (*console, error) {
	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &console{
		bearer:   outbound.NewBearer(),
		registry: prometheus.NewRegistry(),
		logger:   logger,
		closers:  []func() error{closeStorage},
	}
	c.metrics = metrics.New(c.registry)

	var verifier adminauth.TokenVerifier = token.Unverified()
	if cfg.JWKSUrl != "" {
		verifier = token.NewJWKSVerifier(cfg.JWKSUrl)
	}

	opts := []session.Option{
		session.WithContext(ctx),
		session.WithStorage(storage),
		session.WithTokenSink(c.bearer),
		session.WithVerifier(verifier),
		session.WithLogger(logger),
		session.WithMetrics(c.metrics),
	}
	if auditTo != nil {
		c.audit = audit.New(0, audit.WithWriterHandler(auditTo))
		c.closers = append(c.closers, c.audit.Close)
		opts = append(opts, session.WithAudit(c.audit))
	}

	backend := rest.New(cfg.APIBaseURL, rest.WithTimeout(cfg.RequestTimeout.Duration))
	c.mgr = session.New(backend, cfg, opts...)
	c.closers = append(c.closers, c.mgr.Close)

	c.mgr.Rehydrate(ctx)
	return c, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("adminctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	g.addFlags(fs)
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		usage(stderr, fs)
		return errors.New("no command")
	}
	cmd, cmdArgs := remaining[0], remaining[1:]

	commands := map[string]func(context.Context, *globals, *pflag.FlagSet, []string, io.Writer) error{
		"login":   cmdLogin,
		"status":  cmdStatus,
		"refresh": cmdRefresh,
		"logout":  cmdLogout,
		"serve":   cmdServe,
	}
	fn, ok := commands[cmd]
	if !ok {
		usage(stderr, fs)
		return fmt.Errorf("unknown command %q", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, &g, fs, cmdArgs, stdout)
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `Usage: adminctl [flags] <command> [command flags]

Commands:
  login    sign in and persist the session
  status   show the persisted session
  refresh  exchange the held token for a new one
  logout   sign out and clear the persisted session
  serve    serve the guarded admin console

Flags:
%s`, fs.FlagUsages())
}

// setup resolves config and logging and wires a console.
func setup(ctx context.Context, g *globals, fs *pflag.FlagSet) (*console, error) {
	cfg, err := g.resolve(fs)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(os.Stderr, g.logFormat, g.logLevel)
	if err != nil {
		return nil, err
	}
	var auditTo io.Writer
	if g.auditLog {
		auditTo = os.Stderr
	}
	return newConsole(ctx, cfg, logger, auditTo)
}

func cmdLogin(ctx context.Context, g *globals, fs *pflag.FlagSet, args []string, stdout io.Writer) error {
	var creds adminauth.Credentials
	lf := pflag.NewFlagSet("login", pflag.ContinueOnError)
	lf.StringVar(&creds.Identifier, "identifier", "", "account email or username")
	lf.StringVar(&creds.Secret, "secret", "", "password (default: $ADMINAUTH_SECRET)")
	lf.BoolVar(&creds.RememberMe, "remember-me", false, "ask for a long-lived session")
	if err := lf.Parse(args); err != nil {
		return err
	}
	if creds.Secret == "" {
		creds.Secret = os.Getenv("ADMINAUTH_SECRET")
	}
	if creds.Identifier == "" || creds.Secret == "" {
		return errors.New("login: --identifier and a secret are required")
	}

	c, err := setup(ctx, g, fs)
	if err != nil {
		return err
	}
	defer c.Close()

	res := c.mgr.Login(ctx, creds)
	if !res.Success {
		return fmt.Errorf("login: %s", res.Error)
	}
	c.mgr.Wait()
	printState(stdout, c.mgr.Snapshot(), time.Now())
	return nil
}

func cmdStatus(ctx context.Context, g *globals, fs *pflag.FlagSet, _ []string, stdout io.Writer) error {
	c, err := setup(ctx, g, fs)
	if err != nil {
		return err
	}
	defer c.Close()
	printState(stdout, c.mgr.Snapshot(), time.Now())
	return nil
}

func cmdRefresh(ctx context.Context, g *globals, fs *pflag.FlagSet, _ []string, stdout io.Writer) error {
	c, err := setup(ctx, g, fs)
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.mgr.Snapshot().IsAuthenticated {
		return errors.New("refresh: not signed in")
	}
	if !c.mgr.RefreshToken(ctx) {
		return errors.New("refresh: rejected, session cleared")
	}
	printState(stdout, c.mgr.Snapshot(), time.Now())
	return nil
}

func cmdLogout(ctx context.Context, g *globals, fs *pflag.FlagSet, _ []string, stdout io.Writer) error {
	c, err := setup(ctx, g, fs)
	if err != nil {
		return err
	}
	defer c.Close()

	c.mgr.Logout(ctx)
	fmt.Fprintln(stdout, "signed out")
	return nil
}

func printState(w io.Writer, s adminauth.State, now time.Time) {
	if !s.IsAuthenticated {
		fmt.Fprintln(w, "not signed in")
		return
	}
	if s.User != nil {
		fmt.Fprintf(w, "user:    %s <%s>\n", s.User.DisplayName(), s.User.Email)
	}
	fmt.Fprintf(w, "roles:   %v\n", s.Roles)
	fmt.Fprintf(w, "expires: %s (in %s)\n", s.TokenExpiresAt.Format(time.RFC3339), s.TokenExpiresAt.Sub(now).Round(time.Second))
}
