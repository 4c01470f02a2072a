// Command leadline runs the real-estate voice agent, either behind the
// operator console or as a single call from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vango-go/leadline/internal/dotenv"
	"github.com/vango-go/leadline/pkg/agent"
	"github.com/vango-go/leadline/pkg/config"
	consoleserver "github.com/vango-go/leadline/pkg/console/server"
	"github.com/vango-go/leadline/pkg/core/audio/device"
	"github.com/vango-go/leadline/pkg/crm"
	"github.com/vango-go/leadline/pkg/live/channel"
	"github.com/vango-go/leadline/pkg/live/session"
	"github.com/vango-go/leadline/pkg/metrics"
)

type options struct {
	mode      string
	callerID  string
	inputWAV  string
	headless  bool
	recordDir string
	addr      string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opt options
	fs := flag.NewFlagSet("leadline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opt.mode, "mode", "console", "console: serve the operator console; call: place one call and exit")
	fs.StringVar(&opt.callerID, "caller-id", "", "Caller phone number passed to the agent (call mode)")
	fs.StringVar(&opt.inputWAV, "input-wav", "", "Replay this 16 kHz mono WAV instead of the microphone")
	fs.BoolVar(&opt.headless, "headless", false, "Do not open the speaker; agent audio is discarded or recorded")
	fs.StringVar(&opt.recordDir, "record-dir", "", "Write caller and agent audio of each call to this directory")
	fs.StringVar(&opt.addr, "addr", "", "Console listen address (overrides LEADLINE_ADDR)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch opt.mode {
	case "console", "call":
	default:
		return options{}, fmt.Errorf("-mode must be console or call")
	}
	return opt, nil
}

func (opt options) apply(cfg *config.Config) {
	if opt.inputWAV != "" {
		cfg.InputWAV = opt.inputWAV
	}
	if opt.headless {
		cfg.Headless = true
	}
	if opt.recordDir != "" {
		cfg.RecordDir = opt.recordDir
	}
	if opt.addr != "" {
		cfg.Addr = opt.addr
	}
}

func newLogger(cfg config.Config, stderr io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.LogLevel}
	format := cfg.LogFormat
	if format == config.LogFormatAuto {
		format = config.LogFormatJSON
		if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = config.LogFormatText
		}
	}
	if format == config.LogFormatText {
		return slog.New(slog.NewTextHandler(stderr, hopts))
	}
	return slog.New(slog.NewJSONHandler(stderr, hopts))
}

func newDialer(ctx context.Context, apiKey string, logger *slog.Logger) (channel.Dialer, error) {
	if apiKey == "" {
		logger.Warn("no speech service API key configured; calls will fail to connect")
		return channel.DialerFunc(func(context.Context, channel.Setup) (channel.Channel, error) {
			return nil, channel.ErrMissingAPIKey
		}), nil
	}
	return channel.NewGeminiDialer(ctx, apiKey, logger)
}

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	host    *device.Host
	metrics *metrics.Metrics
	ctrl    *session.Controller
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	profile, err := agent.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	dialer, err := newDialer(ctx, cfg.GeminiAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("speech service: %w", err)
	}

	host := device.NewHost(device.Config{InputWAV: cfg.InputWAV, Headless: cfg.Headless}, logger)
	m := metrics.NewMetrics("leadline")
	ctrl := session.NewController(session.Config{
		Dialer:        dialer,
		Devices:       host,
		CRM:           crm.NewClient(cfg.CRMBaseURL, &http.Client{Timeout: cfg.CRMTimeout}),
		Profile:       profile,
		Metrics:       m,
		Tracer:        otel.Tracer("github.com/vango-go/leadline"),
		Logger:        logger,
		DecodeWorkers: cfg.DecodeWorkers,
		ToolTimeout:   cfg.CRMTimeout,
		RecordDir:     cfg.RecordDir,
	})
	return &app{cfg: cfg, logger: logger, host: host, metrics: m, ctrl: ctrl}, nil
}

func (a *app) close() {
	_ = a.ctrl.Disconnect()
	if err := a.host.Close(); err != nil {
		a.logger.Debug("close audio host", "error", err)
	}
}

// serve runs the console until ctx is cancelled, then drains: readiness
// fails, event streams close, HTTP shuts down and the active call ends.
func (a *app) serve(ctx context.Context) error {
	console := consoleserver.New(a.cfg, a.ctrl, a.metrics, a.logger)
	httpSrv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           console.Handler(),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
	}

	a.logger.Info("starting console", "addr", a.cfg.Addr, "crm", a.cfg.CRMBaseURL, "headless", a.cfg.Headless)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down console")
		console.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
		defer cancel()
		if !console.WaitStreams(shutdownCtx.Done()) {
			a.logger.Warn("event streams still open at shutdown")
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	err := g.Wait()
	a.close()
	if err != nil {
		return err
	}
	a.logger.Info("console stopped")
	return nil
}

// call places one call and returns when it ends or ctx is cancelled.
func (a *app) call(ctx context.Context, callerID string) error {
	defer a.close()

	s, err := a.ctrl.Connect(ctx, session.Options{CallerID: callerID})
	if err != nil {
		return err
	}
	a.logger.Info("call started; press Ctrl+C to hang up", "call_id", s.ID())

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Disconnect()
	}

	snap := a.ctrl.Snapshot()
	a.logger.Info("call ended",
		"reason", s.Reason(),
		"session_id", snap.SessionID,
		"lead_name", snap.Lead.FullName,
		"request_type", snap.Lead.RequestType,
	)
	if s.Reason() == session.ReasonError {
		return s.Err()
	}
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	opt, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "leadline: %v\n", err)
		return 1
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "leadline: load config: %v\n", err)
		return 1
	}
	opt.apply(&cfg)
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "leadline: %v\n", err)
		return 1
	}

	if opt.mode == "call" {
		err = a.call(ctx, opt.callerID)
	} else {
		err = a.serve(ctx)
	}
	if err != nil {
		fmt.Fprintf(stderr, "leadline: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(runMain(ctx, os.Args[1:], os.Stderr))
}
