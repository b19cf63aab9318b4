// File: internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/browser"
	"github.com/xkilldash9x/pagelens/internal/capture"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/console"
	"github.com/xkilldash9x/pagelens/internal/cookies"
	"github.com/xkilldash9x/pagelens/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

// Backend is the browser the service drives. *browser.Session is the production one.
type Backend interface {
	browser.PageSource
	Cleanup(ctx context.Context)
}

// Service is the tool-facing facade. It checks parameter bounds, runs the capture
// and console operations on one shared browser session, and turns every outcome
// (including panics) into a Response.
type Service struct {
	cfg     config.Interface
	logger  *zap.Logger
	backend Backend
	metrics *metrics.Recorder

	pipeline *capture.Pipeline
	reader   *console.Reader

	shutdownOnce sync.Once
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	backend  Backend
	launcher browser.Launcher
	metrics  *metrics.Recorder
}

// WithBackend replaces the browser session entirely.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLauncher keeps the real session but swaps how Chrome is started.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// New wires the service. Default cookies from the cookies config section are
// loaded and validated here, so a bad cookie file fails startup rather than a request.
// The browser itself starts lazily on the first request.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) (*Service, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	defaults, err := loadDefaultCookies(cfg.Cookies())
	if err != nil {
		return nil, err
	}
	if len(defaults) > 0 {
		logger.Info("Loaded default cookies.", cookies.LogField(defaults))
	}

	backend := o.backend
	if backend == nil {
		sessionOpts := []browser.SessionOption{browser.WithMetrics(o.metrics)}
		if o.launcher != nil {
			sessionOpts = append(sessionOpts, browser.WithLauncher(o.launcher))
		}
		backend = browser.NewSession(cfg.Browser(), logger, sessionOpts...)
	}

	captureCfg := cfg.Capture()
	s := &Service{
		cfg:     cfg,
		logger:  logger.Named("service"),
		backend: backend,
		metrics: o.metrics,
		pipeline: capture.NewPipeline(backend, captureCfg, logger,
			capture.WithDefaultCookies(defaults),
			capture.WithMetrics(o.metrics)),
		reader: console.NewReader(backend, cfg.Console(), logger,
			console.WithDefaultCookies(defaults),
			console.WithMetrics(o.metrics),
			console.WithNavigation(captureCfg.NavigationTimeout, captureCfg.NetworkIdleQuiet)),
	}
	return s, nil
}

// loadDefaultCookies reads inline JSON, falling back to the cookie file.
func loadDefaultCookies(cfg config.CookiesConfig) ([]cookies.Cookie, error) {
	switch {
	case cfg.JSON != "":
		list, err := cookies.Validate(cfg.JSON)
		if err != nil {
			return nil, fmt.Errorf("invalid default cookies in cookies.json: %w", err)
		}
		return list, nil
	case cfg.File != "":
		return cookies.LoadFile(cfg.File)
	default:
		return nil, nil
	}
}

// Screenshot captures a page according to p.
func (s *Service) Screenshot(ctx context.Context, p ScreenshotParams) (resp Response) {
	defer s.recoverInto("screenshot", &resp)

	if err := checkScreenshotParams(p); err != nil {
		return s.failure("screenshot", err)
	}
	res, err := s.pipeline.Capture(ctx, capture.Request{
		URL:                p.URL,
		Width:              p.Width,
		Height:             p.Height,
		Format:             p.Format,
		Quality:            p.Quality,
		WaitForNetworkIdle: p.WaitForNetworkIdle,
		Timeout:            time.Duration(p.Timeout) * time.Millisecond,
		FullPage:           p.FullPage,
		Selector:           p.Selector,
	})
	if err != nil {
		return s.failure("screenshot", err)
	}
	return Response{Status: StatusSuccess, Data: res}
}

// ReadConsole records what a page logs while loading.
func (s *Service) ReadConsole(ctx context.Context, p ConsoleParams) (resp Response) {
	defer s.recoverInto("read_console", &resp)

	if err := checkConsoleParams(p); err != nil {
		return s.failure("read_console", err)
	}
	res, err := s.reader.ReadConsoleLogs(ctx, console.Request{
		URL:                p.URL,
		Timeout:            time.Duration(p.Timeout) * time.Millisecond,
		Sanitize:           p.Sanitize,
		WaitForNetworkIdle: p.WaitForNetworkIdle,
		LogLevels:          p.LogLevels,
	})
	if err != nil {
		return s.failure("read_console", err)
	}
	return Response{Status: StatusSuccess, Data: res}
}

// Handle routes a raw tool invocation. It never panics and always returns an envelope.
func (s *Service) Handle(ctx context.Context, req CommandRequest) (resp Response) {
	defer func() { resp.ID = req.ID }()
	defer s.recoverInto(req.Command, &resp)

	switch req.Command {
	case "screenshot":
		var p ScreenshotParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.failure(req.Command, err)
		}
		return s.Screenshot(ctx, p)
	case "read_console", "console":
		var p ConsoleParams
		if err := decodeParams(req.Params, &p); err != nil {
			return s.failure(req.Command, err)
		}
		return s.ReadConsole(ctx, p)
	case "ping":
		return Response{Status: StatusSuccess, Data: map[string]string{"message": "pong"}}
	default:
		return s.failure(req.Command, apperrors.New(apperrors.CategoryValidation, "unknown command %q", req.Command))
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		verr := &apperrors.ValidationError{}
		verr.Add("params", "malformed JSON")
		return verr
	}
	return nil
}

// failure converts err into an error envelope.
func (s *Service) failure(op string, err error) Response {
	payload := &ErrorPayload{Category: apperrors.CategoryOf(err), Message: err.Error()}
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		payload.Fields = verr.Violations
	}
	s.logger.Debug("Operation failed.", zap.String("operation", op), zap.String("category", string(payload.Category)))
	return Response{Status: StatusError, Error: payload}
}

// recoverInto turns a panic in op into an internal_error response.
func (s *Service) recoverInto(op string, resp *Response) {
	if r := recover(); r != nil {
		s.logger.Error("Recovered from panic.", zap.String("operation", op), zap.Any("panic", r), zap.Stack("stack"))
		*resp = Response{
			Status: StatusError,
			Error: &ErrorPayload{
				Category: apperrors.CategoryInternal,
				Message:  fmt.Sprintf("internal error during %s", op),
			},
		}
	}
}

// Shutdown releases the browser. Safe to call more than once and concurrently with
// in-flight requests, which then fail with session_closed.
func (s *Service) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.logger.Debug("Beginning service shutdown.")
		shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), shutdownTimeout)
		defer cancel()
		s.backend.Cleanup(shutdownCtx)
		s.logger.Info("Service shut down.")
	})
}
