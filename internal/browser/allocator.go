// internal/browser/allocator.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagelens/internal/config"
)

// Launcher starts a browser process. ChromeLauncher is the production implementation;
// tests substitute fakes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// Process is a running browser.
type Process interface {
	// NewPage opens a target in a fresh, isolated browser context.
	NewPage(ctx context.Context) (Page, error)
	// Done is closed when the process exits or loses its connection.
	Done() <-chan struct{}
	Close(ctx context.Context) error
}

// allocatorFlags returns the command line switches for cfg, keyed without the leading "--".
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"no-sandbox":               true,
		"disable-dev-shm-usage":    true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"hide-scrollbars":          true,
		"mute-audio":               true,
		"headless":                 cfg.Headless,
	}
	if cfg.DisableGPU {
		flags["disable-gpu"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions builds the exec allocator options for cfg on top of
// chromedp's defaults.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// ChromeLauncher launches a local Chrome via chromedp's exec allocator.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("launcher")}
}

// Launch starts the browser. ctx bounds startup only; the process outlives it and is
// stopped by Close.
func (l *ChromeLauncher) Launch(ctx context.Context) (Process, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithErrorf(l.logger.Sugar().Errorf),
	}
	if l.cfg.Debug {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(l.logger.Sugar().Debugf),
			chromedp.WithDebugf(l.logger.Sugar().Debugf),
		)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	if err := runDetached(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	l.logger.Info("Browser process started.", zap.Bool("headless", l.cfg.Headless))
	return &chromeProcess{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        l.logger,
	}, nil
}

type chromeProcess struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *chromeProcess) NewPage(ctx context.Context) (Page, error) {
	if p.browserCtx.Err() != nil {
		return nil, fmt.Errorf("browser is not running: %w", p.browserCtx.Err())
	}
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx, chromedp.WithNewBrowserContext())
	return newTab(ctx, tabCtx, tabCancel, p.logger)
}

func (p *chromeProcess) Done() <-chan struct{} {
	return p.browserCtx.Done()
}

func (p *chromeProcess) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				p.closeErr = fmt.Errorf("closing browser: %w", err)
			}
		case <-ctx.Done():
			p.closeErr = fmt.Errorf("closing browser: %w", ctx.Err())
		}
		p.browserCancel()
		p.allocCancel()
		p.logger.Info("Browser process stopped.")
	})
	return p.closeErr
}
