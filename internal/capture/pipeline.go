// internal/capture/pipeline.go
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/browser"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/cookies"
	"github.com/xkilldash9x/pagelens/internal/imaging"
	"github.com/xkilldash9x/pagelens/internal/metrics"
)

// pageCloseTimeout bounds closing a page after the request is over.
const pageCloseTimeout = 5 * time.Second

// Pipeline turns capture requests into encoded screenshots. Each request runs on its
// own page; a Pipeline is safe for concurrent use.
type Pipeline struct {
	pages          browser.PageSource
	cfg            config.CaptureConfig
	defaultCookies []cookies.Cookie
	logger         *zap.Logger
	metrics        *metrics.Recorder
	now            func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDefaultCookies sets cookies injected into every capture. Request cookies with
// the same name, domain and path win.
func WithDefaultCookies(list []cookies.Cookie) Option {
	return func(p *Pipeline) { p.defaultCookies = list }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func NewPipeline(pages browser.PageSource, cfg config.CaptureConfig, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		pages:  pages,
		cfg:    cfg,
		logger: logger.Named("capture"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capture dispatches on the request: element mode when a selector is set, full page
// when FullPage is set, the viewport otherwise.
func (p *Pipeline) Capture(ctx context.Context, req Request) (Result, error) {
	return p.run(ctx, req.Mode(), req)
}

func (p *Pipeline) CaptureViewport(ctx context.Context, req Request) (Result, error) {
	return p.run(ctx, ModeViewport, req)
}

func (p *Pipeline) CaptureFullPage(ctx context.Context, req Request) (Result, error) {
	return p.run(ctx, ModeFullPage, req)
}

// CaptureElement captures the visible part of the first element matching req.Selector.
func (p *Pipeline) CaptureElement(ctx context.Context, req Request) (Result, error) {
	return p.run(ctx, ModeElement, req)
}

func (p *Pipeline) run(ctx context.Context, mode Mode, req Request) (res Result, err error) {
	start := p.now()
	logger := p.logger.With(
		zap.String("capture_id", uuid.New().String()),
		zap.String("mode", string(mode)),
		zap.String("url", req.URL),
	)
	defer func() {
		elapsed := p.now().Sub(start)
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = string(apperrors.CategoryOf(err))
			logger.Warn("Capture failed.", zap.String("category", outcome), zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			logger.Info("Capture complete.",
				zap.Int("width", res.Width),
				zap.Int("height", res.Height),
				zap.String("mime_type", res.MimeType),
				zap.Duration("elapsed", elapsed))
		}
		p.metrics.ObserveCapture(string(mode), outcome, elapsed)
	}()

	pl, err := newPlan(mode, req, p.cfg)
	if err != nil {
		return Result{}, err
	}

	reqCtx, cancel := contextWithOptionalTimeout(ctx, pl.timeout)
	defer cancel()

	if err := p.pages.EnsureReady(reqCtx); err != nil {
		return Result{}, err
	}
	page, err := p.pages.OpenPage(reqCtx)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return Result{}, apperrors.Timeout(apperrors.PhaseBrowserInit, pl.timeout, err)
		}
		return Result{}, err
	}
	defer closePage(ctx, page, logger)

	raw, err := p.render(reqCtx, page, pl, logger)
	if err != nil {
		if browser.Revoked(page) {
			return Result{}, browser.ClosedDuringRequest(err)
		}
		return Result{}, err
	}

	encoded, err := imaging.Convert(raw, pl.format, pl.quality)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Data:        base64.StdEncoding.EncodeToString(encoded.Data),
		MimeType:    encoded.MimeType,
		Width:       encoded.Width,
		Height:      encoded.Height,
		TimestampMs: p.now().UnixMilli(),
	}, nil
}

// render drives the page from a blank tab to a PNG raster.
func (p *Pipeline) render(ctx context.Context, page browser.Page, pl plan, logger *zap.Logger) ([]byte, error) {
	if err := page.SetViewport(ctx, pl.width, pl.height); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInternal, err, "setting viewport")
	}

	jar := cookies.ForURL(cookies.Merge(p.defaultCookies, pl.cookies), pl.url)
	defer cookies.ClearAll(jar)
	if len(jar) > 0 {
		logger.Debug("Injecting cookies.", cookies.LogField(jar))
		if err := page.SetCookies(ctx, jar, pl.url); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryInternal, err, "injecting cookies")
		}
	}

	if err := browser.Navigate(ctx, page, pl.url, p.cfg.NavigationTimeout); err != nil {
		return nil, err
	}

	if pl.idle {
		err := apperrors.RunPhase(ctx, apperrors.PhaseNetworkIdle, p.cfg.NetworkIdleTimeout, func(c context.Context) error {
			return page.WaitNetworkIdle(c, p.cfg.NetworkIdleQuiet)
		})
		if err != nil {
			return nil, err
		}
	}

	var box browser.ElementBox
	if pl.mode == ModeElement {
		var err error
		if box, err = p.waitForElement(ctx, page, pl.selector); err != nil {
			return nil, err
		}
	}

	var raw []byte
	err := apperrors.RunPhase(ctx, apperrors.PhaseCapture, p.cfg.CaptureTimeout, func(c context.Context) error {
		var err error
		switch pl.mode {
		case ModeFullPage:
			raw, err = page.CaptureFullPage(c)
		case ModeElement:
			raw, err = page.CaptureClip(c, box)
		default:
			raw, err = page.CaptureViewport(c)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// waitForElement polls until selector matches a visible element. It tells apart a
// selector that never matched from one that matched something invisible.
func (p *Pipeline) waitForElement(ctx context.Context, page browser.Page, selector string) (browser.ElementBox, error) {
	waitCtx, cancel := contextWithOptionalTimeout(ctx, p.cfg.ElementTimeout)
	defer cancel()

	pollRate := rate.Limit(p.cfg.ElementPollRate)
	if pollRate <= 0 {
		pollRate = rate.Inf
	}
	limiter := rate.NewLimiter(pollRate, 1)

	matched := false
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		probe, err := page.LocateElement(waitCtx, selector)
		if err != nil {
			if waitCtx.Err() != nil {
				break
			}
			return browser.ElementBox{}, apperrors.Wrap(apperrors.CategoryInternal, err, "locating element %s", selector)
		}
		switch probe.Status {
		case browser.ElementVisible:
			return probe.Box, nil
		case browser.ElementInvalid:
			return browser.ElementBox{}, apperrors.New(apperrors.CategoryInvalidSelector, "Invalid selector: %s (%s)", selector, probe.Message)
		case browser.ElementHidden:
			matched = true
		}
	}

	if ctx.Err() != nil && !errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return browser.ElementBox{}, ctx.Err()
	}
	if matched {
		return browser.ElementBox{}, apperrors.New(apperrors.CategoryElementWaitTimeout,
			"Element %s was found but did not become visible within %s", selector, p.cfg.ElementTimeout)
	}
	return browser.ElementBox{}, apperrors.New(apperrors.CategoryElementNotFound, "Element not found: %s", selector)
}

func contextWithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// closePage closes page even when ctx is already done.
func closePage(ctx context.Context, page browser.Page, logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), pageCloseTimeout)
	defer cancel()
	if err := page.Close(closeCtx); err != nil {
		logger.Warn("Failed to close page.", zap.String("page_id", page.ID()), zap.Error(err))
	}
}
