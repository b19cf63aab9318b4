// internal/console/reader.go
package console

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/browser"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/cookies"
	"github.com/xkilldash9x/pagelens/internal/metrics"
)

const pageCloseTimeout = 5 * time.Second

// Request describes one console read. Zero values select the configured defaults.
type Request struct {
	URL                string
	Timeout            time.Duration
	Sanitize           *bool
	WaitForNetworkIdle bool
	LogLevels          []string
	Cookies            []cookies.Cookie
}

// Result is what a page logged while it loaded.
type Result struct {
	URL              string  `json:"url"`
	Logs             []Entry `json:"logs"`
	StartTimestampMs int64   `json:"startTimestampMs"`
	EndTimestampMs   int64   `json:"endTimestampMs"`
	TotalLogs        int     `json:"totalLogs"`
	Truncated        bool    `json:"truncated"`
}

// Reader loads pages and records their console output. Safe for concurrent use.
type Reader struct {
	pages          browser.PageSource
	cfg            config.ConsoleConfig
	navTimeout     time.Duration
	idleQuiet      time.Duration
	defaultCookies []cookies.Cookie
	sanitizer      *Sanitizer
	logger         *zap.Logger
	metrics        *metrics.Recorder
	now            func() time.Time
}

// Option customizes a Reader.
type Option func(*Reader)

func WithDefaultCookies(list []cookies.Cookie) Option {
	return func(r *Reader) { r.defaultCookies = list }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Reader) { r.metrics = m }
}

// WithNavigation sets the navigation bound and the network idle quiet window.
func WithNavigation(timeout, idleQuiet time.Duration) Option {
	return func(r *Reader) {
		r.navTimeout = timeout
		r.idleQuiet = idleQuiet
	}
}

func NewReader(pages browser.PageSource, cfg config.ConsoleConfig, logger *zap.Logger, opts ...Option) *Reader {
	r := &Reader{
		pages:     pages,
		cfg:       cfg,
		idleQuiet: 500 * time.Millisecond,
		sanitizer: NewSanitizer(),
		logger:    logger.Named("console"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type readPlan struct {
	timeout  time.Duration
	sanitize bool
	levels   map[Level]bool
	cookies  []cookies.Cookie
}

func (r *Reader) plan(req Request) (readPlan, error) {
	p := readPlan{timeout: req.Timeout, sanitize: r.cfg.Sanitize}
	if p.timeout == 0 {
		p.timeout = r.cfg.DefaultTimeout
	}
	if req.Sanitize != nil {
		p.sanitize = *req.Sanitize
	}

	verr := &apperrors.ValidationError{}
	if req.URL == "" {
		verr.Add("url", "is required")
	} else if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || (u.Scheme != "file" && u.Host == "") ||
		(u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") {
		verr.Add("url", "must be an absolute http, https or file URL")
	}
	if p.timeout <= 0 {
		verr.Add("timeout", "must be positive")
	}
	levelNames := req.LogLevels
	if len(levelNames) == 0 {
		levelNames = r.cfg.DefaultLevels
	}
	levels, err := ParseLevels(levelNames)
	if err != nil {
		var lerr *apperrors.ValidationError
		if errors.As(err, &lerr) {
			verr.Merge("", lerr)
		}
	}
	if err := verr.OrNil(); err != nil {
		return readPlan{}, err
	}
	p.levels = levels

	validated, err := cookies.Validate(req.Cookies)
	if err != nil {
		return readPlan{}, err
	}
	p.cookies = validated
	return p, nil
}

// ReadConsoleLogs opens req.URL on an isolated page and records console output until
// the timeout, or until the network goes idle when WaitForNetworkIdle is set. The
// listener is attached before navigation so early messages are kept.
func (r *Reader) ReadConsoleLogs(ctx context.Context, req Request) (res Result, err error) {
	logger := r.logger.With(zap.String("read_id", uuid.New().String()), zap.String("url", req.URL))
	var stats Stats
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = string(apperrors.CategoryOf(err))
			logger.Warn("Console read failed.", zap.String("category", outcome), zap.Error(err))
		} else {
			logger.Info("Console read complete.",
				zap.Int("kept", stats.Kept),
				zap.Int("total", stats.Total),
				zap.Int("dropped", stats.Dropped),
				zap.Int("filtered", stats.Filtered))
		}
		r.metrics.ObserveConsoleRead(outcome, stats.Kept, stats.Dropped, stats.Filtered)
	}()

	pl, err := r.plan(req)
	if err != nil {
		return Result{}, err
	}

	start := r.now()
	collectCtx, cancel := context.WithTimeout(ctx, pl.timeout)
	defer cancel()

	if err := r.pages.EnsureReady(collectCtx); err != nil {
		return Result{}, err
	}
	page, err := r.pages.OpenPage(collectCtx)
	if err != nil {
		if errors.Is(collectCtx.Err(), context.DeadlineExceeded) {
			return Result{}, apperrors.Timeout(apperrors.PhaseBrowserInit, pl.timeout, err)
		}
		return Result{}, err
	}
	defer r.closePage(ctx, page, logger)

	var sanitizer *Sanitizer
	if pl.sanitize {
		sanitizer = r.sanitizer
	}
	collector := NewCollector(pl.levels, sanitizer, r.cfg.MaxBytes)
	page.OnConsole(collector.Add)

	if err := r.load(ctx, collectCtx, page, pl, req, logger); err != nil {
		if browser.Revoked(page) {
			return Result{}, browser.ClosedDuringRequest(err)
		}
		return Result{}, err
	}
	if browser.Revoked(page) {
		return Result{}, browser.ClosedDuringRequest(nil)
	}

	collector.Stop()
	page.OnConsole(nil)
	logs, stats := collector.Snapshot()

	end := r.now()
	if end.Before(start) {
		end = start
	}
	return Result{
		URL:              req.URL,
		Logs:             logs,
		StartTimestampMs: start.UnixMilli(),
		EndTimestampMs:   end.UnixMilli(),
		TotalLogs:        stats.Total,
		Truncated:        stats.Dropped > 0,
	}, nil
}

// load injects cookies, navigates and waits out the collection window. Navigation
// keeps its own bound; when the window closes first the read simply ends with
// whatever was logged so far.
func (r *Reader) load(ctx, collectCtx context.Context, page browser.Page, pl readPlan, req Request, logger *zap.Logger) error {
	jar := cookies.ForURL(cookies.Merge(r.defaultCookies, pl.cookies), req.URL)
	defer cookies.ClearAll(jar)
	if len(jar) > 0 {
		logger.Debug("Injecting cookies.", cookies.LogField(jar))
		if err := page.SetCookies(collectCtx, jar, req.URL); err != nil {
			return apperrors.Wrap(apperrors.CategoryInternal, err, "injecting cookies")
		}
	}

	if err := browser.Navigate(collectCtx, page, req.URL, r.navTimeout); err != nil {
		if windowClosed(ctx, collectCtx) {
			logger.Debug("Collection window ended during navigation.", zap.Error(err))
			return nil
		}
		return err
	}
	return r.settle(ctx, collectCtx, page, req.WaitForNetworkIdle)
}

// windowClosed reports whether collectCtx ended because its window elapsed rather
// than because the caller canceled.
func windowClosed(ctx, collectCtx context.Context) bool {
	if !errors.Is(collectCtx.Err(), context.DeadlineExceeded) {
		return false
	}
	return ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// settle waits out the collection window. Reaching the timeout is the normal end of
// a read, not an error; only cancellation of the caller's ctx is.
func (r *Reader) settle(ctx, collectCtx context.Context, page browser.Page, waitIdle bool) error {
	if waitIdle {
		if err := page.WaitNetworkIdle(collectCtx, r.idleQuiet); err != nil && collectCtx.Err() == nil {
			return apperrors.Wrap(apperrors.CategoryInternal, err, "waiting for network idle")
		}
	} else {
		<-collectCtx.Done()
	}
	if err := ctx.Err(); err != nil && !windowClosed(ctx, collectCtx) {
		return err
	}
	return nil
}

func (r *Reader) closePage(ctx context.Context, page browser.Page, logger *zap.Logger) {
	closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), pageCloseTimeout)
	defer cancel()
	if err := page.Close(closeCtx); err != nil {
		logger.Warn("Failed to close page.", zap.String("page_id", page.ID()), zap.Error(err))
	}
}
