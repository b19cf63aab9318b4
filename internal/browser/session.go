// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/metrics"
)

const initializeKey = "initialize"

// Session owns one browser process shared by every capture and console request.
// Each request gets its own isolated page through OpenPage.
type Session struct {
	cfg      config.BrowserConfig
	logger   *zap.Logger
	launcher Launcher
	metrics  *metrics.Recorder

	slots *semaphore.Weighted
	group singleflight.Group

	mu      sync.Mutex
	state   State
	process Process
	pages   map[string]*trackedPage

	// closed is closed by the first Cleanup.
	closed     chan struct{}
	closedOnce sync.Once
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithLauncher replaces the Chrome launcher, mostly for tests.
func WithLauncher(l Launcher) SessionOption {
	return func(s *Session) { s.launcher = l }
}

// WithMetrics attaches a metrics recorder. A nil recorder disables metrics.
func WithMetrics(r *metrics.Recorder) SessionOption {
	return func(s *Session) { s.metrics = r }
}

// NewSession creates a session. No browser is started until Initialize.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger, opts ...SessionOption) *Session {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.LaunchRetries <= 0 {
		cfg.LaunchRetries = 1
	}
	s := &Session{
		cfg:    cfg,
		logger: logger.Named("browser_session"),
		slots:  semaphore.NewWeighted(int64(cfg.MaxPages)),
		state:  StateUninitialized,
		pages:  make(map[string]*trackedPage),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = NewChromeLauncher(cfg, logger)
	}
	s.metrics.SetSessionState(s.state.String())
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsHealthy reports whether the session holds a running browser.
func (s *Session) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.live() && processAlive(s.process)
}

// EnsureReady returns immediately when the session is healthy and otherwise
// (re)launches the browser.
func (s *Session) EnsureReady(ctx context.Context) error {
	if s.IsHealthy() {
		return nil
	}
	return s.Initialize(ctx)
}

// Initialize launches the browser if it is not already running. Concurrent callers
// share a single launch. A session in StateFailed, or whose process has died, is
// relaunched.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return errSessionClosed()
	}
	if s.state.live() && processAlive(s.process) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// The launch is shared, so no single caller's cancellation may abort it.
	launchCtx := Detach(ctx)
	ch := s.group.DoChan(initializeKey, func() (interface{}, error) {
		return nil, s.launch(launchCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return apperrors.Timeout(apperrors.PhaseBrowserInit, s.cfg.LaunchTimeout, ctx.Err())
	}
}

func (s *Session) launch(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return errSessionClosed()
	}
	if s.state.live() && processAlive(s.process) {
		s.mu.Unlock()
		return nil
	}
	stale := s.process
	s.process = nil
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	if stale != nil {
		s.logger.Warn("Browser process is gone, relaunching.")
		s.closeProcess(ctx, stale)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.LaunchRetries; attempt++ {
		if attempt > 1 {
			if err := s.backoff(); err != nil {
				return err
			}
		}
		if s.State() == StateClosed {
			return errSessionClosed()
		}

		proc, err := s.launchOnce(ctx)
		if err == nil {
			s.metrics.RecordLaunchAttempt(metrics.OutcomeSuccess)
			return s.adopt(ctx, proc)
		}

		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.RecordLaunchAttempt(outcome)
		s.logger.Warn("Browser launch attempt failed.",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.LaunchRetries),
			zap.Error(err))
		lastErr = err
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.setStateLocked(StateFailed)
	}
	s.mu.Unlock()
	s.logger.Error("Browser launch failed, giving up.", zap.Int("attempts", s.cfg.LaunchRetries), zap.Error(lastErr))
	return apperrors.Wrap(apperrors.CategoryBrowserLaunch, lastErr, "browser launch failed after %d attempts", s.cfg.LaunchRetries)
}

// backoff waits out the retry delay, returning early if the session is cleaned up.
func (s *Session) backoff() error {
	timer := time.NewTimer(s.cfg.LaunchRetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.closed:
		return errSessionClosed()
	}
}

func (s *Session) launchOnce(ctx context.Context) (Process, error) {
	if s.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LaunchTimeout)
		defer cancel()
	}
	return s.launcher.Launch(ctx)
}

// adopt installs a freshly launched process, unless Cleanup won the race.
func (s *Session) adopt(ctx context.Context, proc Process) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.closeProcess(ctx, proc)
		return errSessionClosed()
	}
	s.process = proc
	if len(s.pages) > 0 {
		s.setStateLocked(StateBusy)
	} else {
		s.setStateLocked(StateReady)
	}
	s.mu.Unlock()
	s.logger.Info("Browser session ready.")
	return nil
}

// OpenPage opens an isolated page. It blocks while browser.max_pages pages are open.
// Closing the returned page frees its slot.
func (s *Session) OpenPage(ctx context.Context) (Page, error) {
	if err := s.checkOpenable(); err != nil {
		return nil, err
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkOpenableLocked(); err != nil {
		s.mu.Unlock()
		s.slots.Release(1)
		return nil, err
	}
	proc := s.process
	s.mu.Unlock()

	page, err := proc.NewPage(ctx)
	if err != nil {
		s.slots.Release(1)
		return nil, err
	}

	tracked := &trackedPage{Page: page, session: s}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.slots.Release(1)
		if cerr := page.Close(Detach(ctx)); cerr != nil {
			s.logger.Debug("Closing page opened during cleanup failed.", zap.Error(cerr))
		}
		return nil, errSessionClosed()
	}
	s.pages[page.ID()] = tracked
	s.setStateLocked(StateBusy)
	s.mu.Unlock()

	s.metrics.PageOpened()
	return tracked, nil
}

func (s *Session) checkOpenable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOpenableLocked()
}

func (s *Session) checkOpenableLocked() error {
	if s.state == StateClosed {
		return errSessionClosed()
	}
	if !s.state.live() || s.process == nil {
		return apperrors.New(apperrors.CategoryBrowserLaunch, "browser session is %s", s.state)
	}
	return nil
}

func (s *Session) releasePage(id string) {
	s.mu.Lock()
	delete(s.pages, id)
	if s.state == StateBusy && len(s.pages) == 0 {
		s.setStateLocked(StateReady)
	}
	s.mu.Unlock()
	s.slots.Release(1)
	s.metrics.PageClosed()
}

// Cleanup closes every page and the browser process and leaves the session Closed.
// Errors are logged, never returned. Safe to call more than once.
func (s *Session) Cleanup(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateClosed && s.process == nil && len(s.pages) == 0 {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateClosed)
	s.closedOnce.Do(func() { close(s.closed) })
	proc := s.process
	s.process = nil
	pages := make([]*trackedPage, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	s.mu.Unlock()

	closeCtx := Detach(ctx)
	for _, p := range pages {
		p.revoked.Store(true)
		pageCtx, cancel := s.withCloseTimeout(closeCtx)
		if err := p.Close(pageCtx); err != nil {
			s.logger.Warn("Failed to close page during cleanup.", zap.String("page_id", p.ID()), zap.Error(err))
		}
		cancel()
	}
	if proc != nil {
		s.closeProcess(closeCtx, proc)
	}
	s.logger.Info("Browser session closed.", zap.Int("pages_closed", len(pages)))
}

func (s *Session) closeProcess(ctx context.Context, proc Process) {
	closeCtx, cancel := s.withCloseTimeout(ctx)
	defer cancel()
	if err := proc.Close(closeCtx); err != nil {
		s.logger.Warn("Failed to close browser process.", zap.Error(err))
	}
}

func (s *Session) withCloseTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CloseTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CloseTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) setStateLocked(state State) {
	if s.state != state {
		s.logger.Debug("Session state changed.", zap.Stringer("from", s.state), zap.Stringer("to", state))
	}
	s.state = state
	s.metrics.SetSessionState(state.String())
}

func processAlive(p Process) bool {
	if p == nil {
		return false
	}
	select {
	case <-p.Done():
		return false
	default:
		return true
	}
}

func errSessionClosed() error {
	return apperrors.New(apperrors.CategorySessionClosed, "browser session is closed")
}

// trackedPage returns its slot to the session when closed. revoked is set when
// Cleanup closes the page while a request still holds it.
type trackedPage struct {
	Page
	session   *Session
	closeOnce sync.Once
	closeErr  error
	revoked   atomic.Bool
}

func (p *trackedPage) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.Page.Close(ctx)
		p.session.releasePage(p.ID())
	})
	return p.closeErr
}

// Revoked reports whether the session's Cleanup closed page while a request was
// still using it. Failures on a revoked page are reported as session_closed.
func Revoked(page Page) bool {
	tp, ok := page.(*trackedPage)
	return ok && tp.revoked.Load()
}

// ClosedDuringRequest is the error a request reports when Cleanup revoked its page.
func ClosedDuringRequest(cause error) error {
	return apperrors.Wrap(apperrors.CategorySessionClosed, cause, "browser session closed while the request was running")
}
