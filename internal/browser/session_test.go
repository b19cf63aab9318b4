// internal/browser/session_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/cookies"
	"github.com/xkilldash9x/pagelens/internal/metrics"
)

// -- fakes --

type fakePage struct {
	id     string
	closed atomic.Int32
}

func (p *fakePage) ID() string                                                 { return p.id }
func (p *fakePage) SetViewport(context.Context, int, int) error                { return nil }
func (p *fakePage) SetCookies(context.Context, []cookies.Cookie, string) error { return nil }
func (p *fakePage) Navigate(context.Context, string) error                     { return nil }
func (p *fakePage) WaitNetworkIdle(context.Context, time.Duration) error       { return nil }
func (p *fakePage) CaptureViewport(context.Context) ([]byte, error)            { return nil, nil }
func (p *fakePage) CaptureFullPage(context.Context) ([]byte, error)            { return nil, nil }
func (p *fakePage) CaptureClip(context.Context, ElementBox) ([]byte, error)    { return nil, nil }
func (p *fakePage) LocateElement(context.Context, string) (ElementProbe, error) {
	return ElementProbe{Status: ElementMissing}, nil
}
func (p *fakePage) OnConsole(func(ConsoleEvent)) {}
func (p *fakePage) Close(context.Context) error {
	p.closed.Add(1)
	return nil
}

type fakeProcess struct {
	done     chan struct{}
	dieOnce  sync.Once
	closed   atomic.Int32
	pageSeq  atomic.Int32
	pagesMu  sync.Mutex
	pages    []*fakePage
	closeErr error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) NewPage(context.Context) (Page, error) {
	page := &fakePage{id: fmt.Sprintf("page-%d", p.pageSeq.Add(1))}
	p.pagesMu.Lock()
	p.pages = append(p.pages, page)
	p.pagesMu.Unlock()
	return page, nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) die() { p.dieOnce.Do(func() { close(p.done) }) }

func (p *fakeProcess) Close(context.Context) error {
	p.closed.Add(1)
	p.die()
	return p.closeErr
}

// fakeLauncher runs launch for every attempt and counts the calls.
type fakeLauncher struct {
	calls  atomic.Int32
	launch func(ctx context.Context, attempt int) (Process, error)
}

func (l *fakeLauncher) Launch(ctx context.Context) (Process, error) {
	n := int(l.calls.Add(1))
	return l.launch(ctx, n)
}

func succeedingLauncher() (*fakeLauncher, *[]*fakeProcess) {
	var mu sync.Mutex
	procs := &[]*fakeProcess{}
	return &fakeLauncher{launch: func(context.Context, int) (Process, error) {
		p := newFakeProcess()
		mu.Lock()
		*procs = append(*procs, p)
		mu.Unlock()
		return p, nil
	}}, procs
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Headless:         true,
		MaxPages:         2,
		LaunchRetries:    3,
		LaunchRetryDelay: time.Millisecond,
		LaunchTimeout:    time.Second,
		CloseTimeout:     time.Second,
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func newTestSession(t *testing.T, cfg config.BrowserConfig, l Launcher, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{WithLauncher(l)}, opts...)
	return NewSession(cfg, zaptest.NewLogger(t), opts...)
}

// -- tests --

func TestSession_Initialize(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("launches once and is idempotent", func(t *testing.T) {
		l, procs := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		assert.Equal(t, StateUninitialized, s.State())
		assert.False(t, s.IsHealthy())

		require.NoError(t, s.Initialize(context.Background()))
		require.NoError(t, s.Initialize(context.Background()))
		require.NoError(t, s.EnsureReady(context.Background()))

		assert.Equal(t, int32(1), l.calls.Load())
		assert.Len(t, *procs, 1)
		assert.Equal(t, StateReady, s.State())
		assert.True(t, s.IsHealthy())
		s.Cleanup(context.Background())
	})

	t.Run("retries then succeeds", func(t *testing.T) {
		l := &fakeLauncher{launch: func(_ context.Context, attempt int) (Process, error) {
			if attempt < 3 {
				return nil, errors.New("chrome failed to start")
			}
			return newFakeProcess(), nil
		}}
		s := newTestSession(t, testBrowserConfig(), l)

		require.NoError(t, s.Initialize(context.Background()))
		assert.Equal(t, int32(3), l.calls.Load())
		assert.Equal(t, StateReady, s.State())
		s.Cleanup(context.Background())
	})

	t.Run("exhausted retries leave the session failed", func(t *testing.T) {
		l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
			return nil, errors.New("no chrome binary")
		}}
		s := newTestSession(t, testBrowserConfig(), l)

		err := s.Initialize(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CategoryBrowserLaunch, apperrors.CategoryOf(err))
		assert.Contains(t, err.Error(), "no chrome binary")
		assert.Equal(t, int32(3), l.calls.Load())
		assert.Equal(t, StateFailed, s.State())
		assert.False(t, s.IsHealthy())
	})

	t.Run("recovers from failed on a later call", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
			if fail.Load() {
				return nil, errors.New("boom")
			}
			return newFakeProcess(), nil
		}}
		s := newTestSession(t, testBrowserConfig(), l)

		require.Error(t, s.Initialize(context.Background()))
		require.Equal(t, StateFailed, s.State())

		fail.Store(false)
		require.NoError(t, s.EnsureReady(context.Background()))
		assert.Equal(t, StateReady, s.State())
		s.Cleanup(context.Background())
	})

	t.Run("each attempt is bounded by the launch timeout", func(t *testing.T) {
		cfg := testBrowserConfig()
		cfg.LaunchTimeout = 20 * time.Millisecond
		cfg.LaunchRetries = 2
		l := &fakeLauncher{launch: func(ctx context.Context, _ int) (Process, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		s := newTestSession(t, cfg, l)

		err := s.Initialize(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CategoryBrowserLaunch, apperrors.CategoryOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(2), l.calls.Load())
	})

	t.Run("caller deadline reports a browser init timeout", func(t *testing.T) {
		release := make(chan struct{})
		l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
			<-release
			return newFakeProcess(), nil
		}}
		s := newTestSession(t, testBrowserConfig(), l)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := s.Initialize(ctx)
		require.Error(t, err)
		assert.Equal(t, apperrors.CategoryBrowserInitTimeout, apperrors.CategoryOf(err))

		close(release)
		// The shared launch still completes for later callers.
		require.NoError(t, s.Initialize(context.Background()))
		s.Cleanup(context.Background())
	})

	t.Run("concurrent callers share one launch", func(t *testing.T) {
		release := make(chan struct{})
		l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
			<-release
			return newFakeProcess(), nil
		}}
		s := newTestSession(t, testBrowserConfig(), l)

		const callers = 8
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Initialize(context.Background())
			}()
		}
		require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		close(release)
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), l.calls.Load())
		s.Cleanup(context.Background())
	})

	t.Run("relaunches after the process dies", func(t *testing.T) {
		l, procs := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		require.NoError(t, s.Initialize(context.Background()))

		(*procs)[0].die()
		assert.False(t, s.IsHealthy())

		require.NoError(t, s.EnsureReady(context.Background()))
		assert.Equal(t, int32(2), l.calls.Load())
		assert.True(t, s.IsHealthy())
		assert.Equal(t, int32(1), (*procs)[0].closed.Load(), "stale process is reaped")
		s.Cleanup(context.Background())
	})
}

func TestSession_OpenPage(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("requires an initialized session", func(t *testing.T) {
		l, _ := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)

		_, err := s.OpenPage(context.Background())
		require.Error(t, err)
		assert.Equal(t, apperrors.CategoryBrowserLaunch, apperrors.CategoryOf(err))
	})

	t.Run("busy while pages are open", func(t *testing.T) {
		l, procs := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		require.NoError(t, s.Initialize(context.Background()))

		p1, err := s.OpenPage(context.Background())
		require.NoError(t, err)
		p2, err := s.OpenPage(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, p1.ID(), p2.ID())
		assert.Equal(t, StateBusy, s.State())
		assert.True(t, s.IsHealthy())

		require.NoError(t, p1.Close(context.Background()))
		assert.Equal(t, StateBusy, s.State())
		require.NoError(t, p2.Close(context.Background()))
		require.NoError(t, p2.Close(context.Background()))
		assert.Equal(t, StateReady, s.State())

		for _, fp := range (*procs)[0].pages {
			assert.Equal(t, int32(1), fp.closed.Load())
		}
		s.Cleanup(context.Background())
	})

	t.Run("limits concurrent pages", func(t *testing.T) {
		cfg := testBrowserConfig()
		cfg.MaxPages = 1
		l, _ := succeedingLauncher()
		s := newTestSession(t, cfg, l)
		require.NoError(t, s.Initialize(context.Background()))

		first, err := s.OpenPage(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = s.OpenPage(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, first.Close(context.Background()))
		second, err := s.OpenPage(context.Background())
		require.NoError(t, err)
		require.NoError(t, second.Close(context.Background()))
		s.Cleanup(context.Background())
	})

	t.Run("tracks open pages in metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		rec := metrics.New(reg, "test")
		l, _ := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l, WithMetrics(rec))
		require.NoError(t, s.Initialize(context.Background()))

		page, err := s.OpenPage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1.0, gaugeValue(t, reg, "test_browser_open_pages"))
		require.NoError(t, page.Close(context.Background()))
		assert.Equal(t, 0.0, gaugeValue(t, reg, "test_browser_open_pages"))
		s.Cleanup(context.Background())
	})
}

func TestSession_Cleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("closes pages and process", func(t *testing.T) {
		l, procs := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		require.NoError(t, s.Initialize(context.Background()))
		page, err := s.OpenPage(context.Background())
		require.NoError(t, err)

		s.Cleanup(context.Background())

		assert.Equal(t, StateClosed, s.State())
		assert.False(t, s.IsHealthy())
		assert.Equal(t, int32(1), (*procs)[0].closed.Load())
		assert.Equal(t, int32(1), (*procs)[0].pages[0].closed.Load())

		// Closing a page the session already closed is a no-op.
		assert.NoError(t, page.Close(context.Background()))
		assert.Equal(t, int32(1), (*procs)[0].pages[0].closed.Load())
	})

	t.Run("is idempotent and swallows close errors", func(t *testing.T) {
		l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
			p := newFakeProcess()
			p.closeErr = errors.New("already gone")
			return p, nil
		}}
		s := newTestSession(t, testBrowserConfig(), l)
		require.NoError(t, s.Initialize(context.Background()))

		s.Cleanup(context.Background())
		s.Cleanup(context.Background())
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("cleanup before initialize", func(t *testing.T) {
		l, _ := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		s.Cleanup(context.Background())
		assert.Equal(t, StateClosed, s.State())
		assert.Equal(t, int32(0), l.calls.Load())
	})

	t.Run("closed session rejects work", func(t *testing.T) {
		l, _ := succeedingLauncher()
		s := newTestSession(t, testBrowserConfig(), l)
		require.NoError(t, s.Initialize(context.Background()))
		s.Cleanup(context.Background())

		_, err := s.OpenPage(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrSessionClosed)

		err = s.Initialize(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
		assert.Equal(t, int32(1), l.calls.Load())
	})
}

func TestSession_CleanupInterruptsLaunchBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := &fakeLauncher{launch: func(context.Context, int) (Process, error) {
		return nil, errors.New("chrome exited")
	}}
	cfg := testBrowserConfig()
	cfg.LaunchRetryDelay = time.Hour
	s := newTestSession(t, cfg, l)

	errc := make(chan error, 1)
	go func() { errc <- s.Initialize(context.Background()) }()

	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, 5*time.Second, time.Millisecond)
	s.Cleanup(context.Background())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize kept sleeping after cleanup")
	}
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_RevokedPages(t *testing.T) {
	l, _ := succeedingLauncher()
	s := newTestSession(t, testBrowserConfig(), l)
	require.NoError(t, s.Initialize(context.Background()))

	released, err := s.OpenPage(context.Background())
	require.NoError(t, err)
	held, err := s.OpenPage(context.Background())
	require.NoError(t, err)

	require.NoError(t, released.Close(context.Background()))
	assert.False(t, Revoked(released), "a page its request closed is not revoked")
	assert.False(t, Revoked(held))

	s.Cleanup(context.Background())
	assert.True(t, Revoked(held))
	assert.False(t, Revoked(released))
	assert.False(t, Revoked(&fakePage{id: "untracked"}))

	err = ClosedDuringRequest(errors.New("navigation failed"))
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
	assert.Equal(t, apperrors.CategorySessionClosed, apperrors.CategoryOf(err))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "busy", StateBusy.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
