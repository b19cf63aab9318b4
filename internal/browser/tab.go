// internal/browser/tab.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagelens/internal/cookies"
)

// locateElementJS resolves a selector and reports the part of the element that is
// inside the viewport, in document coordinates. %s is a JSON string literal.
const locateElementJS = `(function (selector) {
  let el;
  try {
    el = document.querySelector(selector);
  } catch (e) {
    return { status: "invalid", message: String((e && e.message) || e) };
  }
  if (!el) {
    return { status: "missing" };
  }
  const style = window.getComputedStyle(el);
  const r = el.getBoundingClientRect();
  const left = Math.max(0, r.left);
  const top = Math.max(0, r.top);
  const right = Math.min(window.innerWidth, r.right);
  const bottom = Math.min(window.innerHeight, r.bottom);
  if (style.display === "none" || style.visibility === "hidden" || right <= left || bottom <= top) {
    return { status: "hidden" };
  }
  return {
    status: "visible",
    box: { x: left + window.scrollX, y: top + window.scrollY, width: right - left, height: bottom - top }
  };
})(%s)`

// Tab is the chromedp implementation of Page: one target in its own browser context.
type Tab struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	harvester *Harvester
	closeOnce sync.Once
	closeErr  error
}

var _ Page = (*Tab)(nil)

// newTab attaches to a freshly created target. The first chromedp.Run on a tab context
// binds the target's event loop to that context, so it runs on tabCtx itself and ctx
// only bounds how long we wait.
func newTab(ctx context.Context, tabCtx context.Context, cancel context.CancelFunc, logger *zap.Logger) (*Tab, error) {
	id := uuid.New().String()
	t := &Tab{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger.With(zap.String("page_id", id)),
	}

	if err := runDetached(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("creating page target: %w", err)
	}

	t.harvester = NewHarvester(t.logger)
	runCtx, runCancel := CombineContext(tabCtx, ctx)
	defer runCancel()
	if err := t.harvester.Start(tabCtx, runCtx); err != nil {
		cancel()
		return nil, err
	}
	t.logger.Debug("Page opened.")
	return t, nil
}

// runDetached performs the first chromedp.Run on c without tying its lifetime to ctx.
func runDetached(ctx context.Context, c context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(c) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tab) ID() string { return t.id }

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (t *Tab) SetViewport(ctx context.Context, width, height int) error {
	return t.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (t *Tab) SetCookies(ctx context.Context, list []cookies.Cookie, pageURL string) error {
	if len(list) == 0 {
		return nil
	}
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		for _, ck := range list {
			params := network.SetCookie(ck.Name, ck.Value).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.Domain != "" {
				params = params.WithDomain(ck.Domain)
			} else {
				params = params.WithURL(pageURL)
			}
			if ck.Path != "" {
				params = params.WithPath(ck.Path)
			}
			if ck.SameSite != "" {
				params = params.WithSameSite(network.CookieSameSite(ck.SameSite))
			}
			if ck.Expires > 0 {
				sec, frac := math.Modf(ck.Expires)
				expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
				params = params.WithExpires(&expires)
			}
			if err := params.Do(c); err != nil {
				// The cookie name is safe to report; the value never is.
				return fmt.Errorf("setting cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.Navigate(url))
}

func (t *Tab) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return t.harvester.WaitNetworkIdle(ctx, quiet)
}

func (t *Tab) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// CaptureFullPage captures the whole scrollable document, never less than the viewport.
func (t *Tab) CaptureFullPage(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, _, _, cssLayoutViewport, _, cssContentSize, err := page.GetLayoutMetrics().Do(c)
		if err != nil {
			return fmt.Errorf("reading layout metrics: %w", err)
		}
		width, height := 0.0, 0.0
		if cssContentSize != nil {
			width, height = math.Ceil(cssContentSize.Width), math.Ceil(cssContentSize.Height)
		}
		if cssLayoutViewport != nil {
			width = math.Max(width, float64(cssLayoutViewport.ClientWidth))
			height = math.Max(height, float64(cssLayoutViewport.ClientHeight))
		}
		buf, err = captureRegion(c, page.Viewport{X: 0, Y: 0, Width: width, Height: height, Scale: 1})
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Tab) CaptureClip(ctx context.Context, box ElementBox) ([]byte, error) {
	// Whole-pixel clips avoid a blurred edge on fractional boxes.
	x, y := math.Floor(box.X), math.Floor(box.Y)
	clip := page.Viewport{
		X:      x,
		Y:      y,
		Width:  math.Max(1, math.Round(box.Width+box.X-x)),
		Height: math.Max(1, math.Round(box.Height+box.Y-y)),
		Scale:  1,
	}
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = captureRegion(c, clip)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func captureRegion(ctx context.Context, clip page.Viewport) ([]byte, error) {
	return page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormatPng).
		WithCaptureBeyondViewport(true).
		WithFromSurface(true).
		WithClip(&clip).
		Do(ctx)
}

func (t *Tab) LocateElement(ctx context.Context, selector string) (ElementProbe, error) {
	literal, err := json.MarshalToString(selector)
	if err != nil {
		return ElementProbe{}, fmt.Errorf("encoding selector: %w", err)
	}
	var raw []byte
	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(locateElementJS, literal), &raw)); err != nil {
		return ElementProbe{}, err
	}
	var probe ElementProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ElementProbe{}, fmt.Errorf("decoding element probe: %w", err)
	}
	return probe, nil
}

func (t *Tab) OnConsole(handler func(ConsoleEvent)) {
	t.harvester.SetConsoleHandler(handler)
}

// Close closes the target and disposes its browser context. Safe to call more than once.
func (t *Tab) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.harvester.Stop()
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(t.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.closeErr = fmt.Errorf("closing page: %w", err)
			}
		case <-ctx.Done():
			t.closeErr = fmt.Errorf("closing page: %w", ctx.Err())
		}
		t.cancel()
		t.logger.Debug("Page closed.")
	})
	return t.closeErr
}
