// internal/browser/page.go
package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/cookies"
)

// ElementBox is an element's visible area in document coordinates (CSS pixels),
// already clipped to the viewport.
type ElementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementStatus is the outcome of a single element lookup.
type ElementStatus string

const (
	ElementVisible ElementStatus = "visible"
	// ElementHidden means the selector matched but nothing of the element is on screen.
	ElementHidden  ElementStatus = "hidden"
	ElementMissing ElementStatus = "missing"
	ElementInvalid ElementStatus = "invalid"
)

// ElementProbe is what LocateElement saw. Box is only meaningful when Status is ElementVisible.
type ElementProbe struct {
	Status  ElementStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Box     ElementBox    `json:"box"`
}

// ConsoleEvent is one console API call observed on a page. Type is the raw CDP
// console API type ("log", "warning", "assert", ...).
type ConsoleEvent struct {
	Type      string
	Args      []string
	Timestamp time.Time
}

// Page is one isolated browsing context opened from a Session. Cookies, viewport and
// listeners set on a Page never leak into another Page.
type Page interface {
	ID() string
	SetViewport(ctx context.Context, width, height int) error
	// SetCookies installs cookies before navigation. Cookies without a domain are bound to pageURL.
	SetCookies(ctx context.Context, list []cookies.Cookie, pageURL string) error
	Navigate(ctx context.Context, url string) error
	// WaitNetworkIdle returns once no request has been in flight for quiet.
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	// CaptureViewport, CaptureFullPage and CaptureClip return PNG rasters.
	CaptureViewport(ctx context.Context) ([]byte, error)
	CaptureFullPage(ctx context.Context) ([]byte, error)
	CaptureClip(ctx context.Context, box ElementBox) ([]byte, error)
	LocateElement(ctx context.Context, selector string) (ElementProbe, error)
	// OnConsole registers the page's console handler. It must be set before Navigate
	// to see early messages. Handlers run on the event goroutine and must not block.
	OnConsole(handler func(ConsoleEvent))
	Close(ctx context.Context) error
}

// PageSource hands out isolated pages. *Session is the production implementation.
type PageSource interface {
	EnsureReady(ctx context.Context) error
	OpenPage(ctx context.Context) (Page, error)
}

var _ PageSource = (*Session)(nil)

// Navigate loads url on page within limit. A timeout is a navigation_timeout, any
// other failure a navigation_error.
func Navigate(ctx context.Context, page Page, url string, limit time.Duration) error {
	err := apperrors.RunPhase(ctx, apperrors.PhaseNavigation, limit, func(c context.Context) error {
		return page.Navigate(c, url)
	})
	if err == nil || apperrors.CategoryOf(err) != apperrors.CategoryInternal {
		return err
	}
	return apperrors.Wrap(apperrors.CategoryNavigation, err, "navigation to %s failed", url)
}
