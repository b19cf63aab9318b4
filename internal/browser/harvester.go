// internal/browser/harvester.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// maxIdleCheckInterval caps how often WaitNetworkIdle polls the in-flight count.
const maxIdleCheckInterval = 100 * time.Millisecond

// Harvester listens to one tab's CDP event stream. It tracks in-flight network
// requests for idle detection and forwards console API calls to a single handler.
type Harvester struct {
	logger *zap.Logger
	now    func() time.Time

	listenerCtx    context.Context
	cancelListener context.CancelFunc

	mu             sync.Mutex
	inflight       map[network.RequestID]struct{}
	lastActivity   time.Time
	consoleHandler func(ConsoleEvent)
}

// NewHarvester creates a harvester. Call Start to attach it to a tab.
func NewHarvester(logger *zap.Logger) *Harvester {
	return &Harvester{
		logger:   logger.Named("harvester"),
		now:      time.Now,
		inflight: make(map[network.RequestID]struct{}),
	}
}

// Start enables the network and runtime domains on tabCtx and begins listening.
// runCtx bounds the enable calls; tabCtx owns the listener's lifetime.
func (h *Harvester) Start(tabCtx, runCtx context.Context) error {
	h.mu.Lock()
	if h.cancelListener != nil {
		h.mu.Unlock()
		return nil
	}
	h.listenerCtx, h.cancelListener = context.WithCancel(tabCtx)
	h.lastActivity = h.now()
	h.mu.Unlock()

	chromedp.ListenTarget(h.listenerCtx, h.handleEvent)

	if err := chromedp.Run(runCtx, network.Enable(), runtime.Enable()); err != nil {
		h.Stop()
		return fmt.Errorf("enabling network and runtime domains: %w", err)
	}
	return nil
}

// Stop detaches the listener. Safe to call more than once.
func (h *Harvester) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelListener != nil {
		h.cancelListener()
	}
	h.consoleHandler = nil
}

// SetConsoleHandler replaces the console handler. nil disables forwarding.
func (h *Harvester) SetConsoleHandler(fn func(ConsoleEvent)) {
	h.mu.Lock()
	h.consoleHandler = fn
	h.mu.Unlock()
}

// InflightCount returns the number of requests that have started but not finished.
func (h *Harvester) InflightCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

func (h *Harvester) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.trackRequest(e.RequestID, true)
	case *network.EventLoadingFinished:
		h.trackRequest(e.RequestID, false)
	case *network.EventLoadingFailed:
		h.trackRequest(e.RequestID, false)
	case *runtime.EventConsoleAPICalled:
		h.handleConsoleAPICalled(e)
	}
}

// trackRequest records a request starting or ending. Redirects reuse the request ID,
// so a redirect hop does not count twice.
func (h *Harvester) trackRequest(id network.RequestID, started bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if started {
		h.inflight[id] = struct{}{}
	} else {
		delete(h.inflight, id)
	}
	h.lastActivity = h.now()
}

func (h *Harvester) handleConsoleAPICalled(e *runtime.EventConsoleAPICalled) {
	h.mu.Lock()
	handler := h.consoleHandler
	h.mu.Unlock()
	if handler == nil {
		return
	}

	args := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		args = append(args, formatConsoleArg(arg))
	}
	ts := h.now()
	if e.Timestamp != nil {
		ts = e.Timestamp.Time()
	}
	handler(ConsoleEvent{Type: string(e.Type), Args: args, Timestamp: ts})
}

// formatConsoleArg renders one console argument the way DevTools prints it: strings
// bare, other primitives as JSON, objects by description.
func formatConsoleArg(arg *runtime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		var v interface{}
		if err := json.Unmarshal([]byte(arg.Value), &v); err == nil {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return string(arg.Value)
	}
	if arg.UnserializableValue != "" {
		return string(arg.UnserializableValue)
	}
	if arg.Description != "" {
		return arg.Description
	}
	if arg.Type == runtime.TypeUndefined {
		return "undefined"
	}
	return fmt.Sprintf("[%s]", arg.Type)
}

// WaitNetworkIdle returns once no request has been in flight for quiet.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	interval := quiet / 2
	if interval <= 0 || interval > maxIdleCheckInterval {
		interval = maxIdleCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if h.idleFor(quiet) {
			h.logger.Debug("Network is idle.", zap.Duration("quiet", quiet))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Harvester) idleFor(quiet time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight) == 0 && h.now().Sub(h.lastActivity) >= quiet
}
