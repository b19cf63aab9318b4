// internal/browser/tab_test.go
package browser

import (
	"bytes"
	"context"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFixturePage(t *testing.T, s *Session, url string) (Page, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	page, err := s.OpenPage(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = page.Close(context.Background()) })

	require.NoError(t, page.SetViewport(ctx, 800, 600))
	require.NoError(t, page.Navigate(ctx, url))
	return page, ctx
}

func pngSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestTab_Integration(t *testing.T) {
	s := newChromeSession(t)
	srv := newFixtureServer(t)

	t.Run("viewport capture matches the viewport", func(t *testing.T) {
		page, ctx := openFixturePage(t, s, srv.URL)
		data, err := page.CaptureViewport(ctx)
		require.NoError(t, err)
		w, h := pngSize(t, data)
		assert.Equal(t, 800, w)
		assert.Equal(t, 600, h)
	})

	t.Run("full page capture covers the document", func(t *testing.T) {
		page, ctx := openFixturePage(t, s, srv.URL)
		data, err := page.CaptureFullPage(ctx)
		require.NoError(t, err)
		w, h := pngSize(t, data)
		assert.GreaterOrEqual(t, w, 800)
		assert.Greater(t, h, 3000)
	})

	t.Run("locates visible elements", func(t *testing.T) {
		page, ctx := openFixturePage(t, s, srv.URL)
		probe, err := page.LocateElement(ctx, ".container")
		require.NoError(t, err)
		require.Equal(t, ElementVisible, probe.Status)
		assert.InDelta(t, 300, probe.Box.Width, 1)
		assert.InDelta(t, 120, probe.Box.Height, 1)

		data, err := page.CaptureClip(ctx, probe.Box)
		require.NoError(t, err)
		w, h := pngSize(t, data)
		assert.Equal(t, 300, w)
		assert.Equal(t, 120, h)
	})

	t.Run("classifies missing hidden and invalid selectors", func(t *testing.T) {
		page, ctx := openFixturePage(t, s, srv.URL)

		probe, err := page.LocateElement(ctx, "#does-not-exist")
		require.NoError(t, err)
		assert.Equal(t, ElementMissing, probe.Status)

		probe, err = page.LocateElement(ctx, "#hidden")
		require.NoError(t, err)
		assert.Equal(t, ElementHidden, probe.Status)

		probe, err = page.LocateElement(ctx, "#below")
		require.NoError(t, err)
		assert.Equal(t, ElementHidden, probe.Status, "outside the viewport")

		probe, err = page.LocateElement(ctx, "div[")
		require.NoError(t, err)
		assert.Equal(t, ElementInvalid, probe.Status)
		assert.NotEmpty(t, probe.Message)
	})

	t.Run("forwards console messages", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		page, err := s.OpenPage(ctx)
		require.NoError(t, err)
		defer page.Close(context.Background())

		var mu sync.Mutex
		var events []ConsoleEvent
		page.OnConsole(func(ev ConsoleEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})
		require.NoError(t, page.Navigate(ctx, srv.URL))

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(events) >= 3
		}, 5*time.Second, 20*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, len(events), 3)
		assert.Equal(t, "log", events[0].Type)
		assert.Equal(t, []string{"fixture loaded", "7"}, events[0].Args)
		assert.Equal(t, "warning", events[1].Type)
		assert.Equal(t, "error", events[2].Type)
	})

	t.Run("waits for network idle", func(t *testing.T) {
		page, ctx := openFixturePage(t, s, srv.URL)
		require.NoError(t, page.WaitNetworkIdle(ctx, 200*time.Millisecond))
	})
}
