// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagelens/internal/config"
)

const fixtureHTML = `<!DOCTYPE html>
<html>
<head>
<style>
  body { margin: 0; font-family: sans-serif; }
  .container { width: 300px; height: 120px; margin: 40px; background: #3366cc; }
  #tall { height: 3000px; }
  #hidden { display: none; }
</style>
</head>
<body>
  <div class="container"><span id="timestamp">ready</span></div>
  <div id="hidden">secret</div>
  <div id="tall"></div>
  <div id="below">below the fold</div>
  <script>
    console.log("fixture loaded", 7);
    console.warn("careful");
    console.error("bad thing");
  </script>
</body>
</html>`

var chromeCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// findChrome returns a local Chrome binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome or Chromium binary found on PATH")
	return ""
}

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(fixtureHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newChromeSession starts a real browser session closed at test cleanup.
func newChromeSession(t *testing.T) *Session {
	t.Helper()
	cfg := config.BrowserConfig{
		Headless:         true,
		ExecPath:         findChrome(t),
		DisableGPU:       true,
		MaxPages:         4,
		LaunchRetries:    2,
		LaunchRetryDelay: 500 * time.Millisecond,
		LaunchTimeout:    30 * time.Second,
		CloseTimeout:     10 * time.Second,
	}
	s := NewSession(cfg, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, s.Initialize(ctx))
	t.Cleanup(func() { s.Cleanup(context.Background()) })
	return s
}
