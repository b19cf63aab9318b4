// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pagelens/internal/browser"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/cookies"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Capture() config.CaptureConfig {
	args := m.Called()
	return args.Get(0).(config.CaptureConfig)
}

func (m *MockConfig) Console() config.ConsoleConfig {
	args := m.Called()
	return args.Get(0).(config.ConsoleConfig)
}

func (m *MockConfig) Cookies() config.CookiesConfig {
	args := m.Called()
	return args.Get(0).(config.CookiesConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserExecPath(path string) {
	m.Called(path)
}

func (m *MockConfig) SetCookiesFile(path string) {
	m.Called(path)
}

// -- Browser Mocks --

// MockPageSource mocks browser.PageSource.
type MockPageSource struct {
	mock.Mock
}

func (m *MockPageSource) EnsureReady(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPageSource) OpenPage(ctx context.Context) (browser.Page, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.(browser.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPage mocks browser.Page. OnConsole stores the handler so tests can emit
// console events through EmitConsole.
type MockPage struct {
	mock.Mock

	mu      sync.Mutex
	handler func(browser.ConsoleEvent)
}

func (m *MockPage) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPage) SetViewport(ctx context.Context, width, height int) error {
	args := m.Called(ctx, width, height)
	return args.Error(0)
}

func (m *MockPage) SetCookies(ctx context.Context, list []cookies.Cookie, pageURL string) error {
	args := m.Called(ctx, list, pageURL)
	return args.Error(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	args := m.Called(ctx, quiet)
	return args.Error(0)
}

func (m *MockPage) CaptureViewport(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockPage) CaptureFullPage(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockPage) CaptureClip(ctx context.Context, box browser.ElementBox) ([]byte, error) {
	args := m.Called(ctx, box)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockPage) LocateElement(ctx context.Context, selector string) (browser.ElementProbe, error) {
	args := m.Called(ctx, selector)
	return args.Get(0).(browser.ElementProbe), args.Error(1)
}

func (m *MockPage) OnConsole(handler func(browser.ConsoleEvent)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	m.Called(handler)
}

// EmitConsole delivers ev to the registered console handler, if any.
func (m *MockPage) EmitConsole(ev browser.ConsoleEvent) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (m *MockPage) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context) (browser.Process, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.(browser.Process), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProcess mocks browser.Process. Done is closed by the first Close.
type MockProcess struct {
	mock.Mock
	once sync.Once
	done chan struct{}
}

func NewMockProcess() *MockProcess {
	return &MockProcess{done: make(chan struct{})}
}

func (m *MockProcess) NewPage(ctx context.Context) (browser.Page, error) {
	args := m.Called(ctx)
	if p := args.Get(0); p != nil {
		return p.(browser.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcess) Done() <-chan struct{} { return m.done }

func (m *MockProcess) Close(ctx context.Context) error {
	args := m.Called(ctx)
	m.once.Do(func() { close(m.done) })
	return args.Error(0)
}

func bytesArg(args mock.Arguments, i int) []byte {
	if b := args.Get(i); b != nil {
		return b.([]byte)
	}
	return nil
}

var (
	_ config.Interface   = (*MockConfig)(nil)
	_ browser.Page       = (*MockPage)(nil)
	_ browser.PageSource = (*MockPageSource)(nil)
	_ browser.Launcher   = (*MockLauncher)(nil)
	_ browser.Process    = (*MockProcess)(nil)
)

// Cleanup lets MockPageSource stand in for a whole browser backend.
func (m *MockPageSource) Cleanup(ctx context.Context) {
	m.Called(ctx)
}
