// File: internal/service/types.go
package service

import (
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Bounds on tool parameters. A zero value means "use the configured default".
const (
	MinDimension = 200
	MaxDimension = 4000
	MinQuality   = 1
	MaxQuality   = 100
	MinTimeoutMs = 1000
	MaxTimeoutMs = 120000
)

// CommandRequest is one tool invocation, e.g. {"command":"screenshot","params":{...}}.
type CommandRequest struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope every operation returns.
type Response struct {
	ID     string        `json:"id,omitempty"`
	Status string        `json:"status"` // "success" or "error"
	Data   interface{}   `json:"data,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is the structured failure. Fields lists per-field violations for
// validation errors.
type ErrorPayload struct {
	Category apperrors.Category    `json:"category"`
	Message  string                `json:"message"`
	Fields   []apperrors.Violation `json:"fields,omitempty"`
}

// ScreenshotParams are the screenshot tool's parameters. Timeout is in milliseconds.
type ScreenshotParams struct {
	URL                string `json:"url"`
	Width              int    `json:"width,omitempty"`
	Height             int    `json:"height,omitempty"`
	Format             string `json:"format,omitempty"`
	Quality            int    `json:"quality,omitempty"`
	WaitForNetworkIdle bool   `json:"waitForNetworkIdle,omitempty"`
	Timeout            int    `json:"timeout,omitempty"`
	FullPage           bool   `json:"fullPage,omitempty"`
	Selector           string `json:"selector,omitempty"`
}

// ConsoleParams are the console tool's parameters. Timeout is in milliseconds and
// Sanitize defaults to the configured value when omitted.
type ConsoleParams struct {
	URL                string   `json:"url"`
	Timeout            int      `json:"timeout,omitempty"`
	Sanitize           *bool    `json:"sanitize,omitempty"`
	WaitForNetworkIdle bool     `json:"waitForNetworkIdle,omitempty"`
	LogLevels          []string `json:"logLevels,omitempty"`
}

func checkScreenshotParams(p ScreenshotParams) error {
	verr := &apperrors.ValidationError{}
	if p.URL == "" {
		verr.Add("url", "is required")
	}
	checkRange(verr, "width", p.Width, MinDimension, MaxDimension)
	checkRange(verr, "height", p.Height, MinDimension, MaxDimension)
	checkRange(verr, "quality", p.Quality, MinQuality, MaxQuality)
	checkRange(verr, "timeout", p.Timeout, MinTimeoutMs, MaxTimeoutMs)
	return verr.OrNil()
}

func checkConsoleParams(p ConsoleParams) error {
	verr := &apperrors.ValidationError{}
	if p.URL == "" {
		verr.Add("url", "is required")
	}
	checkRange(verr, "timeout", p.Timeout, MinTimeoutMs, MaxTimeoutMs)
	return verr.OrNil()
}

// checkRange accepts zero (unset) or a value within [min, max].
func checkRange(verr *apperrors.ValidationError, field string, v, min, max int) {
	if v != 0 && (v < min || v > max) {
		verr.Add(field, "must be between %d and %d", min, max)
	}
}
