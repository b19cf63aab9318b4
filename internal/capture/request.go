// internal/capture/request.go
package capture

import (
	"net/url"
	"time"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/cookies"
	"github.com/xkilldash9x/pagelens/internal/imaging"
)

// Mode selects what part of the page is rasterized.
type Mode string

const (
	ModeViewport Mode = "viewport"
	ModeFullPage Mode = "full_page"
	ModeElement  Mode = "element"
)

// Request describes one screenshot. Zero values select the configured defaults.
type Request struct {
	URL                string
	Width              int
	Height             int
	Format             string
	Quality            int
	WaitForNetworkIdle bool
	Timeout            time.Duration
	FullPage           bool
	Selector           string
	Cookies            []cookies.Cookie
}

// Mode reports which capture Capture dispatches req to.
func (r Request) Mode() Mode {
	switch {
	case r.Selector != "":
		return ModeElement
	case r.FullPage:
		return ModeFullPage
	default:
		return ModeViewport
	}
}

// Result is an encoded screenshot. Data is base64 (standard encoding).
type Result struct {
	Data        string `json:"data"`
	MimeType    string `json:"mimeType"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	TimestampMs int64  `json:"timestampMs"`
}

// plan is a validated request with defaults applied.
type plan struct {
	mode     Mode
	url      string
	width    int
	height   int
	format   imaging.Format
	quality  int
	idle     bool
	timeout  time.Duration
	selector string
	cookies  []cookies.Cookie
}

var allowedSchemes = map[string]bool{"http": true, "https": true, "file": true}

// newPlan validates req for mode. Every field violation is reported at once; a
// missing selector in element mode is its own error category.
func newPlan(mode Mode, req Request, cfg config.CaptureConfig) (plan, error) {
	if mode == ModeElement && req.Selector == "" {
		return plan{}, apperrors.New(apperrors.CategorySelectorRequired, "Selector is required for element capture")
	}

	p := plan{
		mode:     mode,
		url:      req.URL,
		width:    req.Width,
		height:   req.Height,
		quality:  req.Quality,
		idle:     req.WaitForNetworkIdle,
		timeout:  req.Timeout,
		selector: req.Selector,
	}
	if p.width == 0 {
		p.width = cfg.DefaultWidth
	}
	if p.height == 0 {
		p.height = cfg.DefaultHeight
	}
	if p.quality == 0 {
		p.quality = cfg.DefaultQuality
	}
	if p.timeout == 0 {
		p.timeout = cfg.RequestTimeout
	}

	verr := &apperrors.ValidationError{}
	if req.URL == "" {
		verr.Add("url", "is required")
	} else if u, err := url.Parse(req.URL); err != nil || !allowedSchemes[u.Scheme] || (u.Scheme != "file" && u.Host == "") {
		verr.Add("url", "must be an absolute http, https or file URL")
	}
	if p.width < cfg.MinDimension || p.width > cfg.MaxDimension {
		verr.Add("width", "must be between %d and %d", cfg.MinDimension, cfg.MaxDimension)
	}
	if p.height < cfg.MinDimension || p.height > cfg.MaxDimension {
		verr.Add("height", "must be between %d and %d", cfg.MinDimension, cfg.MaxDimension)
	}
	if p.quality < 1 || p.quality > 100 {
		verr.Add("quality", "must be between 1 and 100")
	}
	if p.timeout < 0 {
		verr.Add("timeout", "must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return plan{}, err
	}

	formatName := req.Format
	if formatName == "" {
		formatName = cfg.DefaultFormat
	}
	format, err := imaging.ParseFormat(formatName)
	if err != nil {
		return plan{}, err
	}
	p.format = format

	validated, err := cookies.Validate(req.Cookies)
	if err != nil {
		return plan{}, err
	}
	p.cookies = validated
	return p, nil
}
