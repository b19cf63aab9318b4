// File: cmd/screenshot.go
package cmd

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagelens/internal/capture"
	"github.com/xkilldash9x/pagelens/internal/service"
)

func newScreenshotCmd(c *cli) *cobra.Command {
	var (
		params service.ScreenshotParams
		output string
	)

	screenshotCmd := &cobra.Command{
		Use:   "screenshot <url>",
		Short: "Capture the viewport, the full page, or one element of a page",
		Example: `  pagelens screenshot https://example.com -o example.webp
  pagelens screenshot https://example.com --full-page --format png -o page.png
  pagelens screenshot https://example.com --selector "#main" --format jpeg --quality 90`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.URL = args[0]

			svc, err := c.newService()
			if err != nil {
				return err
			}
			defer svc.Shutdown(cmd.Context())

			resp := svc.Screenshot(cmd.Context(), params)
			if resp.Error != nil {
				_ = writeJSON(cmd.OutOrStdout(), resp)
				return responseError(resp)
			}
			if output == "" {
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			res := resp.Data.(capture.Result)
			if err := saveImage(output, res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %dx%d %s to %s\n", res.Width, res.Height, res.MimeType, output)
			return nil
		},
	}

	flags := screenshotCmd.Flags()
	flags.IntVar(&params.Width, "width", 0, "viewport width in pixels (200-4000, default from config)")
	flags.IntVar(&params.Height, "height", 0, "viewport height in pixels (200-4000, default from config)")
	flags.StringVarP(&params.Format, "format", "f", "", "output format: webp, png or jpeg (default from config)")
	flags.IntVarP(&params.Quality, "quality", "q", 0, "lossy quality 1-100 (default from config)")
	flags.BoolVar(&params.FullPage, "full-page", false, "capture the whole scrollable page")
	flags.StringVarP(&params.Selector, "selector", "s", "", "capture only the first element matching this CSS selector")
	flags.BoolVar(&params.WaitForNetworkIdle, "wait-network-idle", false, "wait for network activity to settle before capturing")
	flags.IntVar(&params.Timeout, "timeout", 0, "request timeout in milliseconds (1000-120000)")
	flags.StringVarP(&output, "output", "o", "", "write the decoded image here instead of printing JSON")

	return screenshotCmd
}

func saveImage(path string, res capture.Result) error {
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image to %s: %w", path, err)
	}
	return nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// responseError turns a failed envelope into the command's exit error.
func responseError(resp service.Response) error {
	return fmt.Errorf("%s: %s", resp.Error.Category, resp.Error.Message)
}
