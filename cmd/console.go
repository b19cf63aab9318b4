// File: cmd/console.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagelens/internal/service"
)

func newConsoleCmd(c *cli) *cobra.Command {
	var (
		params     service.ConsoleParams
		noSanitize bool
	)

	consoleCmd := &cobra.Command{
		Use:   "console <url>",
		Short: "Load a page and print what it logs to the browser console",
		Example: `  pagelens console https://example.com --timeout 3000
  pagelens console https://example.com --levels error,warn --wait-network-idle`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.URL = args[0]
			if noSanitize {
				off := false
				params.Sanitize = &off
			}

			svc, err := c.newService()
			if err != nil {
				return err
			}
			defer svc.Shutdown(cmd.Context())

			resp := svc.ReadConsole(cmd.Context(), params)
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if resp.Error != nil {
				return responseError(resp)
			}
			return nil
		},
	}

	flags := consoleCmd.Flags()
	flags.IntVar(&params.Timeout, "timeout", 0, "collection window in milliseconds (1000-120000, default from config)")
	flags.BoolVar(&noSanitize, "no-sanitize", false, "keep tokens, emails and keys in the output")
	flags.BoolVar(&params.WaitForNetworkIdle, "wait-network-idle", false, "stop collecting once network activity settles")
	flags.StringSliceVar(&params.LogLevels, "levels", nil, "levels to keep: log, info, warn, error, debug (default from config)")

	return consoleCmd
}
