// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagelens/internal/config"
	"github.com/xkilldash9x/pagelens/internal/metrics"
	"github.com/xkilldash9x/pagelens/internal/observability"
	"github.com/xkilldash9x/pagelens/internal/service"
)

// cli carries state shared by one command tree. Tests build their own tree with
// newRootCmd so nothing leaks between runs.
type cli struct {
	cfgFile     string
	chromePath  string
	cookiesFile string
	showBrowser bool

	cfg      *config.Config
	registry *prometheus.Registry

	// serviceOpts are appended to the options every command builds its service with.
	serviceOpts []service.Option
}

// newRootCmd builds the full command tree.
func newRootCmd(opts ...service.Option) *cobra.Command {
	c := &cli{serviceOpts: opts}

	rootCmd := &cobra.Command{
		Use:           "pagelens",
		Short:         "pagelens renders web pages in headless Chrome and returns screenshots or console output.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initialize(cmd)
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.pagelens/config.yaml)")
	flags.StringVar(&c.chromePath, "chrome-path", "", "path to the Chrome or Chromium binary (overrides config)")
	flags.StringVar(&c.cookiesFile, "cookies-file", "", "JSON file of default cookies applied to every request (overrides config)")
	flags.BoolVar(&c.showBrowser, "show-browser", false, "run Chrome with a visible window")

	rootCmd.AddCommand(
		newScreenshotCmd(c),
		newConsoleCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with a context that is canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// initialize loads configuration, applies flag overrides and starts logging.
func (c *cli) initialize(cmd *cobra.Command) error {
	v := viper.New()
	config.SetDefaults(v)
	if err := readConfigFile(v, c.cfgFile); err != nil {
		return err
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}

	if c.chromePath != "" {
		cfg.SetBrowserExecPath(c.chromePath)
	}
	if c.cookiesFile != "" {
		cfg.SetCookiesFile(c.cookiesFile)
	}
	if c.showBrowser {
		cfg.SetBrowserHeadless(false)
	}
	c.cfg = cfg

	observability.InitializeLogger(cfg.Logger())
	observability.GetLogger().Debug("Configuration loaded.",
		zap.String("command", cmd.Name()),
		zap.String("config_file", v.ConfigFileUsed()),
		zap.String("version", Version),
	)
	return nil
}

// readConfigFile reads an explicit file, or the first config.yaml found in the working
// directory or ~/.pagelens. A missing default file is not an error.
func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pagelens"))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// newService builds the facade used by every command, with its own metrics registry.
func (c *cli) newService() (*service.Service, error) {
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(c.registry, c.cfg.Metrics().Namespace)

	opts := append([]service.Option{service.WithMetrics(recorder)}, c.serviceOpts...)
	svc, err := service.New(c.cfg, observability.GetLogger(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	return svc, nil
}
