package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/mutorelay/app"
	"github.com/kilianp07/mutorelay/config"
	"github.com/kilianp07/mutorelay/infra/logger"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgPath   string
	serveAddr string
)

var rootCmd = &cobra.Command{
	Use:          "mutorelay",
	Short:        "WebSocket relay for the Muto robot",
	RunE:         serve,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// a missing .env is normal
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			logger.New("main").Warnf("load .env: %v", err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Initialize the robot hardware and serve clients",
	RunE:  serve,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json); defaults and K_ environment overrides when empty")
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides server.address")
	}
	rootCmd.AddCommand(serveCmd, versionCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Address = serveAddr
		if err := cfg.Server.Validate(); err != nil {
			return err
		}
	}
	svc, err := app.New(ctx, cfg, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
