// Command LeadPipe runs the WhatsApp lead-qualification agent.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/logx"
)

// app carries state shared by the subcommands.
type app struct {
	envFiles []string
	logLevel string
	cfg      config.Config
}

func main() {
	logx.Init(logx.Options{Level: os.Getenv("LOG_LEVEL")})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logx.Error().Err(err).Msg("LeadPipe exited with error")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "LeadPipe",
		Short:         "WhatsApp sales-qualification agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides $LOG_LEVEL)")

	root.AddCommand(newServeCmd(a), newChatCmd(a), newAnalyzeCmd(a))
	return root
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logx.Init(logx.Options{Production: cfg.Environment().IsProduction(), Level: cfg.LogLevel})
	logx.Debug().Str("env", cfg.Environment().String()).Msg("configuration loaded")
	a.cfg = cfg
	return nil
}
