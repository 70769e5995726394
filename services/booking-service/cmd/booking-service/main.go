package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/slotdesk/libs/config"
	"github.com/md-rashed-zaman/slotdesk/libs/runtime"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/handlers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "slotdesk",
		Short:         "Appointment availability and booking admission service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")

	source := func() (*config.Source, error) {
		return config.Load(envFile)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, outbox publisher and notifier",
			RunE: func(cmd *cobra.Command, _ []string) error {
				src, err := source()
				if err != nil {
					return err
				}
				cfg, err := loadServeConfig(src)
				if err != nil {
					return err
				}
				ctx, stop := runtime.SignalContext(cmd.Context())
				defer stop()
				return serve(ctx, cfg, runtime.NewLogger(cfg.ServiceName))
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				src, err := source()
				if err != nil {
					return err
				}
				cfg, err := loadStoreConfig(src)
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg, runtime.NewLogger("slotdesk-migrate"))
			},
		},
		&cobra.Command{
			Use:   "hash-password <password>",
			Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				hash, err := handlers.HashPassword(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			},
		},
	)
	return root
}
