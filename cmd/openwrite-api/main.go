package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkalashnik/openwrite/pkg/api"
	"github.com/dkalashnik/openwrite/pkg/clock"
	"github.com/dkalashnik/openwrite/pkg/config"
	"github.com/dkalashnik/openwrite/pkg/mail"
	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "openwrite-api",
		Short:         "OpenWrite prompt, submission and waitlist server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			prompt.RegisterBuiltins()
			return config.LoadConfig(cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "openwrite.yaml", "path to the configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newCreateUserCmd())
	return root
}

func openStore() (*storage.Store, error) {
	return storage.Open(config.GetConfig().Server.DatabaseDSN)
}

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetConfig()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if migrate {
				if err := store.Migrate(ctx); err != nil {
					return err
				}
			}

			prompts, err := prompt.New(config.PromptsConfig{Source: prompt.SourceDatabase}, prompt.Deps{
				Clock:  clock.System{},
				Lookup: store,
			})
			if err != nil {
				return err
			}

			deps := api.Deps{
				Prompts:     prompts,
				Users:       store,
				Submissions: store,
				Profiles:    store,
				Waitlist:    store,
				Health:      store.Ping,
			}
			if cfg.Mail.Host != "" {
				deps.Mailer = mail.New(cfg.Mail)
			} else {
				log.Println("Warning: SMTP host not configured, /api/send-submission will fail.")
			}

			gin.SetMode(gin.ReleaseMode)
			return api.Run(ctx, cfg.Server.Addr, api.NewRouter(deps))
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run schema migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "seed-prompts",
		Short: "Schedule prompts for the coming days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				days = config.GetConfig().Server.SeedDays
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := store.SeedPrompts(ctx, time.Now(), days, prompt.DefaultRotation)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d days starting %s\n", n, clock.Day(time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "number of days to schedule (default from config)")
	return cmd
}

func newCreateUserCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a writer and print their API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			u, err := store.CreateUser(cmd.Context(), name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user:  %s\nname:  %s\ntoken: %s\n", u.ID, u.Name, u.APIToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the writer")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
