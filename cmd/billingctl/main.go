package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	"github.com/fatflowers/billing/internal/platform/identity"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "billingctl",
		Short:   "Operational commands for the billing service",
		Version: Version,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(activateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp starts the core graph (no HTTP server, no background sweeper), runs fn and stops it.
func withApp(ctx context.Context, fn func(ctx context.Context) error, targets ...any) error {
	a := fx.New(app.CoreModule, fx.NopLogger, fx.Populate(targets...))
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	runErr := fn(ctx)
	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop: %w", err)
	}
	return runErr
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// the db module migrates on construction
			return withApp(cmd.Context(), func(context.Context) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry and activation-retry pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sweeper *expiration.Sweeper
			return withApp(cmd.Context(), func(ctx context.Context) error {
				res, err := sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}, &sweeper)
		},
	}
}

func activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate [transaction-id]",
		Short: "Activate a paid transaction whose services were not granted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mgr checkout.Manager
			return withApp(cmd.Context(), func(ctx context.Context) error {
				res, err := mgr.Activate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}, &mgr)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a bearer token for a customer or admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			tok, err := identity.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(args[0], types.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(types.RoleCustomer), "customer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
