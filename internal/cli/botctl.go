// Package cli implements botctl, the operator command line.
//
//	botctl migrate               apply pending schema migrations
//	botctl set-key <key>         store the provider API key
//	botctl cleanup [--days N]    delete task records past retention
//	botctl task <task_id>        print a stored task record
//	botctl token --user <id>     mint a bearer token for manual testing
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"imagebot/internal/adapter/repo"
	"imagebot/internal/infra"
	"imagebot/internal/infra/credentials"
	"imagebot/internal/middleware"
	"imagebot/internal/retention"
)

// Deps supplies the resources commands need. Connections are opened lazily
// so commands that do not touch the database run without one.
type Deps struct {
	Config *infra.Config
	Logger zerolog.Logger
	// OpenSQL returns an executor and a function releasing it.
	OpenSQL func(ctx context.Context) (infra.SQLExecutor, func(), error)
	// Migrate applies pending migrations and returns the applied names.
	Migrate func(ctx context.Context) ([]string, error)
}

func BuildCLI(deps *Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "botctl",
		Short:         "Operator tooling for the image generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		buildMigrateCommand(deps),
		buildSetKeyCommand(deps),
		buildCleanupCommand(deps),
		buildTaskCommand(deps),
		buildTokenCommand(deps),
	)
	return root
}

func buildMigrateCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, err := deps.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func buildSetKeyCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <api_key>",
		Short: "Store the provider API key used when BFL_API_KEY is unset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cmd.Context(), deps, func(sql infra.SQLExecutor) error {
				if err := credentials.NewStore(sql).Put(cmd.Context(), credentials.ProviderBFL, args[0]); err != nil {
					return fmt.Errorf("set key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "api key stored")
				return nil
			})
		},
	}
}

func buildCleanupCommand(deps *Deps) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete task records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window := deps.Config.TaskRetention
			if days > 0 {
				window = time.Duration(days) * 24 * time.Hour
			}
			return withSQL(cmd.Context(), deps, func(sql infra.SQLExecutor) error {
				sweeper, err := retention.NewSweeper(retention.Options{
					Tasks:     repo.NewTaskRepository(sql),
					Retention: window,
					Logger:    deps.Logger,
				})
				if err != nil {
					return err
				}
				n, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d task records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (defaults to TASK_RETENTION_DAYS)")
	return cmd
}

func buildTaskCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task_id>",
		Short: "Print a stored task record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cmd.Context(), deps, func(sql infra.SQLExecutor) error {
				rec, err := repo.NewTaskRepository(sql).Find(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("task %s: %w", args[0], err)
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func buildTokenCommand(deps *Deps) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("token: --user must be a positive id")
			}
			if deps.Config.JWTSecret == "" {
				return errors.New("token: JWT_SECRET is not set")
			}
			token, err := middleware.SignJWT(deps.Config.JWTSecret, middleware.TokenClaims{
				Sub: strconv.FormatInt(userID, 10),
				Exp: time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id placed in the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func withSQL(ctx context.Context, deps *Deps, fn func(infra.SQLExecutor) error) error {
	sql, release, err := deps.OpenSQL(ctx)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer release()
	return fn(sql)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
