// Package cli provides the Cobra-based cartctl commands used by operators to
// migrate and audit the carts collection.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/config"
	"github.com/fjod/go_cart/techstore-cart/internal/repository"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Maintainer is the set of operator operations on the carts collection.
type Maintainer interface {
	EnsureSchema(ctx context.Context) error
	DropLegacyIndexes(ctx context.Context) ([]string, error)
	FindInvalidOwners(ctx context.Context, limit int64) ([]repository.InvalidCart, error)
	RepairInvalidOwners(ctx context.Context) (*repository.RepairReport, error)
	PurgeAbandonedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

var (
	rootCmd = &cobra.Command{
		Use:           "cartctl",
		Short:         "Maintenance tool for the TechStore carts collection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg := viper.GetString("config"); cfg != "" {
				viper.SetConfigFile(cfg)
				if err := viper.ReadInConfig(); err != nil {
					return err
				}
			}

			lvl, err := config.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(
				slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}),
			))

			// tests inject their own maintainer
			if maintainer != nil {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
			defer cancel()
			db, err := repository.ConnectMongoDB(ctx, viper.GetString("mongo-uri"), viper.GetString("mongo-db"))
			if err != nil {
				return err
			}
			disconnect = func() {
				if err := db.Client().Disconnect(context.Background()); err != nil {
					slog.Warn("disconnect failed", "error", err)
				}
			}
			maintainer = repository.NewMaintenance(db)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if disconnect != nil {
				disconnect()
				disconnect = nil
				maintainer = nil
			}
		},
	}

	maintainer Maintainer
	disconnect func()
)

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, viper.GetDuration("timeout"))
}

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func init() {
	rootCmd.PersistentFlags().String("mongo-uri", "mongodb://localhost:27017/?replicaSet=rs0", "MongoDB connection string")
	rootCmd.PersistentFlags().String("mongo-db", "techstore", "MongoDB database name")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "overall timeout per command")
	rootCmd.PersistentFlags().String("config", "", "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")

	for _, name := range []string{"mongo-uri", "mongo-db", "timeout", "config", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	viper.SetEnvPrefix("CARTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// ensure-indexes
	ensureCmd := &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Install the owner validator and partial unique indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			start := time.Now()
			if err := maintainer.EnsureSchema(ctx); err != nil {
				slog.Error("ensure indexes failed", "error", err)
				return err
			}
			slog.Info("schema ensured", "duration_ms", time.Since(start).Milliseconds())
			fmt.Fprintln(cmd.OutOrStdout(), "schema ensured")
			return nil
		},
	}
	rootCmd.AddCommand(ensureCmd)

	// drop-legacy-indexes
	dropCmd := &cobra.Command{
		Use:   "drop-legacy-indexes",
		Short: "Drop non-partial indexes on user_id/session_id left by older deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			dropped, err := maintainer.DropLegacyIndexes(ctx)
			for _, name := range dropped {
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", name)
			}
			if err != nil {
				return err
			}
			if len(dropped) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no legacy indexes")
			}
			return nil
		},
	}
	rootCmd.AddCommand(dropCmd)

	// audit
	var auditLimit int64
	var auditOutput string
	var auditStrict bool
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "List carts with both or neither owner set",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			invalid, err := maintainer.FindInvalidOwners(ctx, auditLimit)
			if err != nil {
				return err
			}

			if auditOutput == "json" {
				if invalid == nil {
					invalid = []repository.InvalidCart{}
				}
				if err := printJSON(cmd.OutOrStdout(), invalid); err != nil {
					return err
				}
			} else {
				for _, c := range invalid {
					fmt.Fprintf(cmd.OutOrStdout(), "%s | user=%q | session=%q | %d items | %s\n",
						c.ID, c.UserID, c.SessionID, c.Items, c.UpdatedAt.Format(time.RFC3339))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d invalid carts\n", len(invalid))
			}

			if auditStrict && len(invalid) > 0 {
				return fmt.Errorf("found %d invalid carts", len(invalid))
			}
			return nil
		},
	}
	auditCmd.Flags().Int64Var(&auditLimit, "limit", 100, "max carts to list, 0 for all")
	auditCmd.Flags().StringVar(&auditOutput, "output", "", "output format: json")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "exit non-zero when invalid carts exist")
	rootCmd.AddCommand(auditCmd)

	// repair
	var force bool
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Delete ownerless carts and detach sessions from user carts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				fmt.Fprint(cmd.OutOrStdout(), "Repair carts collection? (y/N): ")
				resp, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if resp = strings.TrimSpace(resp); resp != "y" && resp != "Y" {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			report, err := maintainer.RepairInvalidOwners(ctx)
			if err != nil {
				slog.Error("repair failed", "error", err)
				return err
			}
			if len(report.Conflicts) > 0 {
				slog.Warn("carts left for manual review", "count", len(report.Conflicts))
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	repairCmd.Flags().BoolVar(&force, "force", false, "skip confirmation")
	rootCmd.AddCommand(repairCmd)

	// purge-sessions
	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete anonymous carts not updated within --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			n, err := maintainer.PurgeAbandonedSessions(ctx, olderThan)
			if err != nil {
				return err
			}
			slog.Info("session carts purged", "deleted", n, "older_than", olderThan.String())
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session carts\n", n)
			return nil
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum idle time")
	rootCmd.AddCommand(purgeCmd)
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
