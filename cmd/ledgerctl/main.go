package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/CoachLedger/internal/config"
	"github.com/saeid-a/CoachLedger/internal/database"
	"github.com/saeid-a/CoachLedger/internal/logging"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/internal/processor"
	"github.com/saeid-a/CoachLedger/internal/services"
	"github.com/saeid-a/CoachLedger/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Operator tools for the payment ledger",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			return applyConfigFile(configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file whose values override the environment")

	rootCmd.AddCommand(sweepOvertimeCmd())
	rootCmd.AddCommand(replayWebhookCmd())
	rootCmd.AddCommand(issueTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sweepOvertimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overtime",
		Short: "Expire stale overtime requests and release old authorization holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *services.Engine) error {
				result, err := engine.Overtime.SweepStaleAuthorizations(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func replayWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-webhook <log-id>",
		Short: "Re-dispatch a stored webhook delivery through the reconcilers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *services.Engine) error {
				result, err := engine.Webhooks.Replay(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func issueTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue-token <user-id>",
		Short: "Sign a bearer token for calling the API as a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("user id must be numeric: %w", err)
			}
			role, _ := cmd.Flags().GetString("role")
			switch role {
			case models.RoleUser, models.RoleCoach, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			token, err := utils.GenerateToken(args[0], role, cfg.JWTSecret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringP("role", "r", models.RoleAdmin, "Role claim (user, coach, admin)")
	return cmd
}

// withEngine wires the engine against the configured database and
// processor. Realtime events are not published from the CLI.
func withEngine(ctx context.Context, fn func(engine *services.Engine) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DBUrl == "" {
		return fmt.Errorf("DB_URL is required")
	}

	zlog, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	pool, err := database.Connect(ctx, cfg.DBUrl)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(newEngine(cfg, pool, zlog))
}

func newEngine(cfg *config.Config, pool *pgxpool.Pool, zlog *zap.Logger) *services.Engine {
	return services.NewEngine(
		services.EngineConfigFrom(cfg),
		services.NewPgUnitOfWork(pool),
		processor.NewStripeClient(cfg.StripeSecretKey),
		processor.NewStripeEventVerifier(cfg.StripeWebhookSecret),
		nil,
		zlog.Named("ledgerctl"),
	)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
