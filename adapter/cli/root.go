package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

var logger *slog.Logger

type commandContext struct {
	correlationID string
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billcycle",
	Short: "billcycle - subscription and billing client",
	Long: `billcycle keeps a local view of your service subscription in sync
with the billing backend.

	It shows where each bill is in its cycle, submits payments and
	proof of payment, and manages plan changes and cancellation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		info := commandContext{
			correlationID: uuid.NewString(),
			startedAt:     time.Now(),
		}
		ctx = observability.WithCorrelationID(ctx, info.correlationID)
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.Debug("command start",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
		)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.Debug("command end",
			"command", cmd.CommandPath(),
			observability.CorrelationIDKey, info.correlationID,
			observability.DurationKey, time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// Execute runs the root command and prints any error for the user.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err))
	}
	return err
}

// FormatError renders a billing error as its user-facing message. Other
// errors, such as bad flags, keep their text.
func FormatError(err error) string {
	switch {
	case domain.IsValidation(err), domain.IsTransient(err), domain.IsServerRejection(err),
		domain.IsIntegrity(err), domain.IsProcessing(err):
		return domain.UserMessage(err)
	default:
		return err.Error()
	}
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}
