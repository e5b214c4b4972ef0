package subscription

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	"github.com/felixgeelhaar/billcycle/internal/shared/infrastructure/security"
)

// FileProofSource reads a proof-of-payment image from disk.
type FileProofSource struct {
	Path string
	// MaxBytes bounds the read; larger files are cut one byte past it so
	// the payment workflow reports them as too large.
	MaxBytes int64
}

// ReadBytes implements application.ProofOfPaymentSource.
func (p FileProofSource) ReadBytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return security.ReadFileLimited(p.Path, p.MaxBytes)
}

func proofFile(app *cli.App, path string) FileProofSource {
	return FileProofSource{Path: path, MaxBytes: app.MaxProofBytes}
}

var payProofPath string

var payCmd = &cobra.Command{
	Use:   "pay <bill-id>",
	Short: "Pay a bill",
	Long: `Pay a due or overdue bill. Attach a proof of payment image with
--proof when paying by transfer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if _, err := ensureLoaded(cmd.Context(), app); err != nil {
			return err
		}

		var source billingApp.ProofOfPaymentSource
		if payProofPath != "" {
			source = proofFile(app, payProofPath)
		}
		if err := app.Gateway.PayBill(cmd.Context(), args[0], source); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Payment for bill %s sent.\n", args[0])
		return nil
	},
}

var submitProofCmd = &cobra.Command{
	Use:   "submit-proof <bill-id> <image>",
	Short: "Submit proof of payment for a bill",
	Long: `Upload an image of your payment receipt. The bill stays pending
verification until the payment is confirmed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := requireApp()
		if err != nil {
			return err
		}
		if _, err := ensureLoaded(cmd.Context(), app); err != nil {
			return err
		}
		if err := app.Gateway.SubmitProof(cmd.Context(), args[0], proofFile(app, args[1])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Proof of payment for bill %s submitted. It will be verified shortly.\n", args[0])
		return nil
	},
}

func init() {
	payCmd.Flags().StringVar(&payProofPath, "proof", "", "proof of payment image")
}
