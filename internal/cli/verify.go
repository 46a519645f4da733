package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	verifyClaimIDs    []string
	verifyDocumentIDs []string
	verifyRoot        string
	onlyUnverified    bool
	verifyTimeout     time.Duration

	resolveStatus    string
	resolution       string
	resolveReasoning string
	resolvedBy       string
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify claims against the corpus, references and generators",
	Long: `Verify runs the verification signals over claims selected by id or by
document and records the aggregated verdict on each claim.

Example:
  concordia verify --document 4f1c...
  concordia verify --claim 77aa... --claim 88bb... --reference-root ./src
  concordia verify --document 4f1c... --only-unverified`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(verifyClaimIDs) == 0 && len(verifyDocumentIDs) == 0 {
			return newUsageError("pass --claim or --document")
		}
		req := pipeline.VerifyRequest{
			ClaimIDs:       verifyClaimIDs,
			DocumentIDs:    verifyDocumentIDs,
			ReferenceRoot:  verifyRoot,
			OnlyUnverified: onlyUnverified,
		}
		return runEngine(cmd, verifyTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
			return e.VerifyClaims(ctx, req)
		})
	},
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Move a conflict to a new status",
	Long: `Resolve records a decision on a detected conflict. Allowed transitions:

  unresolved     -> investigating, resolved, ignored, escalated
  investigating  -> resolved, ignored, escalated

Resolved, ignored and escalated are final. Resolving requires --resolution and --by.

Example:
  concordia resolve c3d4... --status investigating
  concordia resolve c3d4... --status resolved --resolution chose_a --by alice --reasoning "ADR-7 wins"`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := pipeline.ResolveRequest{
			ConflictID: args[0],
			Status:     resolveStatus,
			Resolution: resolution,
			Reasoning:  resolveReasoning,
			ResolvedBy: resolvedBy,
		}
		return runEngine(cmd, 0, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
			return e.ResolveConflict(ctx, req)
		})
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringSliceVar(&verifyClaimIDs, "claim", nil, "claim ids to verify")
	verifyCmd.Flags().StringSliceVar(&verifyDocumentIDs, "document", nil, "verify every live claim of these documents")
	verifyCmd.Flags().StringVar(&verifyRoot, "reference-root", "", "source tree searched by the reference signal")
	verifyCmd.Flags().BoolVar(&onlyUnverified, "only-unverified", false, "skip claims that already have a verdict")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 10*time.Minute, "overall timeout")

	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveStatus, "status", "", "new status: investigating, resolved, ignored, escalated")
	resolveCmd.Flags().StringVar(&resolution, "resolution", "", "chose_a, chose_b, merged or flagged")
	resolveCmd.Flags().StringVar(&resolveReasoning, "reasoning", "", "free-text reasoning")
	resolveCmd.Flags().StringVar(&resolvedBy, "by", "", "who resolved the conflict")
}
