package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	supersededBy      string
	deprecationReason string
)

// deprecateCmd represents the deprecate command
var deprecateCmd = &cobra.Command{
	Use:   "deprecate <document-id>",
	Short: "Retire a document",
	Long: `Deprecate marks a document and its claims as deprecated. Deprecated
documents stay in the store but are excluded from truth queries and conflict
detection unless explicitly included.

Example:
  concordia deprecate 4f1c... --reason "replaced by the v2 runbook" --superseded-by 9a0b...`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := pipeline.DeprecateRequest{
			DocumentID:   args[0],
			SupersededBy: supersededBy,
			Reason:       deprecationReason,
		}
		return runEngine(cmd, 0, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
			return e.DeprecateDocument(ctx, req)
		})
	},
}

func init() {
	rootCmd.AddCommand(deprecateCmd)
	deprecateCmd.Flags().StringVar(&supersededBy, "superseded-by", "", "id of the replacing document")
	deprecateCmd.Flags().StringVar(&deprecationReason, "reason", "", "why the document is retired (required)")
}
