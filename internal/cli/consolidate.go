package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	strategy           string
	consolidatedTitle  string
	deprecateSources   bool
	consolidateTimeout time.Duration
)

// consolidateCmd represents the consolidate command
var consolidateCmd = &cobra.Command{
	Use:   "consolidate <document-id> <document-id>...",
	Short: "Merge documents into one with provenance",
	Long: `Consolidate merges two or more documents into a new markdown document.
Every output section records which source sections it came from.

Strategies:
  merge_all          keep every distinct section; conflicting overlaps are flagged
  prefer_authority   on overlap keep the section from the most authoritative document
  prefer_newest      on overlap keep the section from the most recently modified document

Example:
  concordia consolidate 4f1c... 9a0b... --strategy prefer_authority
  concordia consolidate 4f1c... 9a0b... --title "Runbook" --deprecate-sources`,
	Args: minArgs(2),
	RunE: runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
	consolidateCmd.Flags().StringVar(&strategy, "strategy", string(model.StrategyPreferAuthority), "merge strategy")
	consolidateCmd.Flags().StringVar(&consolidatedTitle, "title", "", "title of the merged document")
	consolidateCmd.Flags().BoolVar(&deprecateSources, "deprecate-sources", false, "deprecate the sources in favor of the merged document")
	consolidateCmd.Flags().DurationVar(&consolidateTimeout, "timeout", 10*time.Minute, "overall timeout")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	req := pipeline.ConsolidateRequest{
		SourceDocumentIDs: args,
		Strategy:          strategy,
		Title:             consolidatedTitle,
		DeprecateSources:  deprecateSources,
	}
	return runEngine(cmd, consolidateTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
		return e.ConsolidateDocuments(ctx, req)
	})
}
