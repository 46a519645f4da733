package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	overlapScopeIDs  []string
	overlapPaths     []string
	overlapThreshold float64
	includeArchived  bool
	conflictTypes    []string
	overlapTimeout   time.Duration
)

// overlapsCmd represents the overlaps command
var overlapsCmd = &cobra.Command{
	Use:   "overlaps",
	Short: "Find duplicated and contradictory content",
	Long: `Overlaps clusters semantically similar sections across the selected
documents and runs conflict detection over their claims.

The redundancy score is the share of sections that sit in a cluster with at
least one other section.

Example:
  concordia overlaps
  concordia overlaps --path 'docs/runbooks/**' --threshold 0.9
  concordia overlaps --scope-id 4f1c... --scope-id 9a0b... --types value_conflict`,
	Args: exactArgs(0),
	RunE: runOverlaps,
}

func init() {
	rootCmd.AddCommand(overlapsCmd)
	overlapsCmd.Flags().StringSliceVar(&overlapScopeIDs, "scope-id", nil, "limit to these document ids")
	overlapsCmd.Flags().StringSliceVar(&overlapPaths, "path", nil, "limit to documents whose source path matches these globs")
	overlapsCmd.Flags().Float64Var(&overlapThreshold, "threshold", 0, "cluster similarity threshold 0-1 (default 0.85)")
	overlapsCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived and deprecated documents")
	overlapsCmd.Flags().StringSliceVar(&conflictTypes, "types", nil, "only report these conflict types")
	overlapsCmd.Flags().DurationVar(&overlapTimeout, "timeout", 10*time.Minute, "overall timeout")
}

func runOverlaps(cmd *cobra.Command, args []string) error {
	req := pipeline.OverlapsRequest{
		Scope: pipeline.Scope{
			DocumentIDs: overlapScopeIDs,
			Paths:       overlapPaths,
		},
		SimilarityThreshold: overlapThreshold,
		IncludeArchived:     includeArchived,
		ConflictTypes:       conflictTypes,
	}
	return runEngine(cmd, overlapTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
		return e.FindOverlaps(ctx, req)
	})
}
