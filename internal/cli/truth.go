package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	maxSources        int
	truthThreshold    float64
	includeDeprecated bool
	noVerify          bool
	referenceRoot     string
	truthScopeIDs     []string
	truthPaths        []string
	truthTimeout      time.Duration
)

// truthCmd represents the truth command
var truthCmd = &cobra.Command{
	Use:   "truth <query>",
	Short: "Ask which documents are the source of truth for a question",
	Long: `Truth retrieves the sections closest to the query, ranks their documents
by similarity, authority, type and freshness, verifies the supporting claims
and synthesizes an answer that cites only the ranked sources.

The response always includes the ranked sources with their signals, the
supporting and conflicting claims, the confidence assessment and the known
gaps. When no generator is configured or the generated answer cites
something outside the sources, an extractive answer is returned instead.

Example:
  concordia truth "what is the request timeout?"
  concordia truth "who owns billing" --max-sources 3 --no-verify
  concordia truth "default port" --reference-root ./src`,
	Args: minArgs(1),
	RunE: runTruth,
}

func init() {
	rootCmd.AddCommand(truthCmd)
	defaults := pipeline.DefaultTruthRequest("")
	truthCmd.Flags().IntVar(&maxSources, "max-sources", defaults.MaxSources, "maximum ranked sources")
	truthCmd.Flags().Float64Var(&truthThreshold, "threshold", defaults.ConfidenceThreshold, "confidence below which a gap is reported")
	truthCmd.Flags().BoolVar(&includeDeprecated, "include-deprecated", false, "also rank deprecated documents")
	truthCmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip claim verification")
	truthCmd.Flags().StringVar(&referenceRoot, "reference-root", "", "source tree searched by the reference verification signal")
	truthCmd.Flags().StringSliceVar(&truthScopeIDs, "scope-id", nil, "limit to these document ids")
	truthCmd.Flags().StringSliceVar(&truthPaths, "path", nil, "limit to documents whose source path matches these globs")
	truthCmd.Flags().DurationVar(&truthTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runTruth(cmd *cobra.Command, args []string) error {
	req := pipeline.DefaultTruthRequest(strings.Join(args, " "))
	req.MaxSources = maxSources
	req.ConfidenceThreshold = truthThreshold
	req.IncludeDeprecated = includeDeprecated
	req.VerifyClaims = !noVerify
	req.ReferenceRoot = referenceRoot
	req.Scope = pipeline.Scope{DocumentIDs: truthScopeIDs, Paths: truthPaths}

	return runEngine(cmd, truthTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
		return e.GetSourceOfTruth(ctx, req)
	})
}
