package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	ingestTimeout  time.Duration
	docType        string
	authorityLevel int
	docTitle       string
	docTags        []string
	supersedes     string
	noClaims       bool
	noEmbeddings   bool
	noConflicts    bool
	noEntityGraph  bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <path|url>",
	Short: "Ingest one document into the store",
	Long: `Ingest parses a markdown, HTML or text document into sections, extracts
atomic claims, embeds the sections and checks the new claims against the
rest of the corpus.

Re-ingesting byte-identical content returns the existing document id.

Example:
  concordia ingest docs/runbook.md
  concordia ingest docs/adr/0007-timeouts.md --type decision --authority 9
  concordia ingest https://example.com/handbook.html --tags ops,oncall
  concordia ingest docs/runbook-v2.md --supersedes 4f1c...`,
	Args: exactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	addIngestFlags(ingestCmd)
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 5*time.Minute, "overall ingestion timeout")
	ingestCmd.Flags().StringVar(&docTitle, "title", "", "document title (default: first heading or file name)")
	ingestCmd.Flags().StringVar(&supersedes, "supersedes", "", "id of a document this one replaces; it is deprecated")
}

// addIngestFlags registers the flags shared by ingest, batch and watch
func addIngestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&docType, "type", "", "document type: spec, decision, guide, reference, report, handoff, prompt, archive (default: classified from path)")
	cmd.Flags().IntVar(&authorityLevel, "authority", 0, "authority level 1-10 (default: classified from path and type)")
	cmd.Flags().StringSliceVar(&docTags, "tags", nil, "comma-separated tags")
	cmd.Flags().BoolVar(&noClaims, "no-claims", false, "skip claim extraction")
	cmd.Flags().BoolVar(&noEmbeddings, "no-embeddings", false, "skip section embeddings")
	cmd.Flags().BoolVar(&noConflicts, "no-conflicts", false, "skip conflict detection against the corpus")
	cmd.Flags().BoolVar(&noEntityGraph, "no-entities", false, "skip entity counting")
}

// ingestTemplate builds a request from the shared flags
func ingestTemplate(source string) pipeline.IngestRequest {
	req := pipeline.DefaultIngestRequest(source)
	req.DocumentType = docType
	req.AuthorityLevel = authorityLevel
	req.Tags = docTags
	req.ExtractClaims = !noClaims
	req.GenerateEmbeddings = !noEmbeddings
	req.DetectConflicts = !noConflicts
	req.BuildEntityGraph = !noEntityGraph
	return req
}

func runIngest(cmd *cobra.Command, args []string) error {
	req := ingestTemplate(args[0])
	req.Title = docTitle
	req.Supersedes = supersedes

	return runEngine(cmd, ingestTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
		return e.IngestDocument(ctx, req)
	})
}

// exactArgs is cobra.ExactArgs reporting a usage error
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return newUsageError("%v", err)
		}
		return nil
	}
}

// minArgs is cobra.MinimumNArgs reporting a usage error
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return newUsageError("%v", err)
		}
		return nil
	}
}
