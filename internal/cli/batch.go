package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/concordia/internal/pipeline"
	"github.com/ppiankov/concordia/internal/worker"
)

var (
	batchFromFile string
	batchInclude  []string
	batchTimeout  time.Duration
	concurrency   int
)

// documentExtensions are the files picked up when walking a directory
var documentExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".txt":      true,
}

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [path|dir|url]...",
	Short: "Ingest many documents in parallel",
	Long: `Batch ingests every source given on the command line or listed in a file:
- Directories are walked for markdown, HTML and text files
- Sources are ingested in parallel with a bounded worker pool
- One failing source does not stop the others
- Results are reported per source in input order

Example:
  concordia batch docs/
  concordia batch --from-file sources.txt --concurrency 8
  concordia batch docs/ --include 'docs/adr/**' --type decision`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addIngestFlags(batchCmd)

	batchCmd.Flags().StringVar(&batchFromFile, "from-file", "", "read sources from a file (one per line, # comments allowed)")
	batchCmd.Flags().StringSliceVar(&batchInclude, "include", nil, "only ingest paths matching these globs (** matches directories)")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.ingest_workers)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	sources, err := collectSources(args, batchFromFile, batchInclude)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return newUsageError("no sources: pass paths, directories or --from-file")
	}

	if concurrency > 0 {
		viper.Set("concurrency.ingest_workers", concurrency)
	}

	return runEngine(cmd, batchTimeout, func(ctx context.Context, e *pipeline.Engine) (interface{}, error) {
		return e.IngestBatch(ctx, ingestTemplate(""), sources)
	})
}

// collectSources expands directories and the optional list file into a
// de-duplicated source list. URLs pass through untouched.
func collectSources(args []string, fromFile string, include []string) ([]string, error) {
	var raw []string
	if fromFile != "" {
		listed, err := worker.ReadPathsFromFile(fromFile)
		if err != nil {
			return nil, newUsageError("%v", err)
		}
		raw = append(raw, listed...)
	}
	raw = append(raw, args...)

	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, src := range raw {
		if isURL(src) {
			add(src)
			continue
		}
		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			// Missing files are reported per item by the engine
			if matchesAny(include, src) {
				add(src)
			}
			continue
		}
		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != src && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if documentExtensions[strings.ToLower(filepath.Ext(path))] && matchesAny(include, path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", src, err)
		}
	}
	return out, nil
}

func matchesAny(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if pipeline.MatchGlob(p, filepath.ToSlash(path)) {
			return true
		}
	}
	return false
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
