// Package refsearch searches a reference corpus (a source tree or docs
// directory) for literal values mentioned in claims.
package refsearch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Match is one matching line in the reference corpus
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Searcher looks up a literal pattern below root
type Searcher interface {
	Search(ctx context.Context, root, pattern string) ([]Match, error)
}

// DefaultExclusions are directory names never descended into
var DefaultExclusions = []string{".git", ".hg", ".svn", "node_modules", "vendor", ".concordia", "__pycache__", ".idea", ".vscode"}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true, ".pdf": true,
	".zip": true, ".gz": true, ".tar": true, ".exe": true, ".so": true, ".dylib": true,
	".dll": true, ".bin": true, ".db": true, ".sqlite": true, ".woff": true, ".woff2": true,
	".mp3": true, ".mp4": true, ".wasm": true, ".class": true, ".o": true, ".a": true,
}

const maxLineBytes = 1024 * 1024

// FileSearcher is a case-insensitive literal grep over a directory tree
type FileSearcher struct {
	// Workers bounds the number of files scanned in parallel
	Workers int
	// Limit caps the number of matches returned (0 = unlimited)
	Limit int
}

// NewFileSearcher creates a searcher with sensible defaults
func NewFileSearcher() *FileSearcher {
	return &FileSearcher{Workers: 8, Limit: 200}
}

// Search returns matches sorted by file then line
func (s *FileSearcher) Search(ctx context.Context, root, pattern string) ([]Match, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}

	files, err := collectFiles(ctx, root)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(pattern)
	var (
		mu      sync.Mutex
		matches []Match
	)

	g, gctx := errgroup.WithContext(ctx)
	workers := s.Workers
	if workers <= 0 {
		workers = 8
	}
	g.SetLimit(workers)

	for _, path := range files {
		g.Go(func() error {
			found, err := searchFile(gctx, path, needle)
			if err != nil {
				// Unreadable files are skipped
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				matches = append(matches, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].File != matches[j].File {
			return matches[i].File < matches[j].File
		}
		return matches[i].Line < matches[j].Line
	})
	if s.Limit > 0 && len(matches) > s.Limit {
		matches = matches[:s.Limit]
	}
	return matches, nil
}

func collectFiles(ctx context.Context, root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("accessing reference root: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	exclusions := make(map[string]bool, len(DefaultExclusions))
	for _, ex := range DefaultExclusions {
		exclusions[ex] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && exclusions[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking reference root: %w", err)
	}
	return files, nil
}

func searchFile(ctx context.Context, path, needle string) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		if line%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line++
		text := scanner.Text()
		if line == 1 && strings.IndexByte(text, 0) >= 0 {
			// NUL in the first line: treat as binary
			return nil, nil
		}
		if strings.Contains(strings.ToLower(text), needle) {
			matches = append(matches, Match{File: path, Line: line, Text: strings.TrimSpace(text)})
		}
	}
	return matches, scanner.Err()
}
