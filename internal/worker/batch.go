package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// FuncJob adapts a function over one input key to the Job interface
type FuncJob[T any] struct {
	Index int
	Key   string
	Fn    func(ctx context.Context, key string) (T, error)
}

// Execute runs the wrapped function
func (j *FuncJob[T]) Execute(ctx context.Context) Result {
	value, err := j.Fn(ctx, j.Key)
	return &FuncResult[T]{Index: j.Index, Key: j.Key, Value: value, Err: err}
}

// FuncResult is the outcome of one FuncJob
type FuncResult[T any] struct {
	Index int
	Key   string
	Value T
	Err   error
}

// GetError returns the job error
func (r *FuncResult[T]) GetError() error {
	return r.Err
}

// RunAll processes every key through fn on a pool of the given size.
// Results come back in input order; one key failing does not affect the others.
func RunAll[T any](ctx context.Context, workers int, keys []string, fn func(ctx context.Context, key string) (T, error)) []*FuncResult[T] {
	if len(keys) == 0 {
		return []*FuncResult[T]{}
	}

	pool := NewPoolWithContext(ctx, workers)
	pool.Start()

	for i, key := range keys {
		pool.Submit(&FuncJob[T]{Index: i, Key: key, Fn: fn})
	}

	results := pool.Wait()

	out := make([]*FuncResult[T], 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, r := range results {
		fr := r.(*FuncResult[T])
		seen[fr.Index] = true
		out = append(out, fr)
	}
	// Jobs dropped by cancellation still get a result so callers can report them
	for i, key := range keys {
		if !seen[i] {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out = append(out, &FuncResult[T]{Index: i, Key: key, Err: err})
		}
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// ReadPathsFromFile reads sources from a file (one per line).
// Blank lines and # comments are skipped; duplicates are dropped.
func ReadPathsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}
