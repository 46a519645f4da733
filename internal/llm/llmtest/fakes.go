// Package llmtest provides in-process Generator and Embedder fakes for tests.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/ppiankov/concordia/internal/llm"
)

// ErrUnavailable simulates a dead backend
var ErrUnavailable = errors.New("backend unavailable")

// Call records one request seen by a fake generator
type Call struct {
	Prompt   string
	Messages []llm.Message
	Options  llm.GenerateOptions
}

// FuncGenerator answers every call with Fn. It records calls for assertions.
type FuncGenerator struct {
	BackendName string
	Fn          func(prompt string, opts llm.GenerateOptions) (string, error)

	mu    sync.Mutex
	calls []Call
}

// NewFuncGenerator creates a generator named name that answers with fn
func NewFuncGenerator(name string, fn func(prompt string, opts llm.GenerateOptions) (string, error)) *FuncGenerator {
	return &FuncGenerator{BackendName: name, Fn: fn}
}

// Static returns a generator that always replies with reply
func Static(name, reply string) *FuncGenerator {
	return NewFuncGenerator(name, func(string, llm.GenerateOptions) (string, error) { return reply, nil })
}

// Failing returns a generator whose every call fails
func Failing(name string) *FuncGenerator {
	return NewFuncGenerator(name, func(string, llm.GenerateOptions) (string, error) { return "", ErrUnavailable })
}

func (g *FuncGenerator) Name() string { return g.BackendName }

func (g *FuncGenerator) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.record(Call{Prompt: prompt, Options: opts})
	return g.Fn(prompt, opts)
}

// Chat flattens the history into one prompt before calling Fn
func (g *FuncGenerator) Chat(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var parts []string
	for _, m := range messages {
		parts = append(parts, string(m.Role)+": "+m.Content)
	}
	prompt := strings.Join(parts, "\n")
	g.record(Call{Prompt: prompt, Messages: messages, Options: opts})
	return g.Fn(prompt, opts)
}

func (g *FuncGenerator) record(c Call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

// Calls returns a copy of the recorded calls
func (g *FuncGenerator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Sequence returns replies in order, repeating the last one
func Sequence(name string, replies ...string) *FuncGenerator {
	var mu sync.Mutex
	i := 0
	return NewFuncGenerator(name, func(string, llm.GenerateOptions) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "", ErrUnavailable
		}
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r, nil
	})
}

// HashEmbedder builds bag-of-words vectors: texts sharing words get high
// cosine similarity, identical texts get exactly 1
type HashEmbedder struct {
	Dim int

	// Overrides pins exact vectors for specific texts
	Overrides map[string][]float32

	mu    sync.Mutex
	calls int
}

// NewHashEmbedder creates an embedder with the given dimension
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{Dim: dim, Overrides: make(map[string][]float32)}
}

func (e *HashEmbedder) Name() string   { return "hash" }
func (e *HashEmbedder) Dimension() int { return e.Dim }

// Calls returns how many Embed calls were made
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.Overrides[text]; ok {
			out[i] = v
			continue
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32()%uint32(e.Dim))]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// FailingEmbedder always fails
type FailingEmbedder struct{}

func (FailingEmbedder) Name() string   { return "failing" }
func (FailingEmbedder) Dimension() int { return 0 }
func (FailingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}
