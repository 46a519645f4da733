package verify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/concordia/internal/llm"
	"github.com/ppiankov/concordia/internal/llm/llmtest"
	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/refsearch"
)

func sig(t model.EvidenceType, verdict bool, conf float64) model.EvidenceSignal {
	return model.EvidenceSignal{Type: t, Ran: true, Verdict: verdict, Confidence: conf}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		signals  []model.EvidenceSignal
		conf     float64
		verified bool
		flag     bool
		vetoed   bool
		status   model.VerificationStatus
	}{
		{
			name:   "no signals",
			conf:   0,
			flag:   true,
			status: model.StatusUncertain,
		},
		{
			name: "signals that did not run are ignored",
			signals: []model.EvidenceSignal{
				{Type: model.EvidenceDebate, Ran: false, Verdict: true, Confidence: 1},
			},
			conf:   0,
			flag:   true,
			status: model.StatusUncertain,
		},
		{
			name: "all agree",
			signals: []model.EvidenceSignal{
				sig(model.EvidenceReferenceLookup, true, 1),
				sig(model.EvidenceSelfConsistency, true, 1),
				sig(model.EvidenceEnsemble, true, 1),
				sig(model.EvidenceDebate, true, 1),
			},
			conf:     1,
			verified: true,
			status:   model.StatusVerified,
		},
		{
			name: "reference veto overrides strong support",
			signals: []model.EvidenceSignal{
				sig(model.EvidenceReferenceLookup, false, 0.75),
				sig(model.EvidenceSelfConsistency, true, 1),
				sig(model.EvidenceEnsemble, true, 1),
				sig(model.EvidenceDebate, true, 1),
			},
			// (0.4*0.25 + 0.2 + 0.2 + 0.2) / 1.0
			conf:   0.7,
			flag:   true,
			vetoed: true,
			status: model.StatusContradicted,
		},
		{
			name: "renormalized over signals that ran",
			signals: []model.EvidenceSignal{
				sig(model.EvidenceReferenceLookup, true, 1),
				sig(model.EvidenceSelfConsistency, true, 0.6),
				sig(model.EvidenceEnsemble, false, 1),
			},
			// (0.4*1 + 0.2*0.6 + 0.2*0) / 0.8
			conf:   0.65,
			flag:   true,
			status: model.StatusUncertain,
		},
		{
			name: "single signal believed false",
			signals: []model.EvidenceSignal{
				sig(model.EvidenceSelfConsistency, false, 0.8),
			},
			conf:   0.2,
			flag:   true,
			status: model.StatusContradicted,
		},
		{
			name: "verified but above flag threshold",
			signals: []model.EvidenceSignal{
				sig(model.EvidenceSelfConsistency, true, 0.8),
				sig(model.EvidenceEnsemble, true, 0.8),
			},
			conf:     0.8,
			verified: true,
			status:   model.StatusVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Aggregate("c1", tt.signals, DefaultWeights())
			if res.Confidence != tt.conf {
				t.Errorf("confidence: expected %v, got %v", tt.conf, res.Confidence)
			}
			if res.Verified != tt.verified {
				t.Errorf("verified: expected %v, got %v", tt.verified, res.Verified)
			}
			if res.ShouldFlagForHuman != tt.flag {
				t.Errorf("flag: expected %v, got %v", tt.flag, res.ShouldFlagForHuman)
			}
			if res.Vetoed != tt.vetoed {
				t.Errorf("vetoed: expected %v, got %v", tt.vetoed, res.Vetoed)
			}
			if res.Status != tt.status {
				t.Errorf("status: expected %s, got %s", tt.status, res.Status)
			}
			if res.ClaimID != "c1" || res.Signals == nil {
				t.Error("result should carry claim id and signals")
			}
		})
	}
}

func TestAggregate_VetoNeverVerifies(t *testing.T) {
	// whatever the other signals say, a failed reference lookup blocks verification
	for _, others := range []float64{0, 0.5, 1} {
		signals := []model.EvidenceSignal{
			sig(model.EvidenceReferenceLookup, false, 0.99),
			sig(model.EvidenceSelfConsistency, true, others),
			sig(model.EvidenceEnsemble, true, others),
			sig(model.EvidenceDebate, true, others),
		}
		if res := Aggregate("c", signals, DefaultWeights()); res.Verified {
			t.Errorf("others=%.1f: vetoed claim must not be verified", others)
		}
	}
}

func TestMajority(t *testing.T) {
	tests := []struct {
		in      []bool
		verdict bool
		count   int
	}{
		{[]bool{true, true, false}, true, 2},
		{[]bool{false, false, true, true, false}, false, 3},
		{[]bool{true, false}, false, 1}, // tie goes to false
		{[]bool{true}, true, 1},
	}
	for _, tt := range tests {
		v, c := majority(tt.in)
		if v != tt.verdict || c != tt.count {
			t.Errorf("majority(%v) = %v,%d; want %v,%d", tt.in, v, c, tt.verdict, tt.count)
		}
	}
}

func writeRef(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testClaim(object string, confidence float64) model.AtomicClaim {
	return model.AtomicClaim{
		ID: "c1", DocumentID: "d1", Subject: "request_timeout", Predicate: "equals", Object: object, Confidence: confidence,
	}
}

func TestReferenceLookup(t *testing.T) {
	root := writeRef(t, map[string]string{
		"config/defaults.go": "package config\n\nconst RequestTimeout = \"30s\"\nconst MaxRetries = 5\n",
	})

	tests := []struct {
		name    string
		object  string
		ran     bool
		verdict bool
		conf    float64
	}{
		{"found", "30s", true, true, 1},
		{"missing is a veto", "45s", true, false, 1},
		{"partial", "`RequestTimeout` of 90s", true, false, 0.5},
		{"no literals", "reasonable", false, false, 0},
	}

	opts := DefaultOptions()
	opts.ReferenceRoot = root
	p := NewPipeline(nil, nil, refsearch.NewFileSearcher(), opts)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := p.referenceLookup(context.Background(), testClaim(tt.object, 0.9))
			if s.Ran != tt.ran || s.Verdict != tt.verdict || s.Confidence != tt.conf {
				t.Errorf("Expected ran=%v verdict=%v conf=%v, got %+v", tt.ran, tt.verdict, tt.conf, s)
			}
			if s.Ran && s.Support() != s.Details["found_ratio"] {
				t.Errorf("Support %v should equal the found ratio %v", s.Support(), s.Details["found_ratio"])
			}
		})
	}

	noRoot := NewPipeline(nil, nil, refsearch.NewFileSearcher(), DefaultOptions())
	if s := noRoot.referenceLookup(context.Background(), testClaim("30s", 0.9)); s.Ran {
		t.Error("Reference lookup must not run without a root")
	}
}

// verdictGen replies to verification prompts with fixed verdicts and to
// debate chat turns with prose
func verdictGen(name string, verdict bool, conf float64) *llmtest.FuncGenerator {
	return llmtest.NewFuncGenerator(name, func(prompt string, opts llm.GenerateOptions) (string, error) {
		if !opts.JSONMode {
			return "argument", nil
		}
		b, _ := json.Marshal(map[string]interface{}{"verdict": verdict, "confidence": conf, "reasoning": "checked"})
		return string(b), nil
	})
}

func TestSelfConsistency_SeedsAndTemperature(t *testing.T) {
	var mu sync.Mutex
	seeds := make(map[int]bool)
	n := 0
	gen := llmtest.NewFuncGenerator("main", func(prompt string, opts llm.GenerateOptions) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if opts.Temperature != SampleTemperature || opts.Seed == nil {
			t.Errorf("Unexpected sampling options: %+v", opts)
		} else {
			seeds[*opts.Seed] = true
		}
		n++
		switch n {
		case 1, 2, 3:
			return `{"verdict": true, "confidence": 0.9}`, nil
		case 4:
			return "not json", nil
		default:
			return `{"verdict": false, "confidence": 0.9}`, nil
		}
	})

	p := NewPipeline(gen, nil, nil, DefaultOptions())
	s := p.selfConsistency(context.Background(), testClaim("30s", 0.9))

	if !s.Ran || !s.Verdict {
		t.Fatalf("Expected a true majority, got %+v", s)
	}
	if s.Confidence != 0.75 {
		t.Errorf("Expected 3 of 4 successful samples agreeing, got %v", s.Confidence)
	}
	for i := 1; i <= DefaultSamples; i++ {
		if !seeds[i] {
			t.Errorf("Seed %d was not used", i)
		}
	}
}

func TestSelfConsistency_AllFail(t *testing.T) {
	p := NewPipeline(llmtest.Failing("main"), nil, nil, DefaultOptions())
	if s := p.selfConsistency(context.Background(), testClaim("30s", 0.9)); s.Ran {
		t.Error("Signal must not run when every sample failed")
	}
}

func TestEnsemble(t *testing.T) {
	gens := []llm.Generator{
		verdictGen("a", true, 0.9),
		verdictGen("b", true, 0.9),
		verdictGen("c", false, 0.9),
		llmtest.Failing("d"),
	}
	p := NewPipeline(nil, gens, nil, DefaultOptions())
	s := p.ensemble(context.Background(), testClaim("30s", 0.9))

	if !s.Ran || !s.Verdict {
		t.Fatalf("Expected true majority, got %+v", s)
	}
	if s.Confidence < 0.66 || s.Confidence > 0.67 {
		t.Errorf("Expected 2/3 share, got %v", s.Confidence)
	}
	failed, _ := s.Details["failed"].([]string)
	if len(failed) != 1 || failed[0] != "d" {
		t.Errorf("Expected backend d reported as failed, got %v", s.Details["failed"])
	}
}

func TestDebate(t *testing.T) {
	gen := verdictGen("main", false, 0.85)
	p := NewPipeline(gen, nil, nil, DefaultOptions())

	high := p.debate(context.Background(), testClaim("30s", 0.9))
	if high.Ran {
		t.Error("Debate must not run for confident claims")
	}
	if len(gen.Calls()) != 0 {
		t.Error("No calls expected for skipped debate")
	}

	low := p.debate(context.Background(), testClaim("30s", 0.5))
	if !low.Ran || low.Verdict || low.Confidence != 0.85 {
		t.Fatalf("Expected judge verdict false/0.85, got %+v", low)
	}

	calls := gen.Calls()
	if len(calls) != 3 {
		t.Fatalf("Expected advocate, skeptic and judge calls, got %d", len(calls))
	}
	if calls[0].Messages[0].Role != llm.RoleSystem || !strings.Contains(calls[0].Messages[0].Content, "advocate") {
		t.Errorf("First call should be the advocate: %+v", calls[0].Messages)
	}
	if !strings.Contains(calls[1].Messages[0].Content, "skeptic") {
		t.Errorf("Second call should be the skeptic: %+v", calls[1].Messages)
	}
	if !strings.Contains(calls[2].Prompt, "Advocate:") || !strings.Contains(calls[2].Prompt, "Skeptic:") {
		t.Errorf("Judge prompt should include both transcripts: %s", calls[2].Prompt)
	}
}

func TestVerify_EndToEnd(t *testing.T) {
	root := writeRef(t, map[string]string{"defaults.yaml": "request_timeout: 30s\n"})
	opts := DefaultOptions()
	opts.ReferenceRoot = root

	p := NewPipeline(
		verdictGen("main", true, 0.9),
		[]llm.Generator{verdictGen("a", true, 0.9), verdictGen("b", true, 0.9)},
		refsearch.NewFileSearcher(),
		opts,
	)

	res := p.Verify(context.Background(), testClaim("30s", 0.95))
	if !res.Verified || res.Status != model.StatusVerified || res.ShouldFlagForHuman {
		t.Errorf("Expected verified claim, got %+v", res)
	}
	if len(res.Signals) != 4 {
		t.Errorf("Expected 4 signal entries, got %d", len(res.Signals))
	}

	vetoed := p.Verify(context.Background(), testClaim("45s", 0.95))
	if vetoed.Verified || !vetoed.Vetoed || vetoed.Status != model.StatusContradicted {
		t.Errorf("Expected reference veto, got %+v", vetoed)
	}
}

func TestVerify_NoBackends(t *testing.T) {
	res := NewPipeline(nil, nil, nil, DefaultOptions()).Verify(context.Background(), testClaim("30s", 0.5))
	if res.Verified || res.Confidence != 0 || !res.ShouldFlagForHuman || res.Status != model.StatusUncertain {
		t.Errorf("Expected unverified flagged result, got %+v", res)
	}
}

func TestVerifyBatch_IsolatesFailures(t *testing.T) {
	// the generator hangs for one claim only; its timeout must not affect the others
	gen := llmtest.NewFuncGenerator("main", func(prompt string, opts llm.GenerateOptions) (string, error) {
		if strings.Contains(prompt, "slow") {
			time.Sleep(200 * time.Millisecond)
			return "", context.DeadlineExceeded
		}
		return `{"verdict": true, "confidence": 1}`, nil
	})

	opts := DefaultOptions()
	opts.Samples = 1
	opts.ClaimTimeout = 50 * time.Millisecond
	p := NewPipeline(gen, nil, nil, opts)

	claims := []model.AtomicClaim{
		{ID: "fast-1", Subject: "a", Predicate: "is", Object: "ok", Confidence: 0.9},
		{ID: "slow-1", Subject: "b", Predicate: "is", Object: "slow", Confidence: 0.9},
		{ID: "fast-2", Subject: "c", Predicate: "is", Object: "ok", Confidence: 0.9},
	}
	results := p.VerifyBatch(context.Background(), claims)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, id := range []string{"fast-1", "slow-1", "fast-2"} {
		if results[i].ClaimID != id {
			t.Errorf("Result %d: expected %s, got %s", i, id, results[i].ClaimID)
		}
	}
	if results[0].Confidence != 1 || results[2].Confidence != 1 {
		t.Errorf("Fast claims should be unaffected: %+v %+v", results[0], results[2])
	}
	if results[1].Error == "" {
		t.Errorf("Slow claim should report a timeout, got %+v", results[1])
	}
}

type recordingUpdater struct {
	ids      []string
	statuses []model.VerificationStatus
	evidence []string
}

func (r *recordingUpdater) UpdateClaimVerification(ctx context.Context, id string, status model.VerificationStatus, at time.Time, evidence string) error {
	r.ids = append(r.ids, id)
	r.statuses = append(r.statuses, status)
	r.evidence = append(r.evidence, evidence)
	return nil
}

func TestRecord(t *testing.T) {
	up := &recordingUpdater{}
	res := Aggregate("c1", []model.EvidenceSignal{sig(model.EvidenceEnsemble, true, 1)}, DefaultWeights())
	if err := Record(context.Background(), up, res, time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(up.ids) != 1 || up.statuses[0] != model.StatusVerified {
		t.Fatalf("Unexpected update: %+v", up)
	}
	var signals []model.EvidenceSignal
	if err := json.Unmarshal([]byte(up.evidence[0]), &signals); err != nil || len(signals) != 1 {
		t.Errorf("Evidence should be the JSON signal list: %s", up.evidence[0])
	}

	failed := model.VerificationResult{ClaimID: "c2", Error: "timed out"}
	if err := Record(context.Background(), up, failed, time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(up.ids) != 1 {
		t.Error("Failed results must not be recorded")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := model.DefaultConfig().Verification
	cfg.ReferenceRoot = "/src"
	opts := OptionsFromConfig(cfg, 7)
	if opts.ReferenceRoot != "/src" || opts.Workers != 7 || opts.Samples != 5 || opts.Weights != DefaultWeights() {
		t.Errorf("Unexpected options: %+v", opts)
	}
}
