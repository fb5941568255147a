package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fewseg/internal/decode"
	"fewseg/internal/model"
	"fewseg/internal/sampler"
	"fewseg/internal/stats"
	"fewseg/internal/storage"
)

func newTestSource(t *testing.T) sampler.Source {
	t.Helper()
	src, err := sampler.New("synthetic", sampler.Config{
		ImageH:      16,
		ImageW:      16,
		EmbedDim:    4,
		EmbedStride: 4,
		MaxLabel:    5,
	})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return src
}

func newTestDecoder(t *testing.T, strategy string) decode.Decoder {
	t.Helper()
	dec, err := decode.New(strategy, decode.Config{Ways: 1, Shots: 1, Queries: 1}, decode.Models{
		Score:     sampler.EpisodeScores{},
		Embedding: sampler.EpisodeEmbeddings{},
	})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return dec
}

func testHarnessConfig(t *testing.T, strategy string) HarnessConfig {
	return HarnessConfig{
		EvalID:      "eval-test",
		Runs:        2,
		Episodes:    4,
		Seed:        1234,
		IgnoreLabel: 255,
		Source:      newTestSource(t),
		Decoder:     newTestDecoder(t, strategy),
	}
}

func TestHarnessRunEndToEnd(t *testing.T) {
	for _, strategy := range []string{decode.StrategyDirect, decode.StrategyPrototype} {
		t.Run(strategy, func(t *testing.T) {
			h, err := NewHarness(testHarnessConfig(t, strategy))
			if err != nil {
				t.Fatalf("new harness: %v", err)
			}
			report, err := h.Run(context.Background())
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			if len(report.Runs) != 2 {
				t.Fatalf("report has %d runs, want 2", len(report.Runs))
			}
			for i, rr := range report.Runs {
				if rr.Seed != 1234+int64(i) {
					t.Fatalf("run %d seed %d, want %d", i, rr.Seed, 1234+int64(i))
				}
			}
			if len(report.Labels) == 0 || report.Labels[0] != 0 {
				t.Fatalf("labels must start with background: %v", report.Labels)
			}
			if math.IsNaN(report.FinalBinary.MeanIoU) {
				t.Fatalf("binary mean IoU must be defined")
			}
			if report.FinalBinary.MeanIoU < 0 || report.FinalBinary.MeanIoU > 1 {
				t.Fatalf("binary mean IoU out of range: %v", report.FinalBinary.MeanIoU)
			}
		})
	}
}

func TestHarnessPrototypeScoresSampledClasses(t *testing.T) {
	cfg := testHarnessConfig(t, decode.StrategyPrototype)
	cfg.Runs = 1
	cfg.Episodes = 20

	h, err := NewHarness(cfg)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	report, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Predictions and ground truth share the global class-id space, so a
	// sampled class above 1 must accumulate real intersections rather than
	// zeroing out.
	class := report.Runs[0].Class
	sawHighClass := false
	for i, id := range class.Labels {
		if id <= 1 {
			continue
		}
		sawHighClass = true
		if v := class.ClassIoU[i]; math.IsNaN(v) || v <= 0 {
			t.Fatalf("class %d IoU %v; sampled classes must score", id, v)
		}
	}
	if !sawHighClass {
		t.Fatalf("no class above 1 sampled in %d episodes", cfg.Episodes)
	}
}

func TestHarnessDeterministicAcrossInstances(t *testing.T) {
	run := func() Report {
		h, err := NewHarness(testHarnessConfig(t, decode.StrategyPrototype))
		if err != nil {
			t.Fatalf("new harness: %v", err)
		}
		report, err := h.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return report
	}

	first, second := run(), run()
	if len(first.Runs) != len(second.Runs) {
		t.Fatalf("run counts differ")
	}
	for i := range first.Runs {
		a, b := first.Runs[i].Class, second.Runs[i].Class
		if len(a.ClassIoU) != len(b.ClassIoU) {
			t.Fatalf("run %d: class counts differ", i)
		}
		for c := range a.ClassIoU {
			av, bv := a.ClassIoU[c], b.ClassIoU[c]
			if math.IsNaN(av) != math.IsNaN(bv) || (!math.IsNaN(av) && av != bv) {
				t.Fatalf("run %d class %d: %v vs %v", i, c, av, bv)
			}
		}
	}
	if first.Final.MeanIoU != second.Final.MeanIoU {
		t.Fatalf("final mean IoU differs: %v vs %v", first.Final.MeanIoU, second.Final.MeanIoU)
	}
}

func TestHarnessWritesArtifactsAndStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := storage.NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}

	cfg := testHarnessConfig(t, decode.StrategyPrototype)
	cfg.ResultsDir = dir
	cfg.Store = store
	var progress bytes.Buffer
	cfg.Progress = &progress

	h, err := NewHarness(cfg)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	if _, err := h.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	for run := 0; run < cfg.Runs; run++ {
		summary, ok, err := stats.ReadRunSummary(dir, cfg.EvalID, run)
		if err != nil {
			t.Fatalf("read run %d summary: %v", run, err)
		}
		if !ok {
			t.Fatalf("run %d summary missing", run)
		}
		if summary.Seed != cfg.Seed+int64(run) {
			t.Fatalf("run %d summary seed %d", run, summary.Seed)
		}

		record, ok, err := store.GetEvalRun(ctx, cfg.EvalID, run)
		if err != nil || !ok {
			t.Fatalf("run %d record: ok=%v err=%v", run, ok, err)
		}
		if record.Strategy != decode.StrategyPrototype || record.Episodes != cfg.Episodes {
			t.Fatalf("run %d record mangled: %+v", run, record)
		}
	}

	out := progress.String()
	for run := 1; run <= cfg.Runs; run++ {
		marker := fmt.Sprintf("### run %d/%d (seed %d) ###", run, cfg.Runs, cfg.Seed+int64(run-1))
		if !strings.Contains(out, marker) {
			t.Fatalf("progress missing %q:\n%s", marker, out)
		}
	}
	if !strings.Contains(out, "----- final result -----") {
		t.Fatalf("progress missing final banner:\n%s", out)
	}

	if _, err := os.Stat(filepath.Join(dir, cfg.EvalID, "run_000", "run_stats.json")); err != nil {
		t.Fatalf("run artifact missing: %v", err)
	}
}

// failingSource errors on the Nth episode to exercise abort semantics.
type failingSource struct {
	inner sampler.Source
	calls int
	after int
}

func (f *failingSource) Name() string { return f.inner.Name() }

func (f *failingSource) Reseed(seed int64) { f.inner.Reseed(seed) }

func (f *failingSource) Next(ctx context.Context) (model.Episode, error) {
	f.calls++
	if f.calls > f.after {
		return model.Episode{}, errors.New("source exhausted")
	}
	return f.inner.Next(ctx)
}

func TestHarnessAbortsOnSamplerError(t *testing.T) {
	cfg := testHarnessConfig(t, decode.StrategyPrototype)
	cfg.Source = &failingSource{inner: newTestSource(t), after: 2}

	h, err := NewHarness(cfg)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	_, err = h.Run(context.Background())
	if err == nil {
		t.Fatalf("sampler failure must abort the evaluation")
	}
	if !strings.Contains(err.Error(), "run 0 episode 2: sample") {
		t.Fatalf("error must name the failing run and episode, got %v", err)
	}
}

func TestNewHarnessValidates(t *testing.T) {
	base := testHarnessConfig(t, decode.StrategyPrototype)

	cfg := base
	cfg.Source = nil
	if _, err := NewHarness(cfg); err == nil {
		t.Fatalf("missing source must fail")
	}

	cfg = base
	cfg.Decoder = nil
	if _, err := NewHarness(cfg); err == nil {
		t.Fatalf("missing decoder must fail")
	}

	cfg = base
	cfg.Runs = 0
	if _, err := NewHarness(cfg); err == nil {
		t.Fatalf("zero runs must fail")
	}

	cfg = base
	cfg.Episodes = 0
	if _, err := NewHarness(cfg); err == nil {
		t.Fatalf("zero episodes must fail")
	}
}
