package platform

import (
	"context"
	"fmt"
	"io"

	"fewseg/internal/decode"
	"fewseg/internal/metric"
	"fewseg/internal/model"
	"fewseg/internal/sampler"
	"fewseg/internal/stats"
	"fewseg/internal/storage"
)

// HarnessConfig wires one evaluation: R runs of N episodes through a
// decoder into the accumulator.
type HarnessConfig struct {
	EvalID      string
	Runs        int
	Episodes    int
	Seed        int64
	IgnoreLabel int
	// Labels is the class set to report on. When empty, the union of
	// classes recorded across runs is used.
	Labels []int
	// ResultsDir receives per-run and final artifacts; empty disables them.
	ResultsDir string
	// Store receives persisted run and report records; nil disables it.
	Store storage.Store
	// Progress receives per-run and final summaries; nil silences them.
	Progress io.Writer

	Source  sampler.Source
	Decoder decode.Decoder
}

// RunReport is one run's stats alongside the seed it ran under.
type RunReport struct {
	RunIndex int
	Seed     int64
	Class    metric.RunStats
	Binary   metric.RunStats
}

// Report is a full evaluation: every run plus the cross-run aggregation.
type Report struct {
	EvalID      string
	Labels      []int
	Runs        []RunReport
	Final       metric.FinalStats
	FinalBinary metric.FinalStats
}

// Harness drives the evaluation pipeline strictly sequentially:
// sample, decode, record. Any decode or sampler failure aborts the whole
// evaluation rather than continuing with partially biased statistics.
type Harness struct {
	cfg HarnessConfig
}

func NewHarness(cfg HarnessConfig) (*Harness, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("harness requires an episode source")
	}
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("harness requires a decoder")
	}
	if cfg.Runs <= 0 {
		return nil, fmt.Errorf("harness requires at least one run, got %d", cfg.Runs)
	}
	if cfg.Episodes <= 0 {
		return nil, fmt.Errorf("harness requires at least one episode per run, got %d", cfg.Episodes)
	}
	if cfg.Progress == nil {
		cfg.Progress = io.Discard
	}
	return &Harness{cfg: cfg}, nil
}

func (h *Harness) Run(ctx context.Context) (Report, error) {
	cfg := h.cfg
	acc := metric.New(cfg.Runs, cfg.IgnoreLabel)

	report := Report{EvalID: cfg.EvalID, Runs: make([]RunReport, 0, cfg.Runs)}
	for run := 0; run < cfg.Runs; run++ {
		seed := cfg.Seed + int64(run)
		cfg.Source.Reseed(seed)
		fmt.Fprintf(cfg.Progress, "### run %d/%d (seed %d) ###\n", run+1, cfg.Runs, seed)

		for ep := 0; ep < cfg.Episodes; ep++ {
			episode, err := cfg.Source.Next(ctx)
			if err != nil {
				return Report{}, fmt.Errorf("run %d episode %d: sample: %w", run, ep, err)
			}
			preds, err := cfg.Decoder.Decode(ctx, episode)
			if err != nil {
				return Report{}, fmt.Errorf("run %d episode %d: decode: %w", run, ep, err)
			}
			for qi, pred := range preds {
				if err := acc.Record(pred, episode.Queries[qi].Label, episode.ClassIDs, run); err != nil {
					return Report{}, fmt.Errorf("run %d episode %d: record: %w", run, ep, err)
				}
			}
		}

		labels := cfg.Labels
		if len(labels) == 0 {
			labels = acc.RecordedLabels()
		}
		class, err := acc.RunStats(labels, run)
		if err != nil {
			return Report{}, err
		}
		binary, err := acc.RunStatsBinary(run)
		if err != nil {
			return Report{}, err
		}
		rr := RunReport{RunIndex: run, Seed: seed, Class: class, Binary: binary}
		report.Runs = append(report.Runs, rr)
		h.printRun(rr)

		if err := h.persistRun(ctx, rr); err != nil {
			return Report{}, err
		}
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = acc.RecordedLabels()
	}
	report.Labels = labels

	final, err := acc.FinalStats(labels)
	if err != nil {
		return Report{}, err
	}
	finalBinary, err := acc.FinalStatsBinary()
	if err != nil {
		return Report{}, err
	}
	report.Final = final
	report.FinalBinary = finalBinary
	h.printFinal(report)
	return report, nil
}

func (h *Harness) printRun(rr RunReport) {
	w := h.cfg.Progress
	fmt.Fprintf(w, "run %d: mean IoU %s, binary IoU %s\n", rr.RunIndex+1, fmtIoU(rr.Class.MeanIoU), fmtIoU(rr.Binary.MeanIoU))
	for i, id := range rr.Class.Labels {
		fmt.Fprintf(w, "  class %d: %s\n", id, fmtIoU(rr.Class.ClassIoU[i]))
	}
}

func (h *Harness) printFinal(report Report) {
	w := h.cfg.Progress
	fmt.Fprintf(w, "----- final result -----\n")
	fmt.Fprintf(w, "mean IoU: %s ± %s\n", fmtIoU(report.Final.MeanIoU), fmtIoU(report.Final.MeanIoUStd))
	fmt.Fprintf(w, "binary IoU: %s ± %s\n", fmtIoU(report.FinalBinary.MeanIoU), fmtIoU(report.FinalBinary.MeanIoUStd))
	for i, id := range report.Final.Labels {
		fmt.Fprintf(w, "  class %d: %s ± %s\n", id, fmtIoU(report.Final.ClassIoUMean[i]), fmtIoU(report.Final.ClassIoUStd[i]))
	}
}

func (h *Harness) persistRun(ctx context.Context, rr RunReport) error {
	cfg := h.cfg
	if cfg.ResultsDir != "" {
		summary := stats.NewRunSummary(cfg.EvalID, rr.RunIndex, rr.Seed, rr.Class, rr.Binary)
		if _, err := stats.WriteRunSummary(cfg.ResultsDir, summary); err != nil {
			return fmt.Errorf("write run %d artifacts: %w", rr.RunIndex, err)
		}
	}
	if cfg.Store != nil {
		record := model.EvalRunRecord{
			VersionedRecord: storage.Stamp(),
			EvalID:          cfg.EvalID,
			RunIndex:        rr.RunIndex,
			Seed:            rr.Seed,
			Source:          cfg.Source.Name(),
			Strategy:        cfg.Decoder.Strategy(),
			Episodes:        cfg.Episodes,
			Labels:          rr.Class.Labels,
			ClassIoU:        stats.OptionalSlice(rr.Class.ClassIoU),
			MeanIoU:         stats.Optional(rr.Class.MeanIoU),
			ClassIoUBin:     stats.OptionalSlice(rr.Binary.ClassIoU),
			MeanIoUBinary:   stats.Optional(rr.Binary.MeanIoU),
		}
		if err := cfg.Store.SaveEvalRun(ctx, record); err != nil {
			return fmt.Errorf("save run %d: %w", rr.RunIndex, err)
		}
	}
	return nil
}

func fmtIoU(v float64) string {
	if v != v {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}
