package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"fewseg/internal/model"
	"fewseg/internal/nn"
)

// DefaultIgnoreLabel is the sentinel pixel value excluded from every
// class's intersection and union.
const DefaultIgnoreLabel = 255

var (
	ErrRunOutOfRange      = errors.New("run index out of range")
	ErrShapeMismatch      = errors.New("prediction and label shapes differ")
	ErrClassNeverRecorded = errors.New("class recorded in no run")
	ErrNoRecordedRuns     = errors.New("no run has recorded episodes")
)

type counters struct {
	intersection int64
	union        int64
}

// Accumulator folds per-episode predictions into per-run per-class
// intersection/union counters and derives IoU statistics. Counters are
// keyed lazily by class id, so a class absent from a run is excluded
// from that run's average rather than counted as zero.
//
// Accumulator is single-writer per run and not safe for concurrent use.
type Accumulator struct {
	runs        int
	ignoreLabel int
	class       []map[int]*counters
	binary      []map[int]*counters
}

// New creates an accumulator for the given run count. A non-positive run
// count collapses to a single run.
func New(runs, ignoreLabel int) *Accumulator {
	if runs <= 0 {
		runs = 1
	}
	a := &Accumulator{
		runs:        runs,
		ignoreLabel: ignoreLabel,
		class:       make([]map[int]*counters, runs),
		binary:      make([]map[int]*counters, runs),
	}
	for i := 0; i < runs; i++ {
		a.class[i] = make(map[int]*counters)
		a.binary[i] = make(map[int]*counters)
	}
	return a
}

func (a *Accumulator) Runs() int { return a.runs }

// Record accumulates one episode's prediction against its ground truth for
// background plus every id in classIDs, and in the same pass for the binary
// foreground/background collapse. It must be called exactly once per
// episode; repeated calls double-count.
func (a *Accumulator) Record(pred, label model.LabelMap, classIDs []int, run int) error {
	if run < 0 || run >= a.runs {
		return fmt.Errorf("%w: %d of %d", ErrRunOutOfRange, run, a.runs)
	}
	if pred.H != label.H || pred.W != label.W {
		return fmt.Errorf("%w: pred %dx%d label %dx%d", ErrShapeMismatch, pred.H, pred.W, label.H, label.W)
	}

	for _, id := range recordedLabels(classIDs) {
		c := a.counter(a.class[run], id)
		for i, lv := range label.Pix {
			if lv == a.ignoreLabel {
				continue
			}
			p := pred.Pix[i] == id
			l := lv == id
			if p && l {
				c.intersection++
			}
			if p || l {
				c.union++
			}
		}
	}

	for _, id := range []int{0, 1} {
		c := a.counter(a.binary[run], id)
		for i, lv := range label.Pix {
			if lv == a.ignoreLabel {
				continue
			}
			p := collapse(pred.Pix[i]) == id
			l := collapse(lv) == id
			if p && l {
				c.intersection++
			}
			if p || l {
				c.union++
			}
		}
	}
	return nil
}

// RunStats is one run's per-class IoU over a requested label set. Entries
// are NaN when the class was not seen in the run or its union is zero;
// MeanIoU averages the defined entries only.
type RunStats struct {
	Labels   []int
	ClassIoU []float64
	MeanIoU  float64
}

// FinalStats aggregates per-run IoU values across all runs with population
// standard deviation. Per-class entries skip runs where the class was
// undefined.
type FinalStats struct {
	Labels        []int
	ClassIoUMean  []float64
	ClassIoUStd   []float64
	MeanIoU       float64
	MeanIoUStd    float64
	PerRunMeanIoU []float64
}

// RunStats reports one run's IoU for the requested labels. It is read-only
// and idempotent.
func (a *Accumulator) RunStats(labels []int, run int) (RunStats, error) {
	if run < 0 || run >= a.runs {
		return RunStats{}, fmt.Errorf("%w: %d of %d", ErrRunOutOfRange, run, a.runs)
	}
	return runStatsFrom(a.class[run], labels), nil
}

// RunStatsBinary reports one run's foreground/background IoU.
func (a *Accumulator) RunStatsBinary(run int) (RunStats, error) {
	if run < 0 || run >= a.runs {
		return RunStats{}, fmt.Errorf("%w: %d of %d", ErrRunOutOfRange, run, a.runs)
	}
	return runStatsFrom(a.binary[run], []int{0, 1}), nil
}

// FinalStats aggregates the requested labels across all runs. A label that
// was recorded in no run at all fails the whole call.
func (a *Accumulator) FinalStats(labels []int) (FinalStats, error) {
	return a.finalStatsFrom(a.class, labels)
}

// FinalStatsBinary aggregates the binary collapse across all runs.
func (a *Accumulator) FinalStatsBinary() (FinalStats, error) {
	return a.finalStatsFrom(a.binary, []int{0, 1})
}

func (a *Accumulator) finalStatsFrom(perRun []map[int]*counters, labels []int) (FinalStats, error) {
	requested := append([]int(nil), labels...)
	final := FinalStats{
		Labels:        requested,
		ClassIoUMean:  make([]float64, len(requested)),
		ClassIoUStd:   make([]float64, len(requested)),
		PerRunMeanIoU: make([]float64, 0, a.runs),
	}

	runStats := make([]RunStats, a.runs)
	for run := 0; run < a.runs; run++ {
		runStats[run] = runStatsFrom(perRun[run], requested)
	}

	for i, id := range requested {
		values := make([]float64, a.runs)
		for run := 0; run < a.runs; run++ {
			values[run] = runStats[run].ClassIoU[i]
		}
		mean := nn.NaNAvg(values)
		if math.IsNaN(mean) {
			return FinalStats{}, fmt.Errorf("%w: %d", ErrClassNeverRecorded, id)
		}
		final.ClassIoUMean[i] = mean
		final.ClassIoUStd[i] = nn.NaNStd(values)
	}

	means := make([]float64, 0, a.runs)
	for run := 0; run < a.runs; run++ {
		m := runStats[run].MeanIoU
		final.PerRunMeanIoU = append(final.PerRunMeanIoU, m)
		if !math.IsNaN(m) {
			means = append(means, m)
		}
	}
	if len(means) == 0 {
		return FinalStats{}, ErrNoRecordedRuns
	}
	mean, err := nn.Avg(means)
	if err != nil {
		return FinalStats{}, err
	}
	std, err := nn.Std(means)
	if err != nil {
		return FinalStats{}, err
	}
	final.MeanIoU = mean
	final.MeanIoUStd = std
	return final, nil
}

func runStatsFrom(run map[int]*counters, labels []int) RunStats {
	stats := RunStats{
		Labels:   append([]int(nil), labels...),
		ClassIoU: make([]float64, len(labels)),
	}
	for i, id := range labels {
		c, ok := run[id]
		if !ok || c.union == 0 {
			stats.ClassIoU[i] = math.NaN()
			continue
		}
		stats.ClassIoU[i] = float64(c.intersection) / float64(c.union)
	}
	stats.MeanIoU = nn.NaNAvg(stats.ClassIoU)
	return stats
}

// RecordedLabels returns the sorted union of class ids recorded in any run.
func (a *Accumulator) RecordedLabels() []int {
	seen := map[int]bool{}
	for _, run := range a.class {
		for id := range run {
			seen[id] = true
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (a *Accumulator) counter(run map[int]*counters, id int) *counters {
	c, ok := run[id]
	if !ok {
		c = &counters{}
		run[id] = c
	}
	return c
}

// recordedLabels is background plus the episode's active classes, sorted
// and deduplicated.
func recordedLabels(classIDs []int) []int {
	seen := map[int]bool{0: true}
	out := []int{0}
	for _, id := range classIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func collapse(v int) int {
	if v > 0 {
		return 1
	}
	return 0
}
