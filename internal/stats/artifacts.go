package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"fewseg/internal/metric"
)

const evalIndexFile = "eval_index.json"

// EvalConfig is the immutable configuration one evaluation ran under,
// persisted alongside its artifacts.
type EvalConfig struct {
	EvalID      string `json:"eval_id"`
	Source      string `json:"source"`
	Strategy    string `json:"strategy"`
	Runs        int    `json:"runs"`
	Episodes    int    `json:"episodes"`
	Seed        int64  `json:"seed"`
	IgnoreLabel int    `json:"ignore_label"`
	Ways        int    `json:"ways"`
	Shots       int    `json:"shots"`
	Queries     int    `json:"queries"`
	MaxLabel    int    `json:"max_label"`
}

// RunSummary is one run's stats as written to run_<idx>/run_stats.json.
// Undefined IoU entries are nil, never NaN, so the JSON stays valid.
type RunSummary struct {
	EvalID        string     `json:"eval_id"`
	RunIndex      int        `json:"run_index"`
	Seed          int64      `json:"seed"`
	Labels        []int      `json:"labels"`
	ClassIoU      []*float64 `json:"class_iou"`
	MeanIoU       *float64   `json:"mean_iou"`
	ClassIoUBin   []*float64 `json:"class_iou_binary"`
	MeanIoUBinary *float64   `json:"mean_iou_binary"`
}

// FinalReport is the cross-run mean±std summary written to report.json.
type FinalReport struct {
	Config           EvalConfig `json:"config"`
	Labels           []int      `json:"labels"`
	ClassIoUMean     []*float64 `json:"class_iou_mean"`
	ClassIoUStd      []*float64 `json:"class_iou_std"`
	MeanIoU          *float64   `json:"mean_iou"`
	MeanIoUStd       *float64   `json:"mean_iou_std"`
	MeanIoUBinary    *float64   `json:"mean_iou_binary"`
	MeanIoUBinaryStd *float64   `json:"mean_iou_binary_std"`
	PerRunMeanIoU    []*float64 `json:"per_run_mean_iou"`
	GeneratedAtUTC   string     `json:"generated_at_utc"`
}

// EvalIndexEntry is one line of the newest-first evaluation index.
type EvalIndexEntry struct {
	EvalID        string   `json:"eval_id"`
	Source        string   `json:"source"`
	Strategy      string   `json:"strategy"`
	Runs          int      `json:"runs"`
	Episodes      int      `json:"episodes"`
	Seed          int64    `json:"seed"`
	MeanIoU       *float64 `json:"mean_iou"`
	MeanIoUBinary *float64 `json:"mean_iou_binary"`
	CreatedAtUTC  string   `json:"created_at_utc"`
}

// NewRunSummary converts one run's stats into their persisted form.
func NewRunSummary(evalID string, runIndex int, seed int64, class, binary metric.RunStats) RunSummary {
	return RunSummary{
		EvalID:        evalID,
		RunIndex:      runIndex,
		Seed:          seed,
		Labels:        class.Labels,
		ClassIoU:      OptionalSlice(class.ClassIoU),
		MeanIoU:       Optional(class.MeanIoU),
		ClassIoUBin:   OptionalSlice(binary.ClassIoU),
		MeanIoUBinary: Optional(binary.MeanIoU),
	}
}

// NewFinalReport converts cross-run stats into their persisted form.
func NewFinalReport(cfg EvalConfig, class, binary metric.FinalStats) FinalReport {
	return FinalReport{
		Config:           cfg,
		Labels:           class.Labels,
		ClassIoUMean:     OptionalSlice(class.ClassIoUMean),
		ClassIoUStd:      OptionalSlice(class.ClassIoUStd),
		MeanIoU:          Optional(class.MeanIoU),
		MeanIoUStd:       Optional(class.MeanIoUStd),
		MeanIoUBinary:    Optional(binary.MeanIoU),
		MeanIoUBinaryStd: Optional(binary.MeanIoUStd),
		PerRunMeanIoU:    OptionalSlice(class.PerRunMeanIoU),
		GeneratedAtUTC:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// WriteEvalConfig writes config.json under the evaluation's directory.
func WriteEvalConfig(baseDir string, cfg EvalConfig) (string, error) {
	if cfg.EvalID == "" {
		return "", fmt.Errorf("eval id is required")
	}
	evalDir := filepath.Join(baseDir, cfg.EvalID)
	if err := os.MkdirAll(evalDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(evalDir, "config.json"), cfg); err != nil {
		return "", err
	}
	return evalDir, nil
}

// WriteRunSummary writes one run's stats under <eval>/run_<idx>/.
func WriteRunSummary(baseDir string, summary RunSummary) (string, error) {
	if summary.EvalID == "" {
		return "", fmt.Errorf("eval id is required")
	}
	runDir := filepath.Join(baseDir, summary.EvalID, runDirName(summary.RunIndex))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "run_stats.json"), summary); err != nil {
		return "", err
	}
	return runDir, nil
}

// ReadRunSummary loads one run's persisted stats.
func ReadRunSummary(baseDir, evalID string, runIndex int) (RunSummary, bool, error) {
	path := filepath.Join(baseDir, evalID, runDirName(runIndex), "run_stats.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

// WriteFinalReport writes report.json and the per-run mean-IoU CSV series.
func WriteFinalReport(baseDir string, report FinalReport) (string, error) {
	if report.Config.EvalID == "" {
		return "", fmt.Errorf("eval id is required")
	}
	evalDir := filepath.Join(baseDir, report.Config.EvalID)
	if err := os.MkdirAll(evalDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(evalDir, "report.json"), report); err != nil {
		return "", err
	}
	if err := writeMeanIoUSeries(evalDir, report.PerRunMeanIoU); err != nil {
		return "", err
	}
	return evalDir, nil
}

// ReadFinalReport loads an evaluation's final report.
func ReadFinalReport(baseDir, evalID string) (FinalReport, bool, error) {
	path := filepath.Join(baseDir, evalID, "report.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FinalReport{}, false, nil
		}
		return FinalReport{}, false, err
	}
	var report FinalReport
	if err := json.Unmarshal(data, &report); err != nil {
		return FinalReport{}, false, err
	}
	return report, true, nil
}

// AppendEvalIndex inserts or updates one evaluation's index entry.
func AppendEvalIndex(baseDir string, entry EvalIndexEntry) error {
	if entry.EvalID == "" {
		return fmt.Errorf("eval id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListEvalIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].EvalID == entry.EvalID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, evalIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, evalIndexFile), index)
}

// ListEvalIndex returns index entries newest first.
func ListEvalIndex(baseDir string) ([]EvalIndexEntry, error) {
	path := filepath.Join(baseDir, evalIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []EvalIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []EvalIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry EvalIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]EvalIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ReadMeanIoUSeries loads the per-run mean-IoU CSV, nil entries for
// undefined runs.
func ReadMeanIoUSeries(baseDir, evalID string) ([]*float64, bool, error) {
	path := filepath.Join(baseDir, evalID, "miou_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []*float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("mean iou series header must have at least 2 columns")
	}

	series := make([]*float64, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("mean iou series row must have at least 2 columns")
		}
		if record[1] == "" {
			series = append(series, nil)
			continue
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, &value)
	}
	return series, true, nil
}

// Optional maps an IoU value to its persisted form: NaN becomes nil.
func Optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	value := v
	return &value
}

// OptionalSlice applies Optional elementwise.
func OptionalSlice(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = Optional(v)
	}
	return out
}

func writeMeanIoUSeries(evalDir string, perRun []*float64) error {
	path := filepath.Join(evalDir, "miou_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"run", "mean_iou"}); err != nil {
		return err
	}
	for i, v := range perRun {
		cell := ""
		if v != nil {
			cell = strconv.FormatFloat(*v, 'f', -1, 64)
		}
		if err := writer.Write([]string{strconv.Itoa(i + 1), cell}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func runDirName(runIndex int) string {
	return fmt.Sprintf("run_%03d", runIndex)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
