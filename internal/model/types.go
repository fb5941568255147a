package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// LabelMap is a row-major H*W grid of integer class labels.
// Class 0 is background; the ignore sentinel is carried as an ordinary value.
type LabelMap struct {
	H, W int
	Pix  []int
}

func NewLabelMap(h, w int) LabelMap {
	return LabelMap{H: h, W: w, Pix: make([]int, h*w)}
}

func (m LabelMap) At(y, x int) int { return m.Pix[y*m.W+x] }

func (m LabelMap) Set(y, x, v int) { m.Pix[y*m.W+x] = v }

func (m LabelMap) Len() int { return m.H * m.W }

// Mask is a row-major H*W grid of binary weights stored as float64,
// matching the mask-weighted pooling arithmetic.
type Mask struct {
	H, W int
	Pix  []float64
}

func NewMask(h, w int) Mask {
	return Mask{H: h, W: w, Pix: make([]float64, h*w)}
}

func (m Mask) At(y, x int) float64 { return m.Pix[y*m.W+x] }

func (m Mask) Set(y, x int, v float64) { m.Pix[y*m.W+x] = v }

// FeatureMap is a channel-major C*H*W tensor. It carries either model
// embeddings or per-class score channels depending on the producer.
type FeatureMap struct {
	C, H, W int
	Data    []float64
}

func NewFeatureMap(c, h, w int) FeatureMap {
	return FeatureMap{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

func (f FeatureMap) At(c, y, x int) float64 { return f.Data[(c*f.H+y)*f.W+x] }

func (f FeatureMap) Set(c, y, x int, v float64) { f.Data[(c*f.H+y)*f.W+x] = v }

// SupportShot is one support example: features plus its foreground and
// background masks at the same spatial resolution as the source labels.
type SupportShot struct {
	Features FeatureMap
	FG       Mask
	BG       Mask
}

// Query is one query example. Scores is populated only by producers that
// serve the direct-prediction strategy; its zero value means absent.
type Query struct {
	Features FeatureMap
	Scores   FeatureMap
	Label    LabelMap
}

// Episode is one sampled few-shot task, produced once and consumed once.
type Episode struct {
	ClassIDs []int
	Support  [][]SupportShot
	Queries  []Query
}

// TaskShape is the ways/shots/queries geometry of an episode.
type TaskShape struct {
	Ways    int
	Shots   int
	Queries int
}

func (e Episode) Shape() TaskShape {
	shape := TaskShape{Ways: len(e.Support), Queries: len(e.Queries)}
	if shape.Ways > 0 {
		shape.Shots = len(e.Support[0])
	}
	return shape
}

// EvalRunRecord is the persisted summary of a single evaluation run.
// IoU values are nil when undefined for that run.
type EvalRunRecord struct {
	VersionedRecord
	EvalID        string     `json:"eval_id"`
	RunIndex      int        `json:"run_index"`
	Seed          int64      `json:"seed"`
	Source        string     `json:"source"`
	Strategy      string     `json:"strategy"`
	Episodes      int        `json:"episodes"`
	Labels        []int      `json:"labels"`
	ClassIoU      []*float64 `json:"class_iou"`
	MeanIoU       *float64   `json:"mean_iou"`
	ClassIoUBin   []*float64 `json:"class_iou_binary"`
	MeanIoUBinary *float64   `json:"mean_iou_binary"`
}

// EvalReportRecord is the persisted cross-run summary of an evaluation.
type EvalReportRecord struct {
	VersionedRecord
	EvalID           string     `json:"eval_id"`
	Source           string     `json:"source"`
	Strategy         string     `json:"strategy"`
	Runs             int        `json:"runs"`
	Episodes         int        `json:"episodes"`
	Seed             int64      `json:"seed"`
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
