package nn

import (
	"math"
	"testing"

	"fewseg/internal/model"
)

func TestAvgAndStdPopulation(t *testing.T) {
	values := []float64{0.5, 0.6, 0.7, 0.5, 0.6}

	mean, err := Avg(values)
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if diff := mean - 0.58; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected mean 0.58, got %f", mean)
	}

	std, err := Std(values)
	if err != nil {
		t.Fatalf("std: %v", err)
	}
	if diff := std - 0.0748; diff < -0.001 || diff > 0.001 {
		t.Fatalf("expected population std near 0.0748, got %f", std)
	}
}

func TestAvgEmptyFails(t *testing.T) {
	if _, err := Avg(nil); err == nil {
		t.Fatalf("expected error for empty values")
	}
	if _, err := Std(nil); err == nil {
		t.Fatalf("expected error for empty values")
	}
}

func TestNaNAvgSkipsUndefined(t *testing.T) {
	values := []float64{math.NaN(), 0.2, math.NaN(), 0.4}
	mean := NaNAvg(values)
	if diff := mean - 0.3; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected 0.3, got %f", mean)
	}

	std := NaNStd(values)
	if diff := std - 0.1; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected std 0.1 over the defined entries, got %f", std)
	}

	if !math.IsNaN(NaNAvg([]float64{math.NaN()})) {
		t.Fatalf("expected NaN for all-undefined input")
	}
	if !math.IsNaN(NaNStd([]float64{math.NaN()})) {
		t.Fatalf("expected NaN std for all-undefined input")
	}
}

func TestMaskedAvgEmptyMaskStaysFinite(t *testing.T) {
	features := model.NewFeatureMap(2, 2, 2)
	for i := range features.Data {
		features.Data[i] = 3.5
	}
	mask := model.NewMask(2, 2)

	proto, err := MaskedAvg(features, mask, 1e-8)
	if err != nil {
		t.Fatalf("masked avg: %v", err)
	}
	for c, v := range proto {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("channel %d not finite: %f", c, v)
		}
		if v < -1e-6 || v > 1e-6 {
			t.Fatalf("empty mask should pool to near zero, got %f", v)
		}
	}
}

func TestMaskedAvgWeightsByMask(t *testing.T) {
	features := model.NewFeatureMap(1, 1, 2)
	features.Set(0, 0, 0, 2)
	features.Set(0, 0, 1, 8)
	mask := model.NewMask(1, 2)
	mask.Set(0, 1, 1)

	proto, err := MaskedAvg(features, mask, 1e-8)
	if err != nil {
		t.Fatalf("masked avg: %v", err)
	}
	if diff := proto[0] - 8; diff < -1e-6 || diff > 1e-6 {
		t.Fatalf("expected masked pooling to select 8, got %f", proto[0])
	}
}

func TestMaskedAvgShapeMismatch(t *testing.T) {
	features := model.NewFeatureMap(1, 2, 2)
	mask := model.NewMask(3, 3)
	if _, err := MaskedAvg(features, mask, 1e-8); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestSqDistField(t *testing.T) {
	features := model.NewFeatureMap(2, 1, 2)
	features.Set(0, 0, 0, 1)
	features.Set(1, 0, 0, 0)
	features.Set(0, 0, 1, 0)
	features.Set(1, 0, 1, 1)

	dist, err := SqDistField(features, []float64{1, 0})
	if err != nil {
		t.Fatalf("sq dist: %v", err)
	}
	if dist[0] != 0 {
		t.Fatalf("expected zero distance at matching pixel, got %f", dist[0])
	}
	if dist[1] != 2 {
		t.Fatalf("expected distance 2 at opposite pixel, got %f", dist[1])
	}
}

func TestArgmaxChannelTieBreaksLow(t *testing.T) {
	scores := model.NewFeatureMap(3, 1, 1)
	scores.Set(0, 0, 0, 0.5)
	scores.Set(1, 0, 0, 0.5)
	scores.Set(2, 0, 0, 0.4)

	pred := ArgmaxChannel(scores)
	if got := pred.At(0, 0); got != 0 {
		t.Fatalf("tie must break toward the lowest class index, got %d", got)
	}
}

func TestResizeNearestLabelsUpsamplesBlocks(t *testing.T) {
	src := model.NewLabelMap(2, 2)
	src.Set(0, 0, 1)
	src.Set(1, 1, 2)

	dst := ResizeNearestLabels(src, 4, 4)
	if dst.At(0, 0) != 1 || dst.At(1, 1) != 1 {
		t.Fatalf("top-left block should replicate label 1")
	}
	if dst.At(3, 3) != 2 || dst.At(2, 2) != 2 {
		t.Fatalf("bottom-right block should replicate label 2")
	}
	if dst.At(0, 3) != 0 {
		t.Fatalf("top-right block should stay background")
	}
}

func TestResizeNearestLabelsIdentity(t *testing.T) {
	src := model.NewLabelMap(3, 3)
	src.Set(1, 1, 7)
	dst := ResizeNearestLabels(src, 3, 3)
	if dst.At(1, 1) != 7 {
		t.Fatalf("identity resize must preserve labels")
	}
}
