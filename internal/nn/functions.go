package nn

import (
	"fmt"
	"math"

	"fewseg/internal/model"
)

// Avg returns the arithmetic mean of values.
func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values))), nil
}

// NaNAvg returns the mean over the defined entries, skipping NaN values.
// The result is NaN when no entry is defined.
func NaNAvg(values []float64) float64 {
	sum := 0.0
	count := 0
	for _, value := range values {
		if math.IsNaN(value) {
			continue
		}
		sum += value
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

// NaNStd returns the population standard deviation over the defined entries,
// skipping NaN values. The result is NaN when no entry is defined.
func NaNStd(values []float64) float64 {
	mean := NaNAvg(values)
	if math.IsNaN(mean) {
		return math.NaN()
	}
	sum := 0.0
	count := 0
	for _, value := range values {
		if math.IsNaN(value) {
			continue
		}
		diff := mean - value
		sum += diff * diff
		count++
	}
	return math.Sqrt(sum / float64(count))
}

// MaskedAvg pools a feature map into one vector per channel, weighting each
// spatial position by the mask and flooring the denominator at eps so empty
// masks stay finite.
func MaskedAvg(f model.FeatureMap, m model.Mask, eps float64) ([]float64, error) {
	if f.H != m.H || f.W != m.W {
		return nil, fmt.Errorf("feature grid %dx%d does not match mask %dx%d", f.H, f.W, m.H, m.W)
	}
	weight := 0.0
	for _, v := range m.Pix {
		weight += v
	}
	denom := weight + eps
	out := make([]float64, f.C)
	for c := 0; c < f.C; c++ {
		sum := 0.0
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				sum += f.At(c, y, x) * m.At(y, x)
			}
		}
		out[c] = sum / denom
	}
	return out, nil
}

// InvertMask returns the complement mask 1-m.
func InvertMask(m model.Mask) model.Mask {
	out := model.NewMask(m.H, m.W)
	for i, v := range m.Pix {
		out.Pix[i] = 1 - v
	}
	return out
}

// SqDistField returns, row-major, the squared Euclidean distance between the
// feature column at each spatial position and proto.
func SqDistField(f model.FeatureMap, proto []float64) ([]float64, error) {
	if len(proto) != f.C {
		return nil, fmt.Errorf("prototype length %d does not match %d channels", len(proto), f.C)
	}
	out := make([]float64, f.H*f.W)
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			sum := 0.0
			for c := 0; c < f.C; c++ {
				diff := f.At(c, y, x) - proto[c]
				sum += diff * diff
			}
			out[y*f.W+x] = sum
		}
	}
	return out, nil
}

// ArgmaxChannel reduces per-class score channels to a label map, breaking
// ties toward the lowest class index.
func ArgmaxChannel(s model.FeatureMap) model.LabelMap {
	out := model.NewLabelMap(s.H, s.W)
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			best := 0
			bestScore := s.At(0, y, x)
			for c := 1; c < s.C; c++ {
				if score := s.At(c, y, x); score > bestScore {
					best = c
					bestScore = score
				}
			}
			out.Set(y, x, best)
		}
	}
	return out
}

// ResizeNearestLabels resamples a label map to h*w with nearest neighbour,
// preserving the discrete label alphabet.
func ResizeNearestLabels(m model.LabelMap, h, w int) model.LabelMap {
	if m.H == h && m.W == w {
		return m
	}
	out := model.NewLabelMap(h, w)
	for y := 0; y < h; y++ {
		sy := nearestIndex(y, h, m.H)
		for x := 0; x < w; x++ {
			out.Set(y, x, m.At(sy, nearestIndex(x, w, m.W)))
		}
	}
	return out
}

// ResizeNearestMask resamples a mask to h*w with nearest neighbour.
func ResizeNearestMask(m model.Mask, h, w int) model.Mask {
	if m.H == h && m.W == w {
		return m
	}
	out := model.NewMask(h, w)
	for y := 0; y < h; y++ {
		sy := nearestIndex(y, h, m.H)
		for x := 0; x < w; x++ {
			out.Set(y, x, m.At(sy, nearestIndex(x, w, m.W)))
		}
	}
	return out
}

func nearestIndex(i, dst, src int) int {
	if dst <= 0 || src <= 0 {
		return 0
	}
	j := i * src / dst
	if j >= src {
		j = src - 1
	}
	return j
}
