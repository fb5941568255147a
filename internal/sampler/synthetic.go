package sampler

import (
	"context"
	"fmt"
	"math/rand"

	"fewseg/internal/model"
)

// synthetic generates rectangle-object episodes deterministically from the
// current seed. Embeddings are class signature vectors plus Gaussian noise
// on a strided grid, and query score maps carry the negated distance to
// every class signature, so both decode strategies have something real to
// separate.
type synthetic struct {
	cfg        Config
	rng        *rand.Rand
	signatures [][]float64
}

func newSynthetic(cfg Config) (*synthetic, error) {
	cfg = cfg.withDefaults()
	if cfg.ImageH%cfg.EmbedStride != 0 || cfg.ImageW%cfg.EmbedStride != 0 {
		return nil, fmt.Errorf("image %dx%d not divisible by embed stride %d", cfg.ImageH, cfg.ImageW, cfg.EmbedStride)
	}
	if cfg.MaxLabel < 1 {
		return nil, fmt.Errorf("max label must be at least 1, got %d", cfg.MaxLabel)
	}

	// Signatures are fixed per class id, independent of the run seed, so
	// reseeding changes layouts but not class identity.
	signatures := make([][]float64, cfg.MaxLabel+1)
	for id := range signatures {
		sigRNG := rand.New(rand.NewSource(int64(id)*7919 + 11))
		sig := make([]float64, cfg.EmbedDim)
		for d := range sig {
			sig[d] = sigRNG.NormFloat64()
		}
		signatures[id] = sig
	}

	return &synthetic{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
		signatures: signatures,
	}, nil
}

func (s *synthetic) Name() string { return "synthetic" }

func (s *synthetic) Reseed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *synthetic) Next(_ context.Context) (model.Episode, error) {
	classIDs := make([]int, s.cfg.Ways)
	for w := range classIDs {
		classIDs[w] = 1 + s.rng.Intn(s.cfg.MaxLabel)
	}

	ep := model.Episode{
		ClassIDs: classIDs,
		Support:  make([][]model.SupportShot, s.cfg.Ways),
	}
	for w, id := range classIDs {
		shots := make([]model.SupportShot, s.cfg.Shots)
		for i := range shots {
			layout := s.randomRect()
			fg := s.rectMask(layout)
			shots[i] = model.SupportShot{
				Features: s.embed(layout, id),
				FG:       fg,
				BG:       invert(fg),
			}
		}
		ep.Support[w] = shots
	}

	for q := 0; q < s.cfg.Queries; q++ {
		layout := s.randomRect()
		// Scope is one way per episode; queries belong to the first class.
		id := classIDs[0]
		features := s.embed(layout, id)
		ep.Queries = append(ep.Queries, model.Query{
			Features: features,
			Scores:   s.score(features),
			Label:    s.labelMap(layout, id),
		})
	}
	return ep, nil
}

type rect struct {
	y0, x0, y1, x1 int
}

func (r rect) contains(y, x int) bool {
	return y >= r.y0 && y < r.y1 && x >= r.x0 && x < r.x1
}

func (s *synthetic) randomRect() rect {
	h, w := s.cfg.ImageH, s.cfg.ImageW
	minH, minW := h/4, w/4
	rh := minH + s.rng.Intn(h/2)
	rw := minW + s.rng.Intn(w/2)
	y0 := s.rng.Intn(h - rh)
	x0 := s.rng.Intn(w - rw)
	return rect{y0: y0, x0: x0, y1: y0 + rh, x1: x0 + rw}
}

func (s *synthetic) rectMask(r rect) model.Mask {
	mask := model.NewMask(s.cfg.ImageH, s.cfg.ImageW)
	for y := r.y0; y < r.y1; y++ {
		for x := r.x0; x < r.x1; x++ {
			mask.Set(y, x, 1)
		}
	}
	return mask
}

func (s *synthetic) labelMap(r rect, id int) model.LabelMap {
	out := model.NewLabelMap(s.cfg.ImageH, s.cfg.ImageW)
	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			switch {
			case y < s.cfg.IgnoreBorder || x < s.cfg.IgnoreBorder ||
				y >= out.H-s.cfg.IgnoreBorder || x >= out.W-s.cfg.IgnoreBorder:
				out.Set(y, x, s.cfg.IgnoreLabel)
			case r.contains(y, x):
				out.Set(y, x, id)
			}
		}
	}
	return out
}

// embed renders the layout on the strided embedding grid: foreground cells
// take the class signature, the rest take the background signature, both
// with additive noise.
func (s *synthetic) embed(r rect, id int) model.FeatureMap {
	stride := s.cfg.EmbedStride
	out := model.NewFeatureMap(s.cfg.EmbedDim, s.cfg.ImageH/stride, s.cfg.ImageW/stride)
	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			sig := s.signatures[0]
			if r.contains(y*stride+stride/2, x*stride+stride/2) {
				sig = s.signatures[id]
			}
			for c := 0; c < out.C; c++ {
				out.Set(c, y, x, sig[c]+s.cfg.Noise*s.rng.NormFloat64())
			}
		}
	}
	return out
}

// score converts embeddings into per-class score channels as the negated
// squared distance to each class signature.
func (s *synthetic) score(features model.FeatureMap) model.FeatureMap {
	out := model.NewFeatureMap(len(s.signatures), features.H, features.W)
	for y := 0; y < features.H; y++ {
		for x := 0; x < features.W; x++ {
			for id, sig := range s.signatures {
				sum := 0.0
				for c := 0; c < features.C; c++ {
					diff := features.At(c, y, x) - sig[c]
					sum += diff * diff
				}
				out.Set(id, y, x, -sum)
			}
		}
	}
	return out
}

func invert(m model.Mask) model.Mask {
	out := model.NewMask(m.H, m.W)
	for i, v := range m.Pix {
		out.Pix[i] = 1 - v
	}
	return out
}
