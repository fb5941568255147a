package decode

import (
	"context"
	"fmt"

	"fewseg/internal/model"
	"fewseg/internal/nn"
)

type prototypeDecoder struct {
	cfg   Config
	model EmbeddingModel
}

// NewPrototype builds the nearest-prototype decoder: masked spatial
// averaging of support embeddings yields one foreground and one background
// prototype, and each query pixel takes the label of the closer one.
func NewPrototype(cfg Config, m EmbeddingModel) (Decoder, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("prototype strategy requires an embedding model")
	}
	return &prototypeDecoder{cfg: cfg, model: m}, nil
}

func (d *prototypeDecoder) Strategy() string { return StrategyPrototype }

func (d *prototypeDecoder) Decode(ctx context.Context, ep model.Episode) ([]model.LabelMap, error) {
	if err := checkEpisode(d.cfg, ep); err != nil {
		return nil, err
	}

	support, queries, err := d.model.Embed(ctx, ep)
	if err != nil {
		return nil, err
	}
	shape := ep.Shape()
	if len(support) != shape.Ways*shape.Shots {
		return nil, fmt.Errorf("model returned %d support embeddings for %d shots", len(support), shape.Ways*shape.Shots)
	}
	if len(queries) != shape.Queries {
		return nil, fmt.Errorf("model returned %d query embeddings for %d queries", len(queries), shape.Queries)
	}

	fg, bg, err := d.prototypes(ep, support)
	if err != nil {
		return nil, err
	}

	// Foreground pixels carry the episode's sampled class id so predictions
	// land in the same label space as the ground truth and the accumulator.
	fgLabel := 1
	if len(ep.ClassIDs) > 0 {
		fgLabel = ep.ClassIDs[0]
	}

	preds := make([]model.LabelMap, len(queries))
	for i, query := range queries {
		distFG, err := nn.SqDistField(query, fg)
		if err != nil {
			return nil, err
		}
		distBG, err := nn.SqDistField(query, bg)
		if err != nil {
			return nil, err
		}
		pred := model.NewLabelMap(query.H, query.W)
		for p := range pred.Pix {
			// Strictly closer to foreground; an exact tie stays background.
			if distFG[p] < distBG[p] {
				pred.Pix[p] = fgLabel
			}
		}
		label := ep.Queries[i].Label
		preds[i] = nn.ResizeNearestLabels(pred, label.H, label.W)
	}
	return preds, nil
}

// prototypes averages shot-level fg/bg prototypes over all support shots.
// The background prototype deliberately pools the complement of the
// foreground mask, whatever else the support image contains.
func (d *prototypeDecoder) prototypes(ep model.Episode, support []model.FeatureMap) ([]float64, []float64, error) {
	var fg, bg []float64
	count := 0
	idx := 0
	for _, way := range ep.Support {
		for _, shot := range way {
			features := support[idx]
			idx++

			fgMask := nn.ResizeNearestMask(shot.FG, features.H, features.W)
			shotFG, err := nn.MaskedAvg(features, fgMask, epsilon)
			if err != nil {
				return nil, nil, err
			}
			shotBG, err := nn.MaskedAvg(features, nn.InvertMask(fgMask), epsilon)
			if err != nil {
				return nil, nil, err
			}

			if fg == nil {
				fg = make([]float64, len(shotFG))
				bg = make([]float64, len(shotBG))
			}
			for c := range shotFG {
				fg[c] += shotFG[c]
				bg[c] += shotBG[c]
			}
			count++
		}
	}
	if count == 0 {
		return nil, nil, fmt.Errorf("episode has no support shots")
	}
	for c := range fg {
		fg[c] /= float64(count)
		bg[c] /= float64(count)
	}
	return fg, bg, nil
}
