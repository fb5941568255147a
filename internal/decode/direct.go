package decode

import (
	"context"
	"fmt"

	"fewseg/internal/model"
	"fewseg/internal/nn"
)

type directDecoder struct {
	cfg   Config
	model ScoreModel
}

// NewDirect builds the direct-prediction decoder: the model scores every
// pixel per class and the decoder keeps the argmax, ties toward the lowest
// class index.
func NewDirect(cfg Config, m ScoreModel) (Decoder, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("direct strategy requires a score model")
	}
	return &directDecoder{cfg: cfg, model: m}, nil
}

func (d *directDecoder) Strategy() string { return StrategyDirect }

func (d *directDecoder) Decode(ctx context.Context, ep model.Episode) ([]model.LabelMap, error) {
	if err := checkEpisode(d.cfg, ep); err != nil {
		return nil, err
	}

	scores, err := d.model.Scores(ctx, ep)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(ep.Queries) {
		return nil, fmt.Errorf("model returned %d score maps for %d queries", len(scores), len(ep.Queries))
	}

	preds := make([]model.LabelMap, len(scores))
	for i, score := range scores {
		if score.C == 0 {
			return nil, fmt.Errorf("score map %d has no class channels", i)
		}
		pred := nn.ArgmaxChannel(score)
		label := ep.Queries[i].Label
		preds[i] = nn.ResizeNearestLabels(pred, label.H, label.W)
	}
	return preds, nil
}
