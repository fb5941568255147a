package decode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fewseg/internal/model"
)

const (
	StrategyDirect    = "direct"
	StrategyPrototype = "prototype"

	// epsilon floors prototype denominators so empty or full masks never
	// divide by zero.
	epsilon = 1e-8
)

var (
	ErrUnsupportedTask = errors.New("unsupported task shape")
	ErrUnknownStrategy = errors.New("unknown decode strategy")
)

// ScoreModel serves the direct strategy: per-pixel class scores for each
// query, one channel per class id.
type ScoreModel interface {
	Scores(ctx context.Context, ep model.Episode) ([]model.FeatureMap, error)
}

// EmbeddingModel serves the prototype strategy: support embeddings in
// episode order (ways x shots flattened) and one embedding per query.
type EmbeddingModel interface {
	Embed(ctx context.Context, ep model.Episode) (support []model.FeatureMap, queries []model.FeatureMap, err error)
}

// Models bundles the external model surfaces a decoder may consume.
type Models struct {
	Score     ScoreModel
	Embedding EmbeddingModel
}

// Config fixes the task geometry a decoder accepts. Episodes with any other
// shape are a configuration error, never a silent degradation.
type Config struct {
	Ways    int
	Shots   int
	Queries int
}

// Decoder turns one episode into pixel-level label maps, one per query.
// Implementations are pure: no state survives an episode.
type Decoder interface {
	Strategy() string
	Decode(ctx context.Context, ep model.Episode) ([]model.LabelMap, error)
}

// New binds a strategy once at construction.
func New(strategy string, cfg Config, models Models) (Decoder, error) {
	switch strings.TrimSpace(strings.ToLower(strategy)) {
	case StrategyDirect:
		return NewDirect(cfg, models.Score)
	case StrategyPrototype:
		return NewPrototype(cfg, models.Embedding)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}

func checkConfig(cfg Config) error {
	if cfg.Ways != 1 || cfg.Shots != 1 || cfg.Queries != 1 {
		return fmt.Errorf("%w: ways=%d shots=%d queries=%d, want 1/1/1", ErrUnsupportedTask, cfg.Ways, cfg.Shots, cfg.Queries)
	}
	return nil
}

func checkEpisode(cfg Config, ep model.Episode) error {
	shape := ep.Shape()
	if shape.Ways != cfg.Ways || shape.Queries != cfg.Queries {
		return fmt.Errorf("%w: episode ways=%d queries=%d, configured %d/%d", ErrUnsupportedTask, shape.Ways, shape.Queries, cfg.Ways, cfg.Queries)
	}
	for _, way := range ep.Support {
		if len(way) != cfg.Shots {
			return fmt.Errorf("%w: episode shots=%d, configured %d", ErrUnsupportedTask, len(way), cfg.Shots)
		}
	}
	return nil
}
