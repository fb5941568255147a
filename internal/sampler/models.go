package sampler

import (
	"context"
	"fmt"

	"fewseg/internal/model"
)

// EpisodeEmbeddings is the reference embedding model for sources whose
// episode tensors already are embeddings: it hands them through unchanged.
type EpisodeEmbeddings struct{}

func (EpisodeEmbeddings) Embed(_ context.Context, ep model.Episode) ([]model.FeatureMap, []model.FeatureMap, error) {
	support := make([]model.FeatureMap, 0, len(ep.Support))
	for _, way := range ep.Support {
		for _, shot := range way {
			support = append(support, shot.Features)
		}
	}
	queries := make([]model.FeatureMap, len(ep.Queries))
	for i, q := range ep.Queries {
		queries[i] = q.Features
	}
	return support, queries, nil
}

// EpisodeScores is the reference score model for sources that precompute
// per-class query scores.
type EpisodeScores struct{}

func (EpisodeScores) Scores(_ context.Context, ep model.Episode) ([]model.FeatureMap, error) {
	scores := make([]model.FeatureMap, len(ep.Queries))
	for i, q := range ep.Queries {
		if q.Scores.C == 0 {
			return nil, fmt.Errorf("query %d carries no score channels", i)
		}
		scores[i] = q.Scores
	}
	return scores, nil
}
