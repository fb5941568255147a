package sampler

import (
	"context"
	"fmt"
	"strings"

	"fewseg/internal/model"
)

// Source yields episodes one at a time. Reseed replaces the random stream
// so a run's episode sequence is a pure function of its seed.
type Source interface {
	Name() string
	Reseed(seed int64)
	Next(ctx context.Context) (model.Episode, error)
}

// Config parameterizes an episode source.
type Config struct {
	Ways    int
	Shots   int
	Queries int

	ImageH, ImageW int
	EmbedDim       int
	// EmbedStride is the spatial downsampling factor between the image grid
	// and the embedding grid.
	EmbedStride int
	// MaxLabel is the highest foreground class id; episodes sample from
	// 1..MaxLabel.
	MaxLabel    int
	IgnoreLabel int
	// IgnoreBorder is the width of the ignore-labeled band around query
	// label maps.
	IgnoreBorder int
	Noise        float64
}

func (c Config) withDefaults() Config {
	if c.Ways == 0 {
		c.Ways = 1
	}
	if c.Shots == 0 {
		c.Shots = 1
	}
	if c.Queries == 0 {
		c.Queries = 1
	}
	if c.ImageH == 0 {
		c.ImageH = 64
	}
	if c.ImageW == 0 {
		c.ImageW = 64
	}
	if c.EmbedDim == 0 {
		c.EmbedDim = 16
	}
	if c.EmbedStride == 0 {
		c.EmbedStride = 8
	}
	if c.MaxLabel == 0 {
		c.MaxLabel = 20
	}
	if c.IgnoreLabel == 0 {
		c.IgnoreLabel = 255
	}
	if c.Noise == 0 {
		c.Noise = 0.05
	}
	return c
}

// New looks an episode source up by name.
func New(name string, cfg Config) (Source, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "synthetic":
		return newSynthetic(cfg)
	default:
		return nil, fmt.Errorf("unknown episode source: %s", name)
	}
}
