// Package fewseg is the embeddable client API for running few-shot
// segmentation evaluations and querying their results.
package fewseg

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"fewseg/internal/decode"
	"fewseg/internal/metric"
	"fewseg/internal/model"
	"fewseg/internal/platform"
	"fewseg/internal/sampler"
	"fewseg/internal/stats"
	"fewseg/internal/storage"
)

const (
	defaultResultsDir = "results"
	defaultDBPath     = "fewseg.db"

	defaultRuns     = 5
	defaultEpisodes = 100
	defaultSeed     = 1234
)

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
}

type Client struct {
	store      storage.Store
	resultsDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		resultsDir: resultsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// EvaluateRequest configures one evaluation. Zero values fall back to
// the defaults of the original experiment setup: 5 runs, seed 1234,
// ignore label 255, a 1/1/1 task.
type EvaluateRequest struct {
	EvalID      string
	Source      string
	Strategy    string
	Runs        int
	Episodes    int
	Seed        int64
	IgnoreLabel int
	Ways        int
	Shots       int
	Queries     int
	MaxLabel    int

	ImageSize   int
	EmbedDim    int
	EmbedStride int

	// Progress receives per-run summaries; nil keeps the evaluation quiet.
	Progress io.Writer
}

// EvaluateSummary condenses an evaluation's final report.
type EvaluateSummary struct {
	EvalID           string
	ArtifactsDir     string
	Runs             int
	Episodes         int
	Labels           []int
	MeanIoU          float64
	MeanIoUStd       float64
	MeanIoUBinary    float64
	MeanIoUBinaryStd float64
}

// Evaluate runs R runs of N episodes under the requested strategy and
// persists run artifacts, the final report, and store records.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	req = withEvaluateDefaults(req)

	source, err := sampler.New(req.Source, sampler.Config{
		Ways:        req.Ways,
		Shots:       req.Shots,
		Queries:     req.Queries,
		ImageH:      req.ImageSize,
		ImageW:      req.ImageSize,
		EmbedDim:    req.EmbedDim,
		EmbedStride: req.EmbedStride,
		MaxLabel:    req.MaxLabel,
		IgnoreLabel: req.IgnoreLabel,
	})
	if err != nil {
		return EvaluateSummary{}, err
	}

	decoder, err := decode.New(req.Strategy, decode.Config{
		Ways:    req.Ways,
		Shots:   req.Shots,
		Queries: req.Queries,
	}, decode.Models{
		Score:     sampler.EpisodeScores{},
		Embedding: sampler.EpisodeEmbeddings{},
	})
	if err != nil {
		return EvaluateSummary{}, err
	}

	if err := c.store.Init(ctx); err != nil {
		return EvaluateSummary{}, err
	}

	cfg := stats.EvalConfig{
		EvalID:      req.EvalID,
		Source:      source.Name(),
		Strategy:    decoder.Strategy(),
		Runs:        req.Runs,
		Episodes:    req.Episodes,
		Seed:        req.Seed,
		IgnoreLabel: req.IgnoreLabel,
		Ways:        req.Ways,
		Shots:       req.Shots,
		Queries:     req.Queries,
		MaxLabel:    req.MaxLabel,
	}
	if _, err := stats.WriteEvalConfig(c.resultsDir, cfg); err != nil {
		return EvaluateSummary{}, err
	}

	harness, err := platform.NewHarness(platform.HarnessConfig{
		EvalID:      req.EvalID,
		Runs:        req.Runs,
		Episodes:    req.Episodes,
		Seed:        req.Seed,
		IgnoreLabel: req.IgnoreLabel,
		ResultsDir:  c.resultsDir,
		Store:       c.store,
		Progress:    req.Progress,
		Source:      source,
		Decoder:     decoder,
	})
	if err != nil {
		return EvaluateSummary{}, err
	}

	report, err := harness.Run(ctx)
	if err != nil {
		return EvaluateSummary{}, err
	}

	artifactsDir, err := c.persistFinal(ctx, cfg, report)
	if err != nil {
		return EvaluateSummary{}, err
	}

	return EvaluateSummary{
		EvalID:           req.EvalID,
		ArtifactsDir:     artifactsDir,
		Runs:             req.Runs,
		Episodes:         req.Episodes,
		Labels:           report.Labels,
		MeanIoU:          report.Final.MeanIoU,
		MeanIoUStd:       report.Final.MeanIoUStd,
		MeanIoUBinary:    report.FinalBinary.MeanIoU,
		MeanIoUBinaryStd: report.FinalBinary.MeanIoUStd,
	}, nil
}

// Evals lists indexed evaluations, newest first.
func (c *Client) Evals(limit int) ([]stats.EvalIndexEntry, error) {
	entries, err := stats.ListEvalIndex(c.resultsDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Report loads an evaluation's final report from its artifacts.
func (c *Client) Report(evalID string) (stats.FinalReport, bool, error) {
	return stats.ReadFinalReport(c.resultsDir, evalID)
}

// RunRecords loads an evaluation's persisted per-run records from the store.
func (c *Client) RunRecords(ctx context.Context, evalID string) ([]model.EvalRunRecord, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListEvalRuns(ctx, evalID)
}

func (c *Client) persistFinal(ctx context.Context, cfg stats.EvalConfig, report platform.Report) (string, error) {
	final := stats.NewFinalReport(cfg, report.Final, report.FinalBinary)
	artifactsDir, err := stats.WriteFinalReport(c.resultsDir, final)
	if err != nil {
		return "", err
	}

	if err := stats.AppendEvalIndex(c.resultsDir, stats.EvalIndexEntry{
		EvalID:        cfg.EvalID,
		Source:        cfg.Source,
		Strategy:      cfg.Strategy,
		Runs:          cfg.Runs,
		Episodes:      cfg.Episodes,
		Seed:          cfg.Seed,
		MeanIoU:       final.MeanIoU,
		MeanIoUBinary: final.MeanIoUBinary,
		CreatedAtUTC:  final.GeneratedAtUTC,
	}); err != nil {
		return "", err
	}

	record := model.EvalReportRecord{
		VersionedRecord:  storage.Stamp(),
		EvalID:           cfg.EvalID,
		Source:           cfg.Source,
		Strategy:         cfg.Strategy,
		Runs:             cfg.Runs,
		Episodes:         cfg.Episodes,
		Seed:             cfg.Seed,
		Labels:           report.Labels,
		ClassIoUMean:     final.ClassIoUMean,
		ClassIoUStd:      final.ClassIoUStd,
		MeanIoU:          final.MeanIoU,
		MeanIoUStd:       final.MeanIoUStd,
		MeanIoUBinary:    final.MeanIoUBinary,
		MeanIoUBinaryStd: final.MeanIoUBinaryStd,
		PerRunMeanIoU:    final.PerRunMeanIoU,
		GeneratedAtUTC:   final.GeneratedAtUTC,
	}
	if err := c.store.SaveReport(ctx, record); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return artifactsDir, nil
}

func withEvaluateDefaults(req EvaluateRequest) EvaluateRequest {
	if req.EvalID == "" {
		req.EvalID = uuid.NewString()
	}
	if req.Strategy == "" {
		req.Strategy = decode.StrategyPrototype
	}
	if req.Runs == 0 {
		req.Runs = defaultRuns
	}
	if req.Episodes == 0 {
		req.Episodes = defaultEpisodes
	}
	if req.Seed == 0 {
		req.Seed = defaultSeed
	}
	if req.IgnoreLabel == 0 {
		req.IgnoreLabel = metric.DefaultIgnoreLabel
	}
	if req.Ways == 0 {
		req.Ways = 1
	}
	if req.Shots == 0 {
		req.Shots = 1
	}
	if req.Queries == 0 {
		req.Queries = 1
	}
	if req.MaxLabel == 0 {
		req.MaxLabel = 20
	}
	return req
}
