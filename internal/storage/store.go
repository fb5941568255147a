package storage

import (
	"context"

	"fewseg/internal/model"
)

// Store persists evaluation runs and their cross-run reports.
type Store interface {
	Init(ctx context.Context) error
	SaveEvalRun(ctx context.Context, record model.EvalRunRecord) error
	GetEvalRun(ctx context.Context, evalID string, runIndex int) (model.EvalRunRecord, bool, error)
	ListEvalRuns(ctx context.Context, evalID string) ([]model.EvalRunRecord, error)
	SaveReport(ctx context.Context, record model.EvalReportRecord) error
	GetReport(ctx context.Context, evalID string) (model.EvalReportRecord, bool, error)
	ListReports(ctx context.Context) ([]model.EvalReportRecord, error)
}
