package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	fewsegapi "fewseg/pkg/fewseg"

	"fewseg/internal/storage"
)

const resultsDir = "results"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "evals":
		return runEvals(args[1:])
	case "report":
		return runReport(args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "reset":
		return runReset(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional evaluation config JSON path")
	evalID := fs.String("eval-id", "", "explicit evaluation id (optional)")
	source := fs.String("source", "synthetic", "episode source name")
	strategy := fs.String("strategy", "prototype", "decode strategy: direct|prototype")
	runs := fs.Int("runs", 5, "run count")
	episodes := fs.Int("episodes", 100, "episodes per run")
	seed := fs.Int64("seed", 1234, "base rng seed; run r uses seed+r")
	ignoreLabel := fs.Int("ignore-label", 255, "ignore-label sentinel")
	ways := fs.Int("ways", 1, "ways per episode")
	shots := fs.Int("shots", 1, "shots per way")
	queries := fs.Int("queries", 1, "queries per episode")
	maxLabel := fs.Int("max-label", 20, "highest foreground class id")
	imageSize := fs.Int("image-size", 64, "square image edge length")
	embedDim := fs.Int("embed-dim", 16, "embedding channels")
	embedStride := fs.Int("embed-stride", 8, "embedding grid stride")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "fewseg.db", "sqlite database path")
	quiet := fs.Bool("quiet", false, "suppress per-run progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := fewsegapi.EvaluateRequest{
		EvalID:      *evalID,
		Source:      *source,
		Strategy:    *strategy,
		Runs:        *runs,
		Episodes:    *episodes,
		Seed:        *seed,
		IgnoreLabel: *ignoreLabel,
		Ways:        *ways,
		Shots:       *shots,
		Queries:     *queries,
		MaxLabel:    *maxLabel,
		ImageSize:   *imageSize,
		EmbedDim:    *embedDim,
		EmbedStride: *embedStride,
	}
	if *configPath != "" {
		loaded, err := loadEvaluateRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}
	if !*quiet {
		req.Progress = os.Stdout
	}

	client, err := fewsegapi.New(fewsegapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		ResultsDir: resultsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("eval_id=%s artifacts=%s\n", summary.EvalID, summary.ArtifactsDir)
	fmt.Printf("mean IoU: %.4f ± %.4f\n", summary.MeanIoU, summary.MeanIoUStd)
	fmt.Printf("binary IoU: %.4f ± %.4f\n", summary.MeanIoUBinary, summary.MeanIoUBinaryStd)
	return nil
}

func runEvals(args []string) error {
	fs := flag.NewFlagSet("evals", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "maximum entries to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := fewsegapi.New(fewsegapi.Options{StoreKind: "memory", ResultsDir: resultsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Evals(*limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no evaluations recorded")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%s  strategy=%s source=%s runs=%d episodes=%d seed=%d mean_iou=%s binary_iou=%s created=%s\n",
			entry.EvalID, entry.Strategy, entry.Source, entry.Runs, entry.Episodes, entry.Seed,
			fmtOptional(entry.MeanIoU), fmtOptional(entry.MeanIoUBinary), entry.CreatedAtUTC)
	}
	return nil
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	evalID := fs.String("eval-id", "", "evaluation id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evalID == "" {
		return fmt.Errorf("report requires --eval-id")
	}

	client, err := fewsegapi.New(fewsegapi.Options{StoreKind: "memory", ResultsDir: resultsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, ok, err := client.Report(*evalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no report for evaluation: %s", *evalID)
	}

	fmt.Printf("evaluation %s (%s/%s, %d runs x %d episodes, seed %d)\n",
		report.Config.EvalID, report.Config.Strategy, report.Config.Source,
		report.Config.Runs, report.Config.Episodes, report.Config.Seed)
	fmt.Printf("mean IoU: %s ± %s\n", fmtOptional(report.MeanIoU), fmtOptional(report.MeanIoUStd))
	fmt.Printf("binary IoU: %s ± %s\n", fmtOptional(report.MeanIoUBinary), fmtOptional(report.MeanIoUBinaryStd))
	for i, id := range report.Labels {
		fmt.Printf("  class %d: %s ± %s\n", id, fmtOptional(report.ClassIoUMean[i]), fmtOptional(report.ClassIoUStd[i]))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	evalID := fs.String("eval-id", "", "evaluation id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "fewseg.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *evalID == "" {
		return fmt.Errorf("runs requires --eval-id")
	}

	client, err := fewsegapi.New(fewsegapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		ResultsDir: resultsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.RunRecords(ctx, *evalID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no runs recorded for evaluation: %s\n", *evalID)
		return nil
	}
	for _, record := range records {
		fmt.Printf("run %d seed=%d episodes=%d mean_iou=%s binary_iou=%s\n",
			record.RunIndex+1, record.Seed, record.Episodes,
			fmtOptional(record.MeanIoU), fmtOptional(record.MeanIoUBinary))
	}
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	dbPath := fs.String("db-path", "fewseg.db", "sqlite database path")
	keepResults := fs.Bool("keep-results", false, "keep the results directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*keepResults {
		if err := os.RemoveAll(resultsDir); err != nil {
			return err
		}
	}
	if err := os.Remove(*dbPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Println("reset complete")
	return nil
}

func fmtOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: fewsegctl <evaluate|evals|report|runs|reset> [flags]", msg)
}
