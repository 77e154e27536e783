// Command replay runs call events from a spreadsheet through the pipeline,
// one at a time, and optionally writes an xlsx report of the outcomes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"call-notes-go/internal/aggregator"
	"call-notes-go/internal/app"
	"call-notes-go/internal/config"
	"call-notes-go/internal/dataset"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/pipeline"
	"call-notes-go/internal/types"
)

type options struct {
	file   string
	report string
	limit  int
}

func main() {
	var opts options
	flag.StringVar(&opts.file, "file", os.Getenv("DATASET_PATH"), "xlsx with call events")
	flag.StringVar(&opts.report, "report", "", "optional xlsx report path")
	flag.IntVar(&opts.limit, "limit", 0, "process at most N events (0 = all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}
	log := logger.New().WithComponent("replay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, opts, log)
	stop()
	if err != nil {
		log.WithError(err).Fatal("replay failed")
	}
}

// run owns the app lifecycle so closers run on every return path.
func run(ctx context.Context, cfg *config.Config, opts options, log *logger.Logger) error {
	if opts.file == "" {
		return errors.New("-file is required")
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			log.WithError(cerr).Warn("close")
		}
	}()

	events, bad, err := dataset.Load(opts.file)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	for _, b := range bad {
		log.WithField("row", b.Row).WithError(b.Err).Warn("row skipped")
	}
	if opts.limit > 0 && len(events) > opts.limit {
		events = events[:opts.limit]
	}
	log.WithField("events", len(events)).Info("replaying")

	outcomes, rows := replay(ctx, a.Dispatcher, events, log)

	ins := aggregator.Aggregate(outcomes)
	log.WithField("by_status", ins.ByStatus).
		WithField("failed_at", ins.FailedAt).
		WithField("aborted_before", ins.AbortedBefore).
		WithField("created_deals", ins.CreatedDeals).
		WithField("success_rate", ins.SuccessRate).
		Info("replay finished")

	if opts.report != "" {
		if err := dataset.WriteReport(opts.report, rows); err != nil {
			return err
		}
		log.WithField("path", opts.report).Info("report written")
	}
	return nil
}

type syncRunner interface {
	RunSync(ctx context.Context, ev types.CallEvent) (pipeline.Outcome, bool)
}

func replay(ctx context.Context, d syncRunner, events []types.CallEvent, log *logger.Logger) ([]pipeline.Outcome, []dataset.ReportRow) {
	var outcomes []pipeline.Outcome
	var rows []dataset.ReportRow
	for _, ev := range events {
		if ctx.Err() != nil {
			log.Warn("interrupted")
			break
		}
		row := dataset.ReportRow{TargetID: ev.RawTargetID, TargetKind: string(ev.TargetKind), RecordingURL: ev.RecordingURL}
		out, ok := d.RunSync(ctx, ev)
		if !ok {
			row.Status = "duplicate"
			rows = append(rows, row)
			continue
		}
		outcomes = append(outcomes, out)
		row.Status, row.Stage, row.Reason = string(out.Status), string(out.Stage), out.Reason
		row.DealID, row.WasCreated = out.DealID, out.WasCreated
		rows = append(rows, row)
	}
	return outcomes, rows
}
