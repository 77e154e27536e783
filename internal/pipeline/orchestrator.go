// Package pipeline runs one call event from recording to CRM note.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/note"
	"call-notes-go/internal/notify"
	"call-notes-go/internal/roles"
	"call-notes-go/internal/types"
)

const (
	DefaultMinAudioBytes      = 10000
	DefaultMinTranscriptChars = 50
	defaultManagerName        = "Менеджер"
)

type AudioFetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (types.Transcript, error)
}

type RoleClassifier interface {
	Classify(utts []types.Utterance) types.RoleAssignment
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string, direction types.CallDirection, managerHint string) (types.AnalysisResult, error)
}

type NoteWriter interface {
	WriteNote(ctx context.Context, dealID int64, text string) error
}

type UserDirectory interface {
	UserName(ctx context.Context, userID int64) (string, error)
}

// Deps are the collaborators of a run. Users may be nil.
type Deps struct {
	Audio      AudioFetcher
	Transcribe Transcriber
	Roles      RoleClassifier
	Analyze    Analyzer
	Notes      NoteWriter
	Notify     notify.Notifier
	Users      UserDirectory
}

type Options struct {
	MinAudioBytes      int
	MinTranscriptChars int
	Language           string
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	log    *logger.Logger
	tracer trace.Tracer
}

func NewOrchestrator(deps Deps, opts Options, log *logger.Logger) *Orchestrator {
	if opts.MinAudioBytes <= 0 {
		opts.MinAudioBytes = DefaultMinAudioBytes
	}
	if opts.MinTranscriptChars <= 0 {
		opts.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if deps.Notify == nil {
		deps.Notify = notify.Nop{}
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		log:    log.WithComponent("pipeline"),
		tracer: otel.Tracer("call-notes-go/pipeline"),
	}
}

// run carries the per-call state through the stages.
type run struct {
	out  Outcome
	log  *logrus.Entry
	span trace.Span
}

// Run executes every stage for a resolved target. It never panics on stage
// errors and never retries; the returned Outcome says where it stopped.
func (o *Orchestrator) Run(ctx context.Context, target types.ResolvedTarget, ev types.CallEvent) Outcome {
	r := &run{out: Outcome{
		RunID:      uuid.NewString(),
		Reached:    Received,
		DealID:     target.DealID,
		WasCreated: target.WasCreated,
	}}
	r.log = o.log.WithDeal(target.DealID).WithFields(logrus.Fields{
		"run_id":    r.out.RunID,
		"direction": ev.Direction,
	})
	ctx, r.span = o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int64("deal.id", target.DealID),
		attribute.Bool("deal.created", target.WasCreated),
		attribute.String("call.direction", string(ev.Direction)),
	))
	defer r.span.End()

	r.log.Info("processing call")
	manager := o.managerName(ctx, ev.ResponsibleUserID, r.log)

	// fetch
	var audio []byte
	if err := o.stage(ctx, r, StageFetch, func(ctx context.Context) (err error) {
		audio, err = o.deps.Audio.Download(ctx, ev.RecordingURL)
		return err
	}); err != nil {
		return r.out
	}
	r.out.Reached = Fetched
	r.log.WithField("audio_bytes", len(audio)).Info("recording downloaded")
	if len(audio) < o.opts.MinAudioBytes {
		return o.abort(r, StageTranscribe, fmt.Sprintf("recording too small (%d bytes)", len(audio)))
	}

	// transcribe
	var tr types.Transcript
	if err := o.stage(ctx, r, StageTranscribe, func(ctx context.Context) (err error) {
		tr, err = o.deps.Transcribe.Transcribe(ctx, audio, o.opts.Language)
		return err
	}); err != nil {
		return r.out
	}
	r.out.Reached = Transcribed
	if n := len([]rune(tr.FullText)); n < o.opts.MinTranscriptChars {
		return o.abort(r, StageClassify, fmt.Sprintf("transcript too short (%d chars)", n))
	}

	// classify
	var formatted string
	_ = o.stage(ctx, r, StageClassify, func(ctx context.Context) error {
		formatted = roles.FormatTranscript(tr, o.deps.Roles.Classify(tr.Utterances))
		return nil
	})
	r.out.Reached = RolesAssigned

	// analyze
	var analysis types.AnalysisResult
	if err := o.stage(ctx, r, StageAnalyze, func(ctx context.Context) (err error) {
		analysis, err = o.deps.Analyze.Analyze(ctx, formatted, ev.Direction, manager)
		return err
	}); err != nil {
		return r.out
	}
	r.out.Reached = Analyzed

	// format
	_ = o.stage(ctx, r, StageFormat, func(ctx context.Context) error {
		r.out.Note = note.Format(note.Input{
			Direction:       ev.Direction,
			DurationSeconds: tr.DurationSeconds,
			Analysis:        analysis,
			ManagerHint:     manager,
		})
		return nil
	})
	r.out.Reached = NoteFormatted

	// persist
	if err := o.stage(ctx, r, StagePersist, func(ctx context.Context) error {
		return o.deps.Notes.WriteNote(ctx, target.DealID, r.out.Note)
	}); err != nil {
		return r.out
	}
	r.out.Reached = Persisted
	r.log.Info("note saved")

	// notify; the note stays written whatever happens here
	if err := o.stage(ctx, r, StageNotify, func(ctx context.Context) error {
		return o.deps.Notify.Notify(ctx, notify.Summary{
			DealID:          target.DealID,
			ClientName:      analysis.ClientName,
			Outcome:         analysis.Outcome,
			DurationSeconds: tr.DurationSeconds,
		})
	}); err != nil {
		return r.out
	}
	r.out.Reached = Notified
	r.out.Status = Succeeded
	r.log.WithField("call_result", analysis.Outcome).Info("call processed")
	return r.out
}

// stage runs fn in its own span. On error it marks the outcome failed and
// logs once; callers return immediately.
func (o *Orchestrator) stage(ctx context.Context, r *run, s Stage, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(s))
	defer span.End()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.span.SetStatus(codes.Error, string(s))

	r.out.Status = Failed
	r.out.Stage = s
	r.out.Err = &StageError{Stage: s, Err: err}
	r.out.Reason = err.Error()
	r.log.WithField("stage", s).WithField("error", err.Error()).Error("stage failed")
	return r.out.Err
}

// abort ends the run quietly: warning log, no notification.
func (o *Orchestrator) abort(r *run, before Stage, reason string) Outcome {
	r.out.Status = Aborted
	r.out.Stage = before
	r.out.Reason = reason
	r.span.SetAttributes(attribute.String("pipeline.abort", reason))
	r.log.WithField("stage", before).Warn("skipping call: " + reason)
	return r.out
}

func (o *Orchestrator) managerName(ctx context.Context, userID int64, log *logrus.Entry) string {
	if userID == 0 || o.deps.Users == nil {
		return defaultManagerName
	}
	name, err := o.deps.Users.UserName(ctx, userID)
	if err != nil || name == "" {
		log.WithField("user_id", userID).WithField("error", fmt.Sprint(err)).Warn("manager lookup failed")
		return defaultManagerName
	}
	return name
}
