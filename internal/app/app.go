// Package app wires configuration into a ready-to-run dispatcher.
package app

import (
	"context"
	"errors"
	"os"

	"call-notes-go/internal/config"
	"call-notes-go/internal/crm"
	"call-notes-go/internal/dedup"
	"call-notes-go/internal/extractor"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/notify"
	"call-notes-go/internal/pipeline"
	"call-notes-go/internal/resolver"
	"call-notes-go/internal/roles"
	"call-notes-go/internal/telemetry"
	"call-notes-go/internal/transcription"
)

const serviceName = "call-notes-go"

type App struct {
	Dispatcher *pipeline.Dispatcher
	Telegram   *notify.Telegram

	closers []func(context.Context) error
}

// Build creates every collaborator. Optional sinks that fail to connect
// are logged and left out.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{}

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(serviceName, os.Stdout, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}

	managers, err := cfg.ManagerNames()
	if err != nil {
		return nil, err
	}
	amo := crm.New(crm.Options{
		Domain:   cfg.AmoCRMDomain,
		Token:    cfg.AmoCRMToken,
		Timeout:  cfg.AmoCRMTimeout,
		Managers: managers,
	}, log)

	var tr pipeline.Transcriber = transcription.Mock{}
	if !cfg.UseMockTranscribe {
		tr = transcription.New(transcription.Options{
			APIKey:       cfg.AssemblyAIKey,
			BaseURL:      cfg.AssemblyAIBaseURL,
			PollInterval: cfg.TranscribePollInterval,
			MaxWait:      cfg.TranscribeMaxWait,
		}, log)
	} else {
		log.Warn("USE_MOCK_TRANSCRIBE enabled, recordings are not sent for transcription")
	}

	var an pipeline.Analyzer = extractor.Mock{}
	if !cfg.UseMockLLM {
		opts := extractor.Options{
			BaseURL:     cfg.LLMBaseURL,
			APIKey:      cfg.LLMAPIKey,
			Model:       cfg.LLMModel,
			Temperature: cfg.AnalysisTemperature,
			Timeout:     cfg.LLMTimeout,
		}
		if cfg.TruncateTranscript {
			t, err := extractor.NewTruncator(cfg.MaxTranscriptTokens)
			if err != nil {
				return nil, err
			}
			opts.Truncator = t
		}
		an = extractor.New(opts, log)
	} else {
		log.Warn("USE_MOCK_LLM enabled, analysis returns canned facts")
	}

	a.Telegram = notify.NewTelegram(notify.TelegramOptions{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID}, log)
	sinks := notify.Multi{a.Telegram}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialPublisher(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.WithError(err).Warn("amqp publisher disabled")
		} else {
			sinks = append(sinks, pub)
			a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		}
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Audio:      amo,
		Transcribe: tr,
		Roles:      roles.NewClassifier(roles.DefaultKeywords()),
		Analyze:    an,
		Notes:      amo,
		Notify:     sinks,
		Users:      amo,
	}, pipeline.Options{
		MinAudioBytes:      cfg.MinAudioBytes,
		MinTranscriptChars: cfg.MinTranscriptChars,
		Language:           cfg.TranscribeLanguage,
	}, log)

	a.Dispatcher = pipeline.NewDispatcher(
		dedup.NewGuard(cfg.DedupCapacity),
		resolver.New(amo, log),
		orch,
		log,
	)
	return a, nil
}

// Close releases sinks and flushes tracing, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
