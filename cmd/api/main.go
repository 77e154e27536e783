package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-notes-go/internal/app"
	"call-notes-go/internal/config"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/server"
)

const drainTimeout = 2 * time.Minute

// Each shutdown phase gets its own budget; tests shorten them.
var (
	httpShutdownTimeout = 10 * time.Second
	finalTimeout        = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}
	log := logger.New()
	log.WithField("service", "call-notes-go").Info("starting service")
	if missing := cfg.Missing(); len(missing) > 0 {
		log.WithField("missing", missing).Warn("configuration incomplete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build service")
	}
	s := server.New(a.Dispatcher, log)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()
	if err := a.Telegram.Startup(ctx); err != nil {
		log.WithError(err).Warn("startup message not sent")
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdown(log, srv, a.Dispatcher, drainTimeout, func(ctx context.Context) {
		if err := a.Telegram.Shutdown(ctx, ""); err != nil {
			log.WithError(err).Warn("shutdown message not sent")
		}
		if err := a.Close(ctx); err != nil {
			log.WithError(err).Warn("close")
		}
	})
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

type drainer interface {
	Wait()
}

// shutdown stops the listener, waits up to drainLimit for in-flight runs,
// then hands final a context that starts after the drain.
func shutdown(log *logger.Logger, srv httpShutdowner, d drainer, drainLimit time.Duration, final func(context.Context)) {
	httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		d.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainLimit):
		log.WithField("timeout", drainLimit.String()).Warn("in-flight calls still running at exit")
	}

	finalCtx, cancelFinal := context.WithTimeout(context.Background(), finalTimeout)
	defer cancelFinal()
	final(finalCtx)
}
