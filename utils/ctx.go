package utils

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

var (
	cancelMu sync.Mutex
	cancel   context.CancelFunc
)

// NewCtx returns a context cancelled on SIGINT or SIGTERM.
func NewCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	SetCancel(cancel)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()

	return ctx
}

// Stop requires a reason to stop the server so that the stopper can be
// traced back from the logs.
func Stop(logger *zap.Logger, reason string) error {
	if logger == nil {
		return errors.New("logger is not set")
	}
	cancelMu.Lock()
	c := cancel
	cancelMu.Unlock()
	if c == nil {
		err := errors.New("cancel function is not set")
		LogError(logger, err, "failed stopping the server")
		return err
	}

	if reason == "" {
		err := errors.New("cannot stop the server without a reason")
		LogError(logger, err, "failed stopping the server")
		return err
	}

	logger.Info("stopping the server", zap.String("reason", reason))
	c()
	return nil
}

func SetCancel(c context.CancelFunc) {
	cancelMu.Lock()
	cancel = c
	cancelMu.Unlock()
}
