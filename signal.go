package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// errInterrupted is the cancellation cause of a backup the user stopped.
var errInterrupted = errors.New("backup interrupted")

// shutdownContext ties a backup run to SIGINT and SIGTERM. See
// watchInterrupts.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	return watchInterrupts(parent, logger, os.Exit)
}

// watchInterrupts cancels the returned context with errInterrupted on the
// first signal, leaving the runner to finalize or discard its session. A
// second signal calls exit(1) without waiting for that.
func watchInterrupts(parent context.Context, logger *slog.Logger, exit func(int)) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)

		interrupted := false

		for {
			select {
			case <-parent.Done():
				return
			case sig := <-sigs:
				if interrupted {
					logger.Warn("second interrupt, abandoning session",
						slog.String("signal", sig.String()),
					)
					exit(1)

					return
				}

				interrupted = true

				logger.Info("interrupt received, settling current session (repeat to abort)",
					slog.String("signal", sig.String()),
				)
				cancel(fmt.Errorf("%w by %s", errInterrupted, sig))
			}
		}
	}()

	return ctx
}
