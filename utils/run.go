package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run calls fn with a context that is cancelled on SIGINT or SIGTERM and
// waits for it to return.
func Run(log *zap.Logger, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := errgroup.Group{}

	g.Go(func() error {
		defer cancel()

		return fn(ctx)
	})

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownSignal)
	select {
	case <-shutdownSignal:
		cancel()
		log.Info("received signal, shutting down")
	case <-ctx.Done():
	}

	return g.Wait()
}
