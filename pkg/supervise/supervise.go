package supervise

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"
)

// DefaultParentPollInterval is how often WatchParent checks its parent.
const DefaultParentPollInterval = time.Second

// Signals routes process signals until ctx is done: SIGINT and SIGTERM call
// cancel, SIGHUP calls reload.
func Signals(ctx context.Context, cancel context.CancelFunc, reload func(), logger *log.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	handleSignals(ctx, sigs, cancel, reload, logger)
}

func handleSignals(ctx context.Context, sigs <-chan os.Signal, cancel context.CancelFunc, reload func(), logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("[supervise] received SIGHUP, reloading configuration")
				reload()
			default:
				logger.Infof("[supervise] received %v, shutting down", sig)
				cancel()
				return
			}
		}
	}
}

// WatchParent cancels ctx once the parent process is gone, so the worker
// does not outlive whatever started it.
func WatchParent(ctx context.Context, cancel context.CancelFunc, interval time.Duration, logger *log.Logger) {
	ppid := int32(os.Getppid())
	watchParent(ctx, cancel, interval, func(ctx context.Context) (bool, error) {
		return process.PidExistsWithContext(ctx, ppid)
	}, logger)
}

func watchParent(ctx context.Context, cancel context.CancelFunc, interval time.Duration, alive func(ctx context.Context) (bool, error), logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := alive(ctx)
			if err != nil {
				logger.Debugf("[supervise] error checking parent process: %v", err)
				continue
			}
			if !ok {
				logger.Warn("[supervise] parent process exited, shutting down")
				cancel()
				return
			}
		}
	}
}
