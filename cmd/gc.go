package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/clock/system"
)

func newGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Garbage-collect creative assets past the retention window",
		RunE:  runGCCommand,
	}
}

func runGCCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, err := buildAssetStore(ctx, cfg, system.New(), logger, &closers)
	if err != nil {
		return err
	}

	deleted, err := store.GarbageCollect(ctx)
	if err != nil {
		return fmt.Errorf("garbage collect assets: %w", err)
	}
	logger.Info("asset gc finished",
		zap.Int("deleted", deleted),
		zap.Int("retention_days", cfg.Assets.RetentionDays),
	)
	return nil
}
