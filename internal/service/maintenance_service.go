package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
)

type staleSwapSweeper interface {
	RejectStale(ctx context.Context) ([]models.SwapRequest, error)
}

type emptyGroupPruner interface {
	groupReader
	DeleteEmpty(ctx context.Context) (int64, error)
}

// MaintenanceService repairs state left behind by writers that bypassed the workflows.
type MaintenanceService struct {
	workflowBase
	swaps  staleSwapSweeper
	groups emptyGroupPruner
}

// NewMaintenanceService constructs the maintenance tasks.
func NewMaintenanceService(swaps staleSwapSweeper, groups emptyGroupPruner, notifications notifier, publisher changePublisher, metrics workflowRecorder, logger *zap.Logger) *MaintenanceService {
	return &MaintenanceService{
		workflowBase: newWorkflowBase(notifications, publisher, metrics, logger),
		swaps:        swaps,
		groups:       groups,
	}
}

// SweepSwaps rejects pending swap requests whose pairing no longer holds and tells
// both parties. It returns the rejected requests.
func (s *MaintenanceService) SweepSwaps(ctx context.Context) (rejected []models.SwapRequest, err error) {
	defer func() { s.record(opMaintenanceSweep, err) }()

	rejected, err = s.swaps.RejectStale(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sweep swap requests")
	}
	s.logger.Info("stale swap requests swept", zap.Int("rejected", len(rejected)))
	s.notifyInvalidatedSwaps(ctx, s.groups, rejected, "")
	return rejected, nil
}

// PruneGroups deletes groups without members and returns how many were removed.
func (s *MaintenanceService) PruneGroups(ctx context.Context) (removed int64, err error) {
	defer func() { s.record(opMaintenancePrune, err) }()

	removed, err = s.groups.DeleteEmpty(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune empty groups")
	}
	s.logger.Info("empty groups pruned", zap.Int64("removed", removed))
	return removed, nil
}
