package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
)

// Ensure maintenanceService implements MaintenanceService
var _ driving.MaintenanceService = (*maintenanceService)(nil)

// maintenanceService runs retention housekeeping over sync data
type maintenanceService struct {
	records  driven.RecordStore
	syncLogs driven.SyncLogStore
	logger   *slog.Logger
}

// NewMaintenanceService creates a new MaintenanceService
func NewMaintenanceService(
	records driven.RecordStore,
	syncLogs driven.SyncLogStore,
	logger *slog.Logger,
) driving.MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &maintenanceService{
		records:  records,
		syncLogs: syncLogs,
		logger:   logger,
	}
}

// PurgeSyncLogs removes sync log entries older than the retention window
func (s *maintenanceService) PurgeSyncLogs(ctx context.Context, olderThan time.Time) (int, error) {
	purged, err := s.syncLogs.Purge(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync logs: %w", err)
	}

	if purged > 0 {
		s.logger.Info("purged sync logs", "count", purged, "older_than", olderThan)
	}
	return purged, nil
}

// PurgeTombstones removes soft-deleted records past the retention window
func (s *maintenanceService) PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error) {
	purged, err := s.records.PurgeTombstones(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}

	if purged > 0 {
		s.logger.Info("purged tombstones", "count", purged, "older_than", olderThan)
	}
	return purged, nil
}
