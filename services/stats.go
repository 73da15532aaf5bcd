package services

import (
	"context"
	"fmt"

	"listing_dedup/models"
)

const recentDuplicatesLimit = 10

// GetDuplicateStats reports totals, per-reason and per-status counts and the
// most recently processed duplicates. It reads without locking and may
// observe a sweep half way through.
func (s *DedupService) GetDuplicateStats(ctx context.Context) (*models.DuplicateStats, error) {
	byStatus, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	byReason, err := s.store.CountByReason(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by reason: %w", err)
	}
	recent, err := s.store.RecentDuplicates(ctx, recentDuplicatesLimit)
	if err != nil {
		return nil, fmt.Errorf("recent duplicates: %w", err)
	}

	stats := &models.DuplicateStats{
		ByReason:         make(map[models.DuplicateReason]int, len(models.AllReasons)),
		ByStatus:         make(map[models.ListingStatus]int, len(models.AllStatuses)),
		RecentDuplicates: recent,
	}
	if stats.RecentDuplicates == nil {
		stats.RecentDuplicates = []models.RecentDuplicate{}
	}
	for _, st := range models.AllStatuses {
		stats.ByStatus[st] = byStatus[st]
	}
	for _, n := range byStatus {
		stats.Total += n
	}
	stats.Duplicates = byStatus[models.StatusDuplicate]
	for _, r := range models.AllReasons {
		stats.ByReason[r] = byReason[r]
	}
	return stats, nil
}
