package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"listing_dedup/models"
)

// ReportArchive persists serialized scan reports
type ReportArchive interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}

// ReportKey names the report object of a run, partitioned by day
func ReportKey(run *models.ScanRun) string {
	started := run.StartedAt.UTC()
	return fmt.Sprintf("scan-reports/%s/run-%d-%s.json",
		started.Format("2006/01/02"), run.ID, started.Format("150405"))
}

// DirArchive writes reports below a local directory
type DirArchive struct {
	Root string
}

func (a DirArchive) Save(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(a.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
