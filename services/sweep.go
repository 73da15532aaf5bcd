package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"listing_dedup/metrics"
	"listing_dedup/models"
	"listing_dedup/storage"
)

// ErrSweepRunning is returned when another sweep holds the sweep lock
var ErrSweepRunning = errors.New("sweep already running")

// SweepLock guards against two sweeps over the same population
type SweepLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Report is the archived form of a sweep
type Report struct {
	Run    *models.ScanRun    `json:"run"`
	Result *models.ScanResult `json:"result"`
}

// Sweeper runs sweeps for the CLI, the scheduler and the API: it takes the
// sweep lock, records the run and archives the report
type Sweeper struct {
	svc     *DedupService
	lock    SweepLock
	archive storage.ReportArchive
}

func NewSweeper(svc *DedupService, lock SweepLock, archive storage.ReportArchive) *Sweeper {
	return &Sweeper{svc: svc, lock: lock, archive: archive}
}

// SweepOutcome is what one Run produced. Run is nil for dry runs.
type SweepOutcome struct {
	Run       *models.ScanRun    `json:"run,omitempty"`
	Result    *models.ScanResult `json:"result"`
	ReportURL string             `json:"reportUrl,omitempty"`
}

// Run executes one sweep. trigger names the caller (cli, cron, api).
func (w *Sweeper) Run(ctx context.Context, trigger string, so ScanOptions) (*SweepOutcome, error) {
	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			return nil, ErrSweepRunning
		}
		defer func() {
			// ctx may already be cancelled
			if err := w.lock.Release(context.Background()); err != nil {
				log.Printf("Warning: release sweep lock: %v", err)
			}
		}()
	}
	metrics.SweepsInFlight.Inc()
	defer metrics.SweepsInFlight.Dec()

	if so.DryRun {
		result, err := w.svc.ScanForDuplicates(ctx, so)
		return &SweepOutcome{Result: result}, err
	}

	run := &models.ScanRun{
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
		Trigger:   trigger,
	}
	if err := w.svc.store.CreateScanRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create scan run: %w", err)
	}
	log.Printf("Sweep %d started (%s)", run.ID, trigger)

	result, scanErr := w.svc.ScanForDuplicates(ctx, so)
	run.Finish(result, scanErr)
	if err := w.svc.store.UpdateScanRun(context.Background(), run); err != nil {
		log.Printf("Warning: update scan run %d: %v", run.ID, err)
	}

	out := &SweepOutcome{Run: run, Result: result}
	if result != nil {
		log.Printf("Sweep %d %s: %d/%d scanned, %d duplicates, %d failed, %d skipped",
			run.ID, run.Status, result.Scanned, result.Total, result.DuplicatesFound, len(result.Failed), len(result.Skipped))
		if w.archive != nil {
			url, err := w.saveReport(context.Background(), run, result)
			if err != nil {
				log.Printf("Warning: archive report for sweep %d: %v", run.ID, err)
			}
			out.ReportURL = url
		}
	}
	return out, scanErr
}

func (w *Sweeper) saveReport(ctx context.Context, run *models.ScanRun, result *models.ScanResult) (string, error) {
	data, err := json.MarshalIndent(Report{Run: run, Result: result}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return w.archive.Save(ctx, storage.ReportKey(run), data)
}
