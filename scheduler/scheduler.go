package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"listing_dedup/config"
	"listing_dedup/services"
)

// Runner runs one sweep; *services.Sweeper satisfies it
type Runner interface {
	Run(ctx context.Context, trigger string, so services.ScanOptions) (*services.SweepOutcome, error)
}

// Scheduler starts periodic sweeps from a cron expression or a fixed
// interval and accepts manual triggers in between
type Scheduler struct {
	cfg       config.SchedulerConfig
	sweeper   Runner
	scan      services.ScanOptions
	cron      *cron.Cron
	ticker    *time.Ticker
	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(cfg config.SchedulerConfig, sweeper Runner, scan services.ScanOptions) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		sweeper: sweeper,
		scan:    scan,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.pollTriggers(ctx)

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runSweep(ctx, "cron")
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.runSweep(ctx, "cron")
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, sweeps run only when triggered")
	}

	return nil
}

// Trigger queues a sweep. A trigger arriving while one is already queued is
// dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Stop halts scheduling and waits for a running sweep to return
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		<-s.cron.Stop().Done()
		s.wg.Wait()
	})
}

func (s *Scheduler) pollTriggers(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.triggerCh:
			s.runSweep(ctx, "manual")
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context, trigger string) {
	_, err := s.sweeper.Run(ctx, trigger, s.scan)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrSweepRunning):
		log.Printf("Scheduled sweep skipped: another sweep is running")
	default:
		log.Printf("Scheduled sweep error: %v", err)
	}
}
