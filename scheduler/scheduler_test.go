package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing_dedup/config"
	"listing_dedup/models"
	"listing_dedup/services"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, trigger string, _ services.ScanOptions) (*services.SweepOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return &services.SweepOutcome{Result: &models.ScanResult{}}, f.err
}

func (f *fakeRunner) count(trigger string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.triggers {
		if t == trigger {
			n++
		}
	}
	return n
}

func TestScheduler_Interval(t *testing.T) {
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, runner, services.ScanOptions{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.count("cron") >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Trigger(t *testing.T) {
	runner := &fakeRunner{err: services.ErrSweepRunning}
	s := New(config.SchedulerConfig{}, runner, services.ScanOptions{})
	require.NoError(t, s.Start(context.Background()))

	s.Trigger()
	assert.Eventually(t, func() bool { return runner.count("manual") == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Zero(t, runner.count("cron"))
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &fakeRunner{}, services.ScanOptions{})
	err := s.Start(context.Background())
	assert.Error(t, err)
	s.Stop()
}
