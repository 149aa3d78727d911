package jobs

import (
	"context"
	"sync"
	"time"

	"flotilla/pkg/logging"
)

// PassRunner runs the scheduler passes the manager triggers.
type PassRunner interface {
	RunDaily(ctx context.Context, clientID string) (*RunSummary, error)
	RunWeekly(ctx context.Context, clientID string) (*RunSummary, error)
}

// ManagerConfig holds configuration for the background pass manager.
type ManagerConfig struct {
	Runner         PassRunner
	Logger         logging.Logger
	DailyInterval  time.Duration // default 24h
	WeeklyInterval time.Duration // default 168h
	StartupDelay   time.Duration // delay before the catch-up run, default 1m
	PassTimeout    time.Duration // per-pass context bound, default 10m
}

// Manager runs the daily and weekly passes on tickers. A catch-up run
// fires shortly after startup so a restart never skips a day.
type Manager struct {
	runner         PassRunner
	logger         logging.Logger
	dailyInterval  time.Duration
	weeklyInterval time.Duration
	startupDelay   time.Duration
	passTimeout    time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewManager creates the scheduler pass manager.
func NewManager(cfg ManagerConfig) *Manager {
	dailyInterval := cfg.DailyInterval
	if dailyInterval == 0 {
		dailyInterval = 24 * time.Hour
	}
	weeklyInterval := cfg.WeeklyInterval
	if weeklyInterval == 0 {
		weeklyInterval = 7 * 24 * time.Hour
	}
	startupDelay := cfg.StartupDelay
	if startupDelay == 0 {
		startupDelay = time.Minute
	}
	passTimeout := cfg.PassTimeout
	if passTimeout == 0 {
		passTimeout = 10 * time.Minute
	}
	return &Manager{
		runner:         cfg.Runner,
		logger:         cfg.Logger,
		dailyInterval:  dailyInterval,
		weeklyInterval: weeklyInterval,
		startupDelay:   startupDelay,
		passTimeout:    passTimeout,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the background pass loop
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
	m.logger.Info("Scheduler pass manager started")
}

// Stop gracefully stops the loop
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("Scheduler pass manager stopped")
}

func (m *Manager) run() {
	defer m.wg.Done()

	daily := time.NewTicker(m.dailyInterval)
	defer daily.Stop()
	weekly := time.NewTicker(m.weeklyInterval)
	defer weekly.Stop()

	startup := time.NewTimer(m.startupDelay)
	defer startup.Stop()

	for {
		select {
		case <-startup.C:
			m.runPass("weekly")
			m.runPass("daily")
		case <-daily.C:
			m.runPass("daily")
		case <-weekly.C:
			m.runPass("weekly")
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) runPass(mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.passTimeout)
	defer cancel()

	var summary *RunSummary
	var err error
	switch mode {
	case "daily":
		summary, err = m.runner.RunDaily(ctx, "")
	case "weekly":
		summary, err = m.runner.RunWeekly(ctx, "")
	}
	if err != nil {
		m.logger.WithFields(logging.Fields{
			"mode":  mode,
			"error": err.Error(),
		}).Error("Scheduled pass failed")
		return
	}
	m.logger.WithFields(logging.Fields{
		"mode":     mode,
		"created":  summary.Created,
		"approved": summary.Approved,
		"blocked":  summary.Blocked,
		"failed":   summary.Failed,
	}).Info("Scheduled pass complete")
}
