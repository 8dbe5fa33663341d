// Package cron runs the periodic reminder jobs: snooze reconciliation and
// the nightly full resync
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/pillpal/internal/reminder"
	"github.com/gmsas95/pillpal/internal/session"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler resets due snoozes for every patient
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// Resyncer rebuilds one patient's reminders
type Resyncer interface {
	Resync(ctx context.Context, patient session.Patient) (*reminder.Result, error)
}

// PatientLister lists every patient that has schedules and the timezone
// each one last authenticated with
type PatientLister interface {
	ListPatientIDs(ctx context.Context) ([]string, error)
	PatientTimezones(ctx context.Context) (map[string]string, error)
}

// Config holds cron runner configuration
type Config struct {
	ReconcileSpec string // cron spec of the snooze reconciliation
	ResyncSpec    string // cron spec of the full resync
	Location      *time.Location
	MaxConcurrent int // concurrent patient resyncs
	JobTimeout    time.Duration
}

// Runner owns the cron scheduler
type Runner struct {
	config     Config
	reconciler Reconciler
	resyncer   Resyncer
	patients   PatientLister
	cron       *cron.Cron
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	mu         sync.RWMutex
}

// NewRunner creates a runner and registers both jobs. Invalid specs are
// reported here rather than at Start.
func NewRunner(config Config, reconciler Reconciler, resyncer Resyncer, patients PatientLister, logger *zap.Logger) (*Runner, error) {
	if config.ReconcileSpec == "" {
		config.ReconcileSpec = "@every 1m"
	}
	if config.ResyncSpec == "" {
		config.ResyncSpec = "0 3 * * *"
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		config:     config,
		reconciler: reconciler,
		resyncer:   resyncer,
		patients:   patients,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	cl := cronLogger{logger.Sugar()}
	r.cron = cron.New(
		cron.WithLocation(config.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := r.cron.AddFunc(config.ReconcileSpec, r.reconcileJob); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reconcile spec %q: %w", config.ReconcileSpec, err)
	}
	if _, err := r.cron.AddFunc(config.ResyncSpec, r.resyncJob); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid resync spec %q: %w", config.ResyncSpec, err)
	}

	return r, nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}
	r.running = true
	r.cron.Start()

	r.logger.Info("Cron runner started",
		zap.String("reconcile", r.config.ReconcileSpec),
		zap.String("resync", r.config.ResyncSpec),
	)
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Entries returns the next run time of each job, reconcile first
func (r *Runner) Entries() []time.Time {
	entries := r.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (r *Runner) reconcileJob() {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	defer cancel()

	n, err := r.RunReconcile(ctx)
	if err != nil {
		r.logger.Error("Snooze reconciliation failed", zap.Int("resolved", n), zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Snoozes reconciled", zap.Int("resolved", n))
	}
}

func (r *Runner) resyncJob() {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	defer cancel()

	ok, failed, err := r.RunResync(ctx)
	if err != nil {
		r.logger.Error("Nightly resync failed", zap.Error(err))
		return
	}
	r.logger.Info("Nightly resync completed", zap.Int("patients", ok), zap.Int("failed", failed))
}

// RunReconcile resets every due snooze once
func (r *Runner) RunReconcile(ctx context.Context) (int, error) {
	return r.reconciler.ReconcileAll(ctx)
}

// RunResync resyncs every patient with schedules in their recorded
// timezone, or the configured one when none is known. A failing patient
// does not stop the others.
func (r *Runner) RunResync(ctx context.Context) (ok, failed int, err error) {
	ids, err := r.patients.ListPatientIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	locations := r.patientLocations(ctx)

	var mu sync.Mutex
	sem := make(chan struct{}, r.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{} // Acquire

		go func(patientID string) {
			defer wg.Done()
			defer func() { <-sem }() // Release

			loc, known := locations[patientID]
			if !known {
				loc = r.config.Location
			}
			_, err := r.resyncer.Resync(ctx, session.Patient{ID: patientID, Location: loc})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.logger.Warn("Patient resync failed", zap.String("patient", patientID), zap.Error(err))
				return
			}
			ok++
		}(id)
	}

	wg.Wait()
	return ok, failed, nil
}

// patientLocations resolves the recorded timezones. Unknown zone names are
// left out so those patients use the configured timezone.
func (r *Runner) patientLocations(ctx context.Context) map[string]*time.Location {
	zones, err := r.patients.PatientTimezones(ctx)
	if err != nil {
		r.logger.Warn("Failed to load patient timezones", zap.Error(err))
		return nil
	}

	loaded := make(map[string]*time.Location)
	out := make(map[string]*time.Location, len(zones))
	for id, name := range zones {
		loc, ok := loaded[name]
		if !ok {
			var err error
			if loc, err = time.LoadLocation(name); err != nil {
				r.logger.Warn("Unknown patient timezone", zap.String("patient", id), zap.String("timezone", name))
				continue
			}
			loaded[name] = loc
		}
		out[id] = loc
	}
	return out
}

// cronLogger routes robfig/cron logs to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
