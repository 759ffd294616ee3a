package services

import (
	"context"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/rs/zerolog"
)

// Sweeper drops stale per-actor state
type Sweeper interface {
	Sweep(now time.Time) int
}

// SchedulerConfig holds the background job intervals
type SchedulerConfig struct {
	SyncInterval   time.Duration
	ExpiryInterval time.Duration
	ExpiryWarnDays int
	SweepInterval  time.Duration
}

// SchedulerService runs reconciliation, expiry reminders and flow cleanup
type SchedulerService struct {
	cfg        SchedulerConfig
	reconciler *Reconciler
	keys       repositories.KeyRepository
	actors     *ActorService
	notifier   Notifier
	sweeper    Sweeper
	loc        *time.Location
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	notified map[string]string // key id -> day of the last reminder

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSchedulerService creates a new scheduler. A nil notifier disables reminders,
// a nil sweeper disables flow cleanup.
func NewSchedulerService(cfg SchedulerConfig, reconciler *Reconciler, keys repositories.KeyRepository, actors *ActorService, notifier Notifier, sweeper Sweeper) *SchedulerService {
	return &SchedulerService{
		cfg:        cfg,
		reconciler: reconciler,
		keys:       keys,
		actors:     actors,
		notifier:   notifier,
		sweeper:    sweeper,
		loc:        time.Local,
		logger:     logging.NewLogger("scheduler"),
		now:        time.Now,
		notified:   make(map[string]string),
		done:       make(chan struct{}),
	}
}

// SetLocation sets the zone that defines a calendar day for reminders
func (s *SchedulerService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Start launches one goroutine per enabled job
func (s *SchedulerService) Start(ctx context.Context) {
	s.every(ctx, "reconcile", s.cfg.SyncInterval, s.reconcile)
	if s.notifier != nil {
		s.every(ctx, "expiry", s.cfg.ExpiryInterval, func(ctx context.Context) { _, _ = s.CheckExpiry(ctx) })
	}
	if s.sweeper != nil {
		s.every(ctx, "sweep", s.cfg.SweepInterval, func(context.Context) {
			if n := s.sweeper.Sweep(s.now()); n > 0 {
				s.logger.Debug().Int("flows", n).Msg("dropped stale conversation flows")
			}
		})
	}
	s.logger.Info().
		Dur("sync_interval", s.cfg.SyncInterval).
		Dur("expiry_interval", s.cfg.ExpiryInterval).
		Msg("scheduler started")
}

// Stop stops every job and waits for running passes to finish
func (s *SchedulerService) Stop() {
	close(s.done)
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *SchedulerService) every(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		s.logger.Info().Str("job", name).Msg("job disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()
}

func (s *SchedulerService) reconcile(ctx context.Context) {
	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("scheduled reconciliation failed")
	}
}

// CheckExpiry notifies about keys that expired or expire within the warning
// window. Each key is reported at most once per calendar day; a failed
// delivery is retried on the next pass.
func (s *SchedulerService) CheckExpiry(ctx context.Context) ([]ExpiryAlert, error) {
	now := s.now()
	cutoff := now.Add(time.Duration(s.cfg.ExpiryWarnDays) * 24 * time.Hour)

	keys, err := s.keys.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to scan expiring keys")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := now.In(s.loc).Format("2006-01-02")
	inWindow := make(map[string]bool, len(keys))
	var alerts []ExpiryAlert
	for _, k := range keys {
		if k.ExpiresAt == nil {
			continue
		}
		inWindow[k.ID] = true
		if s.notified[k.ID] == today {
			continue
		}
		days, expired := DaysLeft(*k.ExpiresAt, now)
		alerts = append(alerts, ExpiryAlert{Key: k, DaysLeft: days, Expired: expired})
	}
	// deleted keys and keys moved out of the window
	for id := range s.notified {
		if !inWindow[id] {
			delete(s.notified, id)
		}
	}

	if len(alerts) == 0 {
		return nil, nil
	}
	for i := range alerts {
		alerts[i].Owner = s.actors.OwnerLabel(ctx, alerts[i].Key.Owner)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyExpiring(ctx, alerts); err != nil {
			s.logger.Warn().Err(err).Int("keys", len(alerts)).Msg("failed to deliver expiry reminders")
			return alerts, err
		}
		s.logger.Info().Int("keys", len(alerts)).Msg("expiry reminders sent")
	}
	for _, a := range alerts {
		s.notified[a.Key.ID] = today
	}
	return alerts, nil
}
