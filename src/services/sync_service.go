package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/rs/zerolog"
)

// temporaryNamePrefix marks names generated by the server or by an interrupted create
const temporaryNamePrefix = "Temporary_"

// SyncReport summarizes one reconciliation pass
type SyncReport struct {
	Remote     int           `json:"remote"`
	Discovered []string      `json:"discovered"`
	Drifted    []string      `json:"drifted"`
	Duration   time.Duration `json:"duration"`
}

// Changed reports whether the pass wrote anything
func (r *SyncReport) Changed() bool {
	return len(r.Discovered) > 0 || len(r.Drifted) > 0
}

// Reconciler merges the remote key inventory into the local key store.
// It never deletes local rows.
type Reconciler struct {
	keys   repositories.KeyRepository
	remote repositories.RemoteKeyClient
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex // one pass at a time
}

// NewReconciler creates a new reconciler
func NewReconciler(keys repositories.KeyRepository, remote repositories.RemoteKeyClient) *Reconciler {
	return &Reconciler{
		keys:   keys,
		remote: remote,
		logger: logging.NewLogger("reconciler"),
		now:    time.Now,
	}
}

// PlaceholderLabel derives a display name for a key discovered on the server
func PlaceholderLabel(keyID, remoteName string) string {
	name := strings.TrimSpace(remoteName)
	if name == "" || strings.HasPrefix(name, temporaryNamePrefix) {
		return "Key_" + keyID
	}
	return name
}

// Reconcile runs one pass. When the server is unreachable the pass is
// aborted without touching local data and the error wraps ErrUpstreamUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context) (*SyncReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()

	// Local snapshot first; writes racing the pass are applied conditionally below.
	local, err := r.keys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local keys: %w", err)
	}

	remote, err := r.remote.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			r.logger.Warn().Err(err).Msg("reconciliation skipped, server unavailable")
		}
		return nil, fmt.Errorf("reconciliation aborted: %w", err)
	}

	known := make(map[string]models.AccessKey, len(local))
	for _, k := range local {
		known[k.ID] = k
	}

	report := &SyncReport{Remote: len(remote)}
	for _, rk := range remote {
		lk, ok := known[rk.ID]
		if !ok {
			inserted, err := r.insertPlaceholder(ctx, rk)
			if err != nil {
				return report, err
			}
			if inserted {
				report.Discovered = append(report.Discovered, rk.ID)
			}
			continue
		}

		if !rk.CapUnknown && lk.TrafficCap != rk.TrafficCap {
			swapped, err := r.keys.SwapTrafficCap(ctx, rk.ID, lk.TrafficCap, rk.TrafficCap)
			if err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return report, fmt.Errorf("failed to correct cap of key %s: %w", rk.ID, err)
			}
			if swapped {
				r.logger.Info().
					Str("key_id", rk.ID).
					Int64("local_bytes", lk.TrafficCap).
					Int64("remote_bytes", rk.TrafficCap).
					Msg("corrected drifted traffic cap")
				report.Drifted = append(report.Drifted, rk.ID)
			}
		}

		if rk.AccessURL != "" && lk.AccessURL != rk.AccessURL {
			err := r.keys.UpdateAccessURL(ctx, rk.ID, rk.AccessURL)
			if err != nil && !errors.Is(err, repositories.ErrNotFound) {
				return report, fmt.Errorf("failed to refresh access url of key %s: %w", rk.ID, err)
			}
		}
	}

	report.Duration = r.now().Sub(start)
	if report.Changed() {
		r.logger.Info().
			Int("remote", report.Remote).
			Int("discovered", len(report.Discovered)).
			Int("drifted", len(report.Drifted)).
			Msg("keys synchronized with server")
	}
	return report, nil
}

// insertPlaceholder stores a key discovered on the server. A row written
// since the local snapshot was taken wins over the placeholder.
func (r *Reconciler) insertPlaceholder(ctx context.Context, rk models.RemoteKey) (bool, error) {
	label := PlaceholderLabel(rk.ID, rk.Name)
	key := &models.AccessKey{
		ID:        rk.ID,
		Owner:     models.PlaceholderOwner(rk.ID, label),
		Name:      label,
		AccessURL: rk.AccessURL,
		CreatedAt: r.now(),
	}
	if !rk.CapUnknown {
		key.TrafficCap = rk.TrafficCap
	}
	inserted, err := r.keys.InsertIfAbsent(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to insert discovered key %s: %w", rk.ID, err)
	}
	if !inserted {
		r.logger.Debug().Str("key_id", rk.ID).Msg("discovered key already stored")
		return false, nil
	}
	r.logger.Info().Str("key_id", rk.ID).Str("name", label).Msg("added key discovered on server")
	return true, nil
}
