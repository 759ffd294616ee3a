package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
	"github.com/rs/zerolog"
)

// MaxKeyNameLength limits key names in runes
const MaxKeyNameLength = 64

// DefaultKeyName is used when neither a name nor an actor display name is available
const DefaultKeyName = "Key"

// CapResult reports a traffic cap change. The mutation succeeded when a
// CapResult is returned; verification is reported separately.
type CapResult struct {
	Bytes     int64 `json:"bytes"`
	Verified  bool  `json:"verified"`
	VerifyErr error `json:"-"`
}

// KeyView combines local ownership data with the freshest remote cap and usage
type KeyView struct {
	Key        models.AccessKey `json:"key"`
	OwnerLabel string           `json:"owner"`
	UsageBytes int64            `json:"usage_bytes"`
	TrafficCap int64            `json:"traffic_cap"`
	CapRemote  bool             `json:"cap_remote"` // false when the stored cap was used
}

// UsageLine renders "X GB / Y GB", or "X GB" for unlimited keys
func (v *KeyView) UsageLine() string {
	if v.TrafficCap > 0 {
		return FormatGB(v.UsageBytes) + " / " + FormatGB(v.TrafficCap)
	}
	return FormatGB(v.UsageBytes)
}

// KeyService is the key lifecycle manager
type KeyService struct {
	keys       repositories.KeyRepository
	remote     repositories.RemoteKeyClient
	actors     *ActorService
	reconciler *Reconciler
	activity   *ActivityService
	notifier   Notifier
	tracker    Tracker
	loc        *time.Location
	logger     zerolog.Logger
	now        func() time.Time

	notifyOnCreate bool

	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// NewKeyService creates a new key lifecycle manager
func NewKeyService(keys repositories.KeyRepository, remote repositories.RemoteKeyClient, actors *ActorService, reconciler *Reconciler, activity *ActivityService) *KeyService {
	return &KeyService{
		keys:       keys,
		remote:     remote,
		actors:     actors,
		reconciler: reconciler,
		activity:   activity,
		loc:        time.Local,
		logger:     logging.NewLogger("keys"),
		now:        time.Now,
		inflight:   make(map[int64]struct{}),
	}
}

// SetNotifier enables administrator notifications about keys created by standard actors
func (s *KeyService) SetNotifier(n Notifier, notifyOnCreate bool) {
	s.notifier = n
	s.notifyOnCreate = notifyOnCreate
}

// SetTracker sets the analytics sink
func (s *KeyService) SetTracker(t Tracker) {
	s.tracker = t
}

// SetLocation sets the zone in which payment dates are interpreted
func (s *KeyService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Location returns the zone in which payment dates are interpreted
func (s *KeyService) Location() *time.Location {
	return s.loc
}

// acquire takes the per-actor in-flight token for create and delete
func (s *KeyService) acquire(actorID int64) (func(), error) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[actorID]; busy {
		return nil, ErrOperationInProgress
	}
	s.inflight[actorID] = struct{}{}
	return func() {
		s.inflightMu.Lock()
		delete(s.inflight, actorID)
		s.inflightMu.Unlock()
	}, nil
}

func checkActive(caller *models.Actor) error {
	if caller == nil {
		return ErrUnauthorized
	}
	if caller.Blocked {
		return ErrActorBlocked
	}
	return nil
}

func checkElevated(caller *models.Actor) error {
	if err := checkActive(caller); err != nil {
		return err
	}
	if !caller.IsElevated() {
		return ErrUnauthorized
	}
	return nil
}

// CanManage reports whether caller may operate on key
func CanManage(caller *models.Actor, key *models.AccessKey) bool {
	if caller == nil || caller.Blocked {
		return false
	}
	return caller.IsElevated() || key.Owner.IsActor(caller.ID)
}

func normalizeKeyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if utf8.RuneCountInString(name) > MaxKeyNameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxKeyNameLength)
	}
	return name, nil
}

func (s *KeyService) load(ctx context.Context, keyID string) (*models.AccessKey, error) {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to load key %s: %w", keyID, err)
	}
	return key, nil
}

// Create provisions a key for caller, subject to the tier quota
func (s *KeyService) Create(ctx context.Context, caller *models.Actor, name string) (*models.AccessKey, error) {
	if err := checkActive(caller); err != nil {
		return nil, err
	}
	if caller.ID <= 0 {
		return nil, fmt.Errorf("%w: only chat actors own keys", ErrUnauthorized)
	}

	if strings.TrimSpace(name) == "" {
		name = caller.DisplayName()
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultKeyName
	}
	name, err := normalizeKeyName(name)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(caller.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	count, err := s.keys.CountByOwner(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count keys of actor %d: %w", caller.ID, err)
	}
	if count >= s.actors.TierLimit(caller.Tier) {
		return nil, ErrQuotaExceeded
	}

	rk, err := s.remote.CreateKey(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Int64("actor_id", caller.ID).Msg("failed to create key on server")
		return nil, err
	}

	key := &models.AccessKey{
		ID:         rk.ID,
		Owner:      models.ActorOwner(caller.ID),
		Name:       name,
		AccessURL:  rk.AccessURL,
		TrafficCap: 0,
		CreatedAt:  s.now(),
	}
	if err := s.keys.Upsert(ctx, key); err != nil {
		// The key exists remotely and will be rediscovered under a placeholder owner
		s.logger.Error().Err(err).Str("key_id", rk.ID).Int64("actor_id", caller.ID).Msg("failed to store created key")
		return nil, fmt.Errorf("failed to store key %s: %w", rk.ID, err)
	}

	s.logger.Info().Str("key_id", key.ID).Int64("actor_id", caller.ID).Str("tier", string(caller.Tier)).Msg("key created")
	s.activity.Record(ctx, caller.ID, models.ActionKeyCreated, "key %s (%s)", key.ID, key.Name)
	if s.tracker != nil {
		s.tracker.TrackKeyCreated(ctx, caller.ID, string(caller.Tier))
	}
	if s.notifier != nil && s.notifyOnCreate && !caller.IsElevated() {
		if err := s.notifier.NotifyKeyCreated(ctx, caller, key); err != nil {
			s.logger.Warn().Err(err).Str("key_id", key.ID).Msg("failed to notify administrators")
		}
	}
	return key, nil
}

// Rename changes the key name on the server, then locally
func (s *KeyService) Rename(ctx context.Context, caller *models.Actor, keyID, name string) (*models.AccessKey, error) {
	if err := checkActive(caller); err != nil {
		return nil, err
	}
	name, err := normalizeKeyName(name)
	if err != nil {
		return nil, err
	}
	key, err := s.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !CanManage(caller, key) {
		return nil, ErrUnauthorized
	}

	if err := s.remote.RenameKey(ctx, keyID, name); err != nil {
		s.logger.Error().Err(err).Str("key_id", keyID).Msg("failed to rename key on server")
		return nil, err
	}
	if err := s.keys.UpdateName(ctx, keyID, name); err != nil {
		return nil, fmt.Errorf("failed to rename key %s: %w", keyID, err)
	}

	s.activity.Record(ctx, caller.ID, models.ActionKeyRenamed, "key %s: %q -> %q", keyID, key.Name, name)
	key.Name = name
	return key, nil
}

// Delete removes the key on the server and always removes the local row
func (s *KeyService) Delete(ctx context.Context, caller *models.Actor, keyID string) error {
	if err := checkActive(caller); err != nil {
		return err
	}

	release, err := s.acquire(caller.ID)
	if err != nil {
		return err
	}
	defer release()

	key, err := s.load(ctx, keyID)
	if err != nil {
		return err
	}
	if !CanManage(caller, key) {
		return ErrUnauthorized
	}

	if err := s.remote.DeleteKey(ctx, keyID); err != nil {
		s.logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to delete key on server, removing local record anyway")
	}
	if err := s.keys.Delete(ctx, keyID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to delete key %s: %w", keyID, err)
	}

	s.logger.Info().Str("key_id", keyID).Int64("actor_id", caller.ID).Msg("key deleted")
	s.activity.Record(ctx, caller.ID, models.ActionKeyDeleted, "key %s (%s)", keyID, key.Name)
	if s.tracker != nil {
		s.tracker.TrackKeyDeleted(ctx, caller.ID)
	}
	return nil
}

// SetTrafficCap sets a cap given in decimal gigabytes
func (s *KeyService) SetTrafficCap(ctx context.Context, caller *models.Actor, keyID string, gigabytes float64) (*CapResult, error) {
	if err := checkElevated(caller); err != nil {
		return nil, err
	}
	bytes, err := GigabytesToBytes(gigabytes)
	if err != nil {
		return nil, err
	}
	return s.applyCap(ctx, caller, keyID, bytes)
}

// SetTrafficCapText parses human input such as "2.5" and sets the cap
func (s *KeyService) SetTrafficCapText(ctx context.Context, caller *models.Actor, keyID, input string) (*CapResult, error) {
	if err := checkElevated(caller); err != nil {
		return nil, err
	}
	bytes, err := ParseGigabytes(input)
	if err != nil {
		return nil, err
	}
	return s.applyCap(ctx, caller, keyID, bytes)
}

// ClearTrafficCap removes the cap on the server and locally
func (s *KeyService) ClearTrafficCap(ctx context.Context, caller *models.Actor, keyID string) (*CapResult, error) {
	if err := checkElevated(caller); err != nil {
		return nil, err
	}
	return s.applyCap(ctx, caller, keyID, 0)
}

// applyCap performs the remote mutation and its verification as two steps.
// A failed verification still updates the local cap.
func (s *KeyService) applyCap(ctx context.Context, caller *models.Actor, keyID string, bytes int64) (*CapResult, error) {
	if _, err := s.load(ctx, keyID); err != nil {
		return nil, err
	}

	if err := s.remote.SetTrafficCap(ctx, keyID, bytes); err != nil {
		s.logger.Error().Err(err).Str("key_id", keyID).Int64("bytes", bytes).Msg("failed to set traffic cap on server")
		return nil, err
	}

	result := &CapResult{Bytes: bytes, Verified: true}
	if err := s.remote.VerifyTrafficCap(ctx, keyID, bytes); err != nil {
		result.Verified = false
		result.VerifyErr = err
		s.logger.Warn().Err(err).Str("key_id", keyID).Int64("bytes", bytes).Msg("traffic cap change not confirmed")
	}

	if err := s.keys.UpdateTrafficCap(ctx, keyID, bytes); err != nil {
		return nil, fmt.Errorf("failed to store traffic cap of key %s: %w", keyID, err)
	}

	if bytes == 0 {
		s.activity.Record(ctx, caller.ID, models.ActionCapCleared, "key %s", keyID)
	} else {
		s.activity.Record(ctx, caller.ID, models.ActionCapSet, "key %s: %s (verified=%t)", keyID, FormatGB(bytes), result.Verified)
	}
	if s.tracker != nil {
		s.tracker.TrackTrafficCapSet(ctx, caller.ID, bytes, result.Verified)
	}
	return result, nil
}

// SetExpiry stores a payment date given as DD.MM.YYYY. Expiry is purely local.
func (s *KeyService) SetExpiry(ctx context.Context, caller *models.Actor, keyID, date string) (time.Time, error) {
	if err := checkElevated(caller); err != nil {
		return time.Time{}, err
	}
	if _, err := s.load(ctx, keyID); err != nil {
		return time.Time{}, err
	}
	expiresAt, err := ParseExpiryDate(date, s.now(), s.loc)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.keys.UpdateExpiry(ctx, keyID, &expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("failed to store expiry of key %s: %w", keyID, err)
	}

	s.activity.Record(ctx, caller.ID, models.ActionExpirySet, "key %s until %s", keyID, expiresAt.Format(ExpiryDateLayout))
	if s.tracker != nil {
		s.tracker.TrackExpirySet(ctx, caller.ID)
	}
	return expiresAt, nil
}

// ClearExpiry removes the payment date
func (s *KeyService) ClearExpiry(ctx context.Context, caller *models.Actor, keyID string) error {
	if err := checkElevated(caller); err != nil {
		return err
	}
	if _, err := s.load(ctx, keyID); err != nil {
		return err
	}
	if err := s.keys.UpdateExpiry(ctx, keyID, nil); err != nil {
		return fmt.Errorf("failed to clear expiry of key %s: %w", keyID, err)
	}
	s.activity.Record(ctx, caller.ID, models.ActionExpiryCleared, "key %s", keyID)
	return nil
}

// ListOwned returns the caller's keys, newest first
func (s *KeyService) ListOwned(ctx context.Context, caller *models.Actor) ([]models.AccessKey, error) {
	if err := checkActive(caller); err != nil {
		return nil, err
	}
	keys, err := s.keys.ListByOwner(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of actor %d: %w", caller.ID, err)
	}
	return keys, nil
}

// ListAll reconciles with the server and returns every known key.
// A failed reconciliation serves the stored keys.
func (s *KeyService) ListAll(ctx context.Context, caller *models.Actor) ([]models.AccessKey, error) {
	if err := checkElevated(caller); err != nil {
		return nil, err
	}
	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("serving stored keys without reconciliation")
	}
	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// GetDisplayInfo composes the key view. Upstream failures degrade to the
// stored cap and zero usage; only an unknown key is an error.
func (s *KeyService) GetDisplayInfo(ctx context.Context, keyID string) (*KeyView, error) {
	key, err := s.load(ctx, keyID)
	if errors.Is(err, ErrKeyNotFound) {
		if _, rerr := s.reconciler.Reconcile(ctx); rerr != nil {
			s.logger.Debug().Err(rerr).Str("key_id", keyID).Msg("opportunistic reconciliation failed")
		}
		key, err = s.load(ctx, keyID)
	}
	if err != nil {
		return nil, err
	}

	view := &KeyView{
		Key:        *key,
		OwnerLabel: s.actors.OwnerLabel(ctx, key.Owner),
		TrafficCap: key.TrafficCap,
	}

	if rk, err := s.remote.GetKey(ctx, keyID); err != nil {
		s.logger.Warn().Err(err).Str("key_id", keyID).Msg("using stored traffic cap")
	} else {
		view.TrafficCap = rk.TrafficCap
		view.CapRemote = true
	}

	if usage, err := s.remote.GetUsage(ctx, keyID); err != nil {
		s.logger.Warn().Err(err).Str("key_id", keyID).Msg("usage unavailable")
	} else {
		view.UsageBytes = usage
	}

	return view, nil
}
