package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/repositories"
)

// TierLimits holds the maximum number of keys per tier
type TierLimits struct {
	Standard int
	Elevated int
}

// DefaultTierLimits are used when nothing is configured
var DefaultTierLimits = TierLimits{Standard: 1, Elevated: 10}

// ActorService resolves chat actors and their privilege tier
type ActorService struct {
	repo     repositories.ActorRepository
	activity *ActivityService
	admins   map[int64]struct{}
	limits   TierLimits
	now      func() time.Time
}

// NewActorService creates a new actor service. Actors listed in adminIDs are
// always elevated, regardless of the stored flag.
func NewActorService(repo repositories.ActorRepository, activity *ActivityService, adminIDs []int64, limits TierLimits) *ActorService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if limits.Standard <= 0 {
		limits.Standard = DefaultTierLimits.Standard
	}
	if limits.Elevated <= 0 {
		limits.Elevated = DefaultTierLimits.Elevated
	}
	return &ActorService{
		repo:     repo,
		activity: activity,
		admins:   admins,
		limits:   limits,
		now:      time.Now,
	}
}

// OperatorActor is the synthetic elevated caller used by the operator API
func OperatorActor() *models.Actor {
	return &models.Actor{ID: models.OperatorActorID, Username: "operator", Elevated: true, Tier: models.TierElevated}
}

// AdminIDs returns the configured administrator ids
func (s *ActorService) AdminIDs() []int64 {
	ids := make([]int64, 0, len(s.admins))
	for id := range s.admins {
		ids = append(ids, id)
	}
	return ids
}

// TierLimit returns the key quota of a tier
func (s *ActorService) TierLimit(tier models.Tier) int {
	if tier == models.TierElevated {
		return s.limits.Elevated
	}
	return s.limits.Standard
}

// Touch records an observed event and returns the actor with its effective tier
func (s *ActorService) Touch(ctx context.Context, profile models.ActorProfile) (*models.Actor, error) {
	if profile.ID <= 0 {
		return nil, fmt.Errorf("%w: actor id must be positive", ErrInvalidInput)
	}
	actor, err := s.repo.Touch(ctx, profile, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to touch actor %d: %w", profile.ID, err)
	}
	s.resolve(actor)
	return actor, nil
}

// Get returns a known actor
func (s *ActorService) Get(ctx context.Context, actorID int64) (*models.Actor, error) {
	actor, err := s.repo.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrActorNotFound
		}
		return nil, fmt.Errorf("failed to get actor %d: %w", actorID, err)
	}
	s.resolve(actor)
	return actor, nil
}

// List returns every known actor
func (s *ActorService) List(ctx context.Context) ([]models.Actor, error) {
	actors, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	for i := range actors {
		s.resolve(&actors[i])
	}
	return actors, nil
}

// SetBlocked blocks or unblocks an actor. Requires an elevated caller.
func (s *ActorService) SetBlocked(ctx context.Context, caller *models.Actor, actorID int64, blocked bool) error {
	if !caller.IsElevated() {
		return ErrUnauthorized
	}
	if err := s.repo.SetBlocked(ctx, actorID, blocked); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrActorNotFound
		}
		return fmt.Errorf("failed to update actor %d: %w", actorID, err)
	}

	action := models.ActionActorUnblocked
	if blocked {
		action = models.ActionActorBlocked
	}
	s.activity.Record(ctx, caller.ID, action, "actor %d", actorID)
	return nil
}

// SetElevated grants or revokes the stored elevated flag. Requires an elevated caller.
// Configured administrators stay elevated either way.
func (s *ActorService) SetElevated(ctx context.Context, caller *models.Actor, actorID int64, elevated bool) error {
	if !caller.IsElevated() {
		return ErrUnauthorized
	}
	if err := s.repo.SetElevated(ctx, actorID, elevated); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrActorNotFound
		}
		return fmt.Errorf("failed to update actor %d: %w", actorID, err)
	}
	s.activity.Record(ctx, caller.ID, models.ActionTierChanged, "actor %d elevated=%t", actorID, elevated)
	return nil
}

func (s *ActorService) resolve(a *models.Actor) {
	_, admin := s.admins[a.ID]
	if admin || a.Elevated {
		a.Tier = models.TierElevated
		return
	}
	a.Tier = models.TierStandard
}

// OwnerLabel renders an owner for display: the placeholder label, the
// actor's display name, or the bare actor id
func (s *ActorService) OwnerLabel(ctx context.Context, owner models.Owner) string {
	if owner.IsPlaceholder() {
		return owner.Label
	}
	if actor, err := s.repo.Get(ctx, owner.ActorID); err == nil {
		if name := actor.DisplayName(); name != "" {
			return name
		}
	}
	return strconv.FormatInt(owner.ActorID, 10)
}
