package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"
)

// Tracker receives product analytics events from the key lifecycle
type Tracker interface {
	TrackKeyCreated(ctx context.Context, actorID int64, tier string)
	TrackKeyDeleted(ctx context.Context, actorID int64)
	TrackTrafficCapSet(ctx context.Context, actorID int64, bytes int64, verified bool)
	TrackExpirySet(ctx context.Context, actorID int64)
}

// HashActorID returns a hex-encoded SHA-256 hash of the actor id for use as PostHog distinct ID
func HashActorID(actorID int64) string {
	h := sha256.Sum256([]byte(strconv.FormatInt(actorID, 10)))
	return fmt.Sprintf("%x", h)
}

// AnalyticsService handles all product analytics tracking
type AnalyticsService struct {
	client  posthog.Client
	enabled bool
}

var _ Tracker = (*AnalyticsService)(nil)

type posthogLogger struct{}

func (l posthogLogger) Success(m posthog.APIMessage) {
	log.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("PostHog event delivered")
}

func (l posthogLogger) Failure(m posthog.APIMessage, err error) {
	log.Error().Err(err).Str("type", fmt.Sprintf("%T", m)).Msg("PostHog delivery failed")
}

// AnalyticsConfig holds analytics configuration
type AnalyticsConfig struct {
	PostHogAPIKey string
	PostHogHost   string
	Enabled       bool
}

// NewAnalyticsService creates a new analytics service.
// A disabled or unconfigured service silently drops every event.
func NewAnalyticsService(cfg AnalyticsConfig) (*AnalyticsService, error) {
	if !cfg.Enabled || cfg.PostHogAPIKey == "" {
		return &AnalyticsService{enabled: false}, nil
	}

	client, err := posthog.NewWithConfig(
		cfg.PostHogAPIKey,
		posthog.Config{
			Endpoint:  cfg.PostHogHost,
			Interval:  30 * time.Second,
			BatchSize: 100,
			Callback:  posthogLogger{},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &AnalyticsService{
		client:  client,
		enabled: true,
	}, nil
}

// Enabled reports whether events are delivered
func (s *AnalyticsService) Enabled() bool {
	return s != nil && s.enabled
}

// Close flushes pending events and closes client
func (s *AnalyticsService) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}

// getEnvironment returns current environment (production, staging, development)
func getEnvironment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "production"
	}
	return env
}

// TrackEvent captures a generic event
func (s *AnalyticsService) TrackEvent(ctx context.Context, distinctID, event string, properties map[string]interface{}) {
	if !s.Enabled() {
		return
	}

	if properties == nil {
		properties = make(map[string]interface{})
	}
	properties["timestamp"] = time.Now().Unix()
	properties["environment"] = getEnvironment()

	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Error().Err(err).Str("event", event).Msg("PostHog enqueue failed")
	}
}

// Identify sets actor properties
func (s *AnalyticsService) Identify(ctx context.Context, actorID int64, properties map[string]interface{}) {
	if !s.Enabled() {
		return
	}

	if err := s.client.Enqueue(posthog.Identify{
		DistinctId: "actor_" + HashActorID(actorID),
		Properties: properties,
	}); err != nil {
		log.Error().Err(err).Msg("PostHog identify failed")
	}
}

// TrackKeyCreated tracks a key provisioned through the bot
func (s *AnalyticsService) TrackKeyCreated(ctx context.Context, actorID int64, tier string) {
	s.TrackEvent(ctx, "actor_"+HashActorID(actorID), "key_created", map[string]interface{}{
		"tier": tier,
	})
}

// TrackKeyDeleted tracks an explicit key deletion
func (s *AnalyticsService) TrackKeyDeleted(ctx context.Context, actorID int64) {
	s.TrackEvent(ctx, "actor_"+HashActorID(actorID), "key_deleted", nil)
}

// TrackTrafficCapSet tracks a traffic limit change
func (s *AnalyticsService) TrackTrafficCapSet(ctx context.Context, actorID int64, bytes int64, verified bool) {
	s.TrackEvent(ctx, "actor_"+HashActorID(actorID), "traffic_cap_set", map[string]interface{}{
		"bytes":    bytes,
		"verified": verified,
	})
}

// TrackExpirySet tracks a payment date change
func (s *AnalyticsService) TrackExpirySet(ctx context.Context, actorID int64) {
	s.TrackEvent(ctx, "actor_"+HashActorID(actorID), "expiry_set", nil)
}
