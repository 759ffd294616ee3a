package models

import "time"

// Tier is the privilege level of an actor
type Tier string

const (
	// TierStandard can own a single key and manage only its own keys
	TierStandard Tier = "standard"
	// TierElevated administers every key
	TierElevated Tier = "elevated"
)

// OperatorActorID identifies operator API requests in the activity log.
// Chat actors always have positive identities.
const OperatorActorID int64 = 0

// Actor is a chat user known to the bot
type Actor struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	LanguageCode string    `json:"language_code,omitempty"`
	Elevated     bool      `json:"is_elevated"`
	Blocked      bool      `json:"is_blocked"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// Tier is resolved at read time from the stored flag and configured admins
	Tier Tier `json:"tier"`
}

// IsElevated reports whether the actor holds the elevated tier
func (a *Actor) IsElevated() bool {
	return a != nil && a.Tier == TierElevated
}

// DisplayName returns the best human-readable name for the actor
func (a *Actor) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.Username != "":
		return "@" + a.Username
	}
	return ""
}

// ActorProfile carries the identity fields observed on an inbound event
type ActorProfile struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}
