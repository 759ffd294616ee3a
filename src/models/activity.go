package models

import "time"

// Action is the kind of an activity record
type Action string

const (
	ActionKeyCreated     Action = "key_created"
	ActionKeyDeleted     Action = "key_deleted"
	ActionKeyRenamed     Action = "key_renamed"
	ActionCapSet         Action = "traffic_cap_set"
	ActionCapCleared     Action = "traffic_cap_cleared"
	ActionExpirySet      Action = "expiry_set"
	ActionExpiryCleared  Action = "expiry_cleared"
	ActionActorBlocked   Action = "actor_blocked"
	ActionActorUnblocked Action = "actor_unblocked"
	ActionTierChanged    Action = "tier_changed"
)

// ActivityRecord is an append-only audit entry
type ActivityRecord struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"actor_id"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
