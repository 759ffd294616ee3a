package models

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
)

// OwnerKind discriminates the Owner variants
type OwnerKind string

const (
	// OwnerKindActor marks keys owned by a real chat actor
	OwnerKindActor OwnerKind = "actor"
	// OwnerKindPlaceholder marks keys discovered on the server with no local owner
	OwnerKindPlaceholder OwnerKind = "placeholder"
)

// Owner is either a real actor or a placeholder derived from a remote key id.
// Use ActorOwner and PlaceholderOwner to build values.
type Owner struct {
	Kind    OwnerKind `json:"kind"`
	ActorID int64     `json:"actor_id,omitempty"`
	KeyID   string    `json:"key_id,omitempty"`
	Label   string    `json:"label,omitempty"`
}

// ActorOwner returns an owner referring to a real actor
func ActorOwner(actorID int64) Owner {
	return Owner{Kind: OwnerKindActor, ActorID: actorID}
}

// PlaceholderOwner returns an owner synthesized for a server-created key
func PlaceholderOwner(keyID, label string) Owner {
	return Owner{Kind: OwnerKindPlaceholder, KeyID: keyID, Label: label}
}

// IsActor reports whether the owner is the given real actor
func (o Owner) IsActor(actorID int64) bool {
	return o.Kind == OwnerKindActor && o.ActorID == actorID
}

// IsPlaceholder reports whether the owner was synthesized during reconciliation
func (o Owner) IsPlaceholder() bool {
	return o.Kind == OwnerKindPlaceholder
}

// LegacyID maps the owner onto a single int64 namespace.
// Actors keep their positive id; placeholders are always strictly negative.
func (o Owner) LegacyID() int64 {
	if o.Kind == OwnerKindActor {
		return o.ActorID
	}
	if n, err := strconv.ParseInt(o.KeyID, 10, 64); err == nil && n >= 0 && n < math.MaxInt64 {
		return -(n + 1)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(o.KeyID))
	return -int64(h.Sum64()>>1) - 1
}

func (o Owner) String() string {
	if o.Kind == OwnerKindActor {
		return fmt.Sprintf("actor:%d", o.ActorID)
	}
	return fmt.Sprintf("placeholder:%s", o.KeyID)
}
