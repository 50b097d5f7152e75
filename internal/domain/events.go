package domain

import "time"

type EventKind string

const (
	EventRequestCreated    EventKind = "request-created"
	EventVoteCast          EventKind = "vote-cast"
	EventQuorumReached     EventKind = "quorum-reached"
	EventRequestProcessed  EventKind = "request-processed"
	EventRequestDeleted    EventKind = "request-deleted"
	EventPauseToggled      EventKind = "pause-toggled"
	EventAccelerateToggled EventKind = "accelerate-toggled"
	EventQuorumUpdated     EventKind = "quorum-updated"
	EventDelayUpdated      EventKind = "delay-updated"
	EventVoterAdded        EventKind = "voter-added"
	EventVoterRemoved      EventKind = "voter-removed"
	EventDeposited         EventKind = "deposited"
)

// EventKinds lists every kind the vault emits.
var EventKinds = []EventKind{
	EventRequestCreated,
	EventVoteCast,
	EventQuorumReached,
	EventRequestProcessed,
	EventRequestDeleted,
	EventPauseToggled,
	EventAccelerateToggled,
	EventQuorumUpdated,
	EventDelayUpdated,
	EventVoterAdded,
	EventVoterRemoved,
	EventDeposited,
}

// Event is a single observable state change. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      EventKind     `json:"kind"`
	RequestID uint64        `json:"request_id,omitempty"`
	Actor     Principal     `json:"actor,omitempty"`
	Principal Principal     `json:"principal,omitempty"`
	Asset     Asset         `json:"asset,omitempty"`
	Amount    uint64        `json:"amount,omitempty"`
	Balance   uint64        `json:"balance,omitempty"`
	Flag      bool          `json:"flag,omitempty"`
	Quorum    uint64        `json:"quorum,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	At        time.Time     `json:"at"`
}
