package proofrequest

import (
	"time"
)

type Event string

const (
	EventApprove     Event = "approve"
	EventDeny        Event = "deny"
	EventMarkExpired Event = "markExpired"
	EventResend      Event = "resend"
)

// ReasonCancelled is the deny reason recorded when a clinician cancels.
const ReasonCancelled = "cancelled"

// transitions maps an event to its only valid source and its target.
// A zero target means the status is left unchanged.
var transitions = map[Event]struct {
	from Status
	to   Status
}{
	EventApprove:     {from: StatusPending, to: StatusApproved},
	EventDeny:        {from: StatusPending, to: StatusDenied},
	EventMarkExpired: {from: StatusPending, to: StatusExpired},
	EventResend:      {from: StatusPending},
}

func (e Event) Valid() bool {
	_, ok := transitions[e]
	return ok
}

func ParseEvent(raw string) (Event, error) {
	e := Event(raw)
	if !e.Valid() {
		return "", ErrUnknownEvent
	}
	return e, nil
}

// Transition is one requested lifecycle event.
type Transition struct {
	Event  Event
	Actor  string
	Reason string
	At     time.Time
}

// EffectiveStatus is the status a record reports at now: a stored pending
// record whose expiry has passed reads as expired. It never mutates r.
func EffectiveStatus(r Record, now time.Time) Status {
	if r.Status == StatusPending && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// IsLapsed reports a pending record whose expiry has passed but which has not
// been persisted as expired yet.
func IsLapsed(r Record, now time.Time) bool {
	return r.Status == StatusPending && EffectiveStatus(r, now) == StatusExpired
}

// Apply returns a copy of r with the transition applied and exactly one
// audit entry appended. On error r is returned unchanged.
//
// The source status is the effective one, so a lapsed request can only be
// marked expired.
func Apply(r Record, t Transition) (Record, error) {
	edge, ok := transitions[t.Event]
	if !ok {
		return r, ErrUnknownEvent
	}

	from := EffectiveStatus(r, t.At)
	if t.Event == EventMarkExpired && IsLapsed(r, t.At) {
		from = r.Status
	}
	if from != edge.from {
		return r, &InvalidTransitionError{From: from, Attempted: t.Event}
	}

	next := r.clone()
	entry := AuditEntry{
		Action:    string(t.Event),
		Actor:     actorOrSystem(t.Actor),
		Timestamp: t.At,
	}

	switch t.Event {
	case EventResend:
		sent := t.At
		next.LastSentAt = &sent
	case EventDeny:
		next.DenyReason = t.Reason
		entry.Detail = t.Reason
	}
	if edge.to != "" {
		next.Status = edge.to
	}
	next.AuditLog = append(next.AuditLog, entry)
	return next, nil
}
