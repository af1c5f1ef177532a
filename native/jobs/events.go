package jobs

import (
	"encoding/hex"
	"strconv"

	"basilisk/core/types"
)

const (
	EventTypeJobInitialized   = "jobs.initialized"
	EventTypeJobConfigUpdated = "jobs.config_updated"
	EventTypeJobCreated       = "jobs.created"
	EventTypeJobAccepted      = "jobs.accepted"
	EventTypeJobSubmitted     = "jobs.submitted"
	EventTypeJobApproved      = "jobs.approved"
	EventTypeJobRejected      = "jobs.rejected"
	EventTypeJobCancelled     = "jobs.cancelled"
	EventTypeJobResolved      = "jobs.resolved"
)

// NewInitializedEvent returns the canonical payload emitted once when the
// marketplace config is created.
func NewInitializedEvent(c *ProgramConfig) *types.Event { return newConfigEvent(EventTypeJobInitialized, c) }

// NewConfigUpdatedEvent returns the payload emitted on an admin config change.
func NewConfigUpdatedEvent(c *ProgramConfig) *types.Event {
	return newConfigEvent(EventTypeJobConfigUpdated, c)
}

// NewCreatedEvent returns the canonical event payload for a newly created job.
func NewCreatedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobCreated, j) }

// NewAcceptedEvent returns the payload emitted when an agent takes a job.
func NewAcceptedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobAccepted, j) }

// NewSubmittedEvent returns the payload emitted when a deliverable lands.
func NewSubmittedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobSubmitted, j) }

// NewApprovedEvent returns the payload emitted when work is approved and paid.
func NewApprovedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobApproved, j) }

// NewRejectedEvent returns the payload emitted when work is rejected into
// dispute.
func NewRejectedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobRejected, j) }

// NewCancelledEvent returns the payload emitted when an open job is cancelled
// and refunded.
func NewCancelledEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobCancelled, j) }

// NewResolvedEvent returns the payload emitted when an arbitrator splits the
// escrowed funds.
func NewResolvedEvent(j *Job) *types.Event { return newJobEvent(EventTypeJobResolved, j) }

func newJobEvent(eventType string, j *Job) *types.Event {
	attrs := make(map[string]string)
	if j == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["jobId"] = j.JobID
	attrs["requester"] = hex.EncodeToString(j.Requester[:])
	attrs["token"] = j.Token
	attrs["amount"] = strconv.FormatUint(j.Amount, 10)
	attrs["status"] = j.Status.String()
	attrs["createdAt"] = strconv.FormatInt(j.CreatedAt, 10)
	attrs["deadline"] = strconv.FormatInt(j.Deadline, 10)
	if j.Agent != ([20]byte{}) {
		attrs["agent"] = hex.EncodeToString(j.Agent[:])
	}
	if j.Rating > 0 {
		attrs["rating"] = strconv.FormatUint(uint64(j.Rating), 10)
	}
	if j.Disputed {
		attrs["disputed"] = "true"
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newConfigEvent(eventType string, c *ProgramConfig) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["admin"] = hex.EncodeToString(c.Admin[:])
	attrs["arbitrator"] = hex.EncodeToString(c.Arbitrator[:])
	return &types.Event{Type: eventType, Attributes: attrs}
}
