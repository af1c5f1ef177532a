package jobs

import (
	"fmt"
	"strings"
)

const (
	// MaxJobIDLen bounds job identifiers (UUID format fits exactly).
	MaxJobIDLen = 36
	// MaxDescriptionLen bounds the job description.
	MaxDescriptionLen = 200
	// MaxDeliverableLen bounds the accumulated deliverable text, including
	// rejection annotations.
	MaxDeliverableLen = 500
)

// JobStatus represents the lifecycle states of a marketplace job.
type JobStatus uint8

const (
	// JobOpen: posted and funded, waiting for an agent.
	JobOpen JobStatus = iota
	// JobInProgress: an agent accepted, work underway.
	JobInProgress
	// JobUnderReview: deliverable submitted, awaiting requester review.
	JobUnderReview
	// JobCompleted: requester approved, payment released. Terminal.
	JobCompleted
	// JobCancelled: requester cancelled before acceptance, funds refunded. Terminal.
	JobCancelled
	// JobDisputed: work rejected, awaiting arbitration.
	JobDisputed
	// JobResolved: arbitrator split the escrowed funds. Terminal.
	JobResolved
)

// Valid reports whether the status value is within the supported range.
func (s JobStatus) Valid() bool {
	return s <= JobResolved
}

// Terminal reports whether no further transition is defined from the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCancelled, JobResolved:
		return true
	default:
		return false
	}
}

func (s JobStatus) String() string {
	switch s {
	case JobOpen:
		return "open"
	case JobInProgress:
		return "in_progress"
	case JobUnderReview:
		return "under_review"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	case JobDisputed:
		return "disputed"
	case JobResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ProgramConfig is the singleton configuration record. The admin may rotate
// the arbitrator or hand over admin rights; nothing else mutates it.
type ProgramConfig struct {
	Admin      [20]byte `json:"admin"`
	Arbitrator [20]byte `json:"arbitrator"`
	Bump       uint8    `json:"bump"`
}

// Clone returns a copy of the config record.
func (c *ProgramConfig) Clone() *ProgramConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Job captures the full state of one escrowed job. The identifier doubles as
// the derivation seed for the job's custody authority and escrow vault; the
// stored bump values allow both to be re-derived and verified on every access.
type Job struct {
	JobID       string    `json:"jobId"`
	Requester   [20]byte  `json:"requester"`
	Agent       [20]byte  `json:"agent"`
	Token       string    `json:"token"`
	Amount      uint64    `json:"amount"`
	Description string    `json:"description"`
	Status      JobStatus `json:"status"`
	CreatedAt   int64     `json:"createdAt"`
	Deadline    int64     `json:"deadline"`
	Deliverable string    `json:"deliverable"`
	Disputed    bool      `json:"disputed"`
	// Rating given by the requester on approval; 0 means unrated.
	Rating uint8 `json:"rating"`

	RecordBump    uint8 `json:"recordBump"`
	AuthorityBump uint8 `json:"authorityBump"`
	VaultBump     uint8 `json:"vaultBump"`
}

// Clone returns a deep copy of the job so callers can safely mutate the copy
// without affecting the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	return &clone
}

// NormalizeToken ensures the provided token symbol matches a supported value
// ("BSK" or "ZBSK") and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "BSK", "ZBSK":
		return trimmed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, symbol)
	}
}

// SanitizeJob validates and normalises the supplied job record, returning a
// cloned instance with canonical token casing. Length limits are enforced here
// as well as in the engine so a record can never be persisted out of bounds.
// The function does not mutate the original value.
func SanitizeJob(j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("jobs: nil job")
	}
	clone := j.Clone()
	clone.JobID = strings.TrimSpace(clone.JobID)
	if clone.JobID == "" {
		return nil, ErrJobIDRequired
	}
	if len(clone.JobID) > MaxJobIDLen {
		return nil, ErrJobIDTooLong
	}
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if len(clone.Description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}
	if len(clone.Deliverable) > MaxDeliverableLen {
		return nil, ErrDeliverableTooLong
	}
	if clone.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("jobs: invalid status: %d", clone.Status)
	}
	return clone, nil
}
