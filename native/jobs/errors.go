package jobs

import "errors"

// Transition failures are classified so RPC clients can branch on the kind of
// rejection. Every error is detected before any mutation or transfer; a failed
// operation leaves job state and balances untouched.
var (
	// Status errors.
	ErrJobNotOpen      = errors.New("jobs: job is not open")
	ErrJobAlreadyTaken = errors.New("jobs: job has already been taken by another agent")
	ErrInvalidStatus   = errors.New("jobs: invalid job status for this operation")
	ErrCannotCancel    = errors.New("jobs: job cannot be cancelled at this stage")
	ErrNotDisputed     = errors.New("jobs: job is not disputed")
	ErrDeadlineExpired = errors.New("jobs: submission deadline has passed")

	// Authorization errors.
	ErrUnauthorized           = errors.New("jobs: caller does not match required authority")
	ErrUnauthorizedArbitrator = errors.New("jobs: caller is not the authorized arbitrator")
	ErrInvalidAuthority       = errors.New("jobs: custody authority does not re-derive for this job")

	// Validation errors.
	ErrJobIDRequired      = errors.New("jobs: job id required")
	ErrJobIDTooLong       = errors.New("jobs: job id exceeds maximum length")
	ErrDescriptionTooLong = errors.New("jobs: description exceeds maximum length")
	ErrDeliverableTooLong = errors.New("jobs: deliverable exceeds maximum length")
	ErrZeroAmount         = errors.New("jobs: amount must be greater than zero")
	ErrInvalidPercentage  = errors.New("jobs: percentage must be between 0 and 100")
	ErrInvalidRating      = errors.New("jobs: rating must be between 1 and 5")
	ErrInvalidToken       = errors.New("jobs: unsupported token")

	// Arithmetic errors.
	ErrOverflow = errors.New("jobs: arithmetic overflow")

	// Record errors.
	ErrJobNotFound        = errors.New("jobs: job not found")
	ErrJobExists          = errors.New("jobs: job id already exists")
	ErrAlreadyInitialized = errors.New("jobs: config already initialized")
	ErrNotInitialized     = errors.New("jobs: config not initialized")
	ErrInsufficientFunds  = errors.New("jobs: insufficient balance")
)
