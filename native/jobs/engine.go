package jobs

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"basilisk/core/events"
	"basilisk/core/types"
)

var errNilState = errors.New("jobs engine: state not configured")

const secondsPerDay = 86_400

// engineState is the ledger surface the engine depends on. Job records, the
// config singleton and per-job vault balances live behind it; account
// balances move through GetAccount/PutAccount. VaultDebit implementations
// must independently re-derive the custody authority for the job and reject
// a mismatch, so a compromised engine caller still cannot drain a vault.
type engineState interface {
	ConfigPut(*ProgramConfig) error
	ConfigGet() (*ProgramConfig, bool, error)
	JobPut(*Job) error
	JobGet(id string) (*Job, bool, error)
	VaultCredit(jobID, token string, amt *big.Int) error
	VaultDebit(jobID, token string, authority [20]byte, amt *big.Int) error
	VaultBalance(jobID, token string) (*big.Int, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type jobEvent struct {
	evt *types.Event
}

func (e jobEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e jobEvent) Event() *types.Event { return e.evt }

// Engine wires the job marketplace business logic with external state and
// event emitters. All lifecycle transitions, authorization checks and fund
// settlement run through it; callers supply only identities and inputs,
// never accounts or authorities.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a jobs engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(jobEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceBSK: big.NewInt(0), BalanceZBSK: big.NewInt(0)}
	}
	if acc.BalanceBSK == nil {
		acc.BalanceBSK = big.NewInt(0)
	}
	if acc.BalanceZBSK == nil {
		acc.BalanceZBSK = big.NewInt(0)
	}
	return acc
}

// loadJob fetches the record for the identifier and verifies that it
// re-derives: the stored record bump must reproduce the canonical derivation
// for the requested id, and the stored id must match the requested one. A
// record that fails either check has been substituted or corrupted.
func (e *Engine) loadJob(jobID string) (*Job, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trimmed := strings.TrimSpace(jobID)
	if trimmed == "" {
		return nil, ErrJobIDRequired
	}
	job, ok, err := e.state.JobGet(trimmed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.JobID != trimmed {
		return nil, fmt.Errorf("%w: record id mismatch", ErrJobNotFound)
	}
	if _, recordBump := FindAddress(trimmed, RoleRecord); job.RecordBump != recordBump {
		return nil, fmt.Errorf("%w: record does not re-derive", ErrInvalidAuthority)
	}
	return job, nil
}

func (e *Engine) storeJob(job *Job) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.JobPut(job)
}

func (e *Engine) loadConfig() (*ProgramConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// transferToken moves value between two ledger accounts for the given token.
// It is the only place balances change hands; both settlement directions
// (funding the vault and draining it) route through here.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("jobs: negative transfer amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	switch normalized {
	case "BSK":
		if fromAcc.BalanceBSK.Cmp(amount) < 0 {
			return ErrInsufficientFunds
		}
		fromAcc.BalanceBSK = new(big.Int).Sub(fromAcc.BalanceBSK, amount)
		toAcc.BalanceBSK = new(big.Int).Add(toAcc.BalanceBSK, amount)
	case "ZBSK":
		if fromAcc.BalanceZBSK.Cmp(amount) < 0 {
			return ErrInsufficientFunds
		}
		fromAcc.BalanceZBSK = new(big.Int).Sub(fromAcc.BalanceZBSK, amount)
		toAcc.BalanceZBSK = new(big.Int).Add(toAcc.BalanceZBSK, amount)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidToken, token)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// settle drains amount units from the job's escrow vault to the recipient.
// The custody authority and vault address are re-derived from the stored
// bumps, never accepted from a caller, and the ledger's debit path verifies
// the authority derivation a second time on its own.
func (e *Engine) settle(job *Job, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	authority := DeriveAddress(job.JobID, RoleAuthority, job.AuthorityBump)
	vault := DeriveAddress(job.JobID, RoleVault, job.VaultBump)
	amt := new(big.Int).SetUint64(amount)
	if err := e.state.VaultDebit(job.JobID, job.Token, authority, amt); err != nil {
		return err
	}
	return e.transferToken(vault, to, job.Token, amt)
}

// Initialize creates the singleton config record. The caller becomes admin;
// the supplied arbitrator is the only identity allowed to resolve disputes
// until the admin rotates it. Fails once a config exists.
func (e *Engine) Initialize(admin, arbitrator [20]byte) (*ProgramConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if admin == ([20]byte{}) {
		return nil, fmt.Errorf("%w: admin required", ErrUnauthorized)
	}
	if arbitrator == ([20]byte{}) {
		return nil, fmt.Errorf("jobs: arbitrator required")
	}
	if _, ok, err := e.state.ConfigGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	_, bump := FindConfigAddress()
	cfg := &ProgramConfig{Admin: admin, Arbitrator: arbitrator, Bump: bump}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// UpdateConfig replaces the arbitrator and/or admin. Only the stored admin
// may call it; nil fields leave the stored value untouched.
func (e *Engine) UpdateConfig(caller [20]byte, newArbitrator, newAdmin *[20]byte) (*ProgramConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Admin {
		return nil, ErrUnauthorized
	}
	if newArbitrator != nil {
		if *newArbitrator == ([20]byte{}) {
			return nil, fmt.Errorf("jobs: arbitrator required")
		}
		cfg.Arbitrator = *newArbitrator
	}
	if newAdmin != nil {
		if *newAdmin == ([20]byte{}) {
			return nil, fmt.Errorf("jobs: admin required")
		}
		cfg.Admin = *newAdmin
	}
	if err := e.state.ConfigPut(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return cfg.Clone(), nil
}

// CreateJob allocates a new job in Open status and escrows the amount from
// the requester's account into the job's derived vault. The deadline is
// computed as now + deadlineDays * 86400 with overflow checks.
func (e *Engine) CreateJob(requester [20]byte, jobID, token string, amount uint64, description string, deadlineDays uint8) (*Job, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trimmed := strings.TrimSpace(jobID)
	if trimmed == "" {
		return nil, ErrJobIDRequired
	}
	if len(trimmed) > MaxJobIDLen {
		return nil, ErrJobIDTooLong
	}
	if len(description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if requester == ([20]byte{}) {
		return nil, fmt.Errorf("%w: requester required", ErrUnauthorized)
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if _, ok, err := e.state.JobGet(trimmed); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrJobExists
	}

	now := e.now()
	deadline, err := addDeadline(now, deadlineDays)
	if err != nil {
		return nil, err
	}
	_, recordBump := FindAddress(trimmed, RoleRecord)
	_, authorityBump := FindAddress(trimmed, RoleAuthority)
	vault, vaultBump := FindAddress(trimmed, RoleVault)

	job := &Job{
		JobID:         trimmed,
		Requester:     requester,
		Agent:         [20]byte{},
		Token:         normalized,
		Amount:        amount,
		Description:   description,
		Status:        JobOpen,
		CreatedAt:     now,
		Deadline:      deadline,
		Deliverable:   "",
		Disputed:      false,
		Rating:        0,
		RecordBump:    recordBump,
		AuthorityBump: authorityBump,
		VaultBump:     vaultBump,
	}

	amt := new(big.Int).SetUint64(amount)
	if err := e.transferToken(requester, vault, normalized, amt); err != nil {
		return nil, err
	}
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	if err := e.state.VaultCredit(trimmed, normalized, amt); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(job))
	return job.Clone(), nil
}

// AcceptJob assigns the caller as the job's agent. Only an open, unassigned
// job can be taken; of two concurrent callers exactly one observes that state
// at commit and wins.
func (e *Engine) AcceptJob(caller [20]byte, jobID string) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: agent required", ErrUnauthorized)
	}
	if job.Status != JobOpen {
		return nil, ErrJobNotOpen
	}
	if job.Agent != ([20]byte{}) {
		return nil, ErrJobAlreadyTaken
	}
	job.Agent = caller
	job.Status = JobInProgress
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewAcceptedEvent(job))
	return job.Clone(), nil
}

// SubmitDeliverable records "url | notes" on the job and moves it to review.
// Only the assigned agent may submit, and only before the deadline; a late
// submission fails and leaves the job in progress.
func (e *Engine) SubmitDeliverable(caller [20]byte, jobID, url, notes string) (*Job, error) {
	combined := url + " | " + notes
	if len(combined) > MaxDeliverableLen {
		return nil, ErrDeliverableTooLong
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if caller != job.Agent {
		return nil, ErrUnauthorized
	}
	if job.Status != JobInProgress {
		return nil, ErrInvalidStatus
	}
	if e.now() > job.Deadline {
		return nil, ErrDeadlineExpired
	}
	job.Deliverable = combined
	job.Status = JobUnderReview
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewSubmittedEvent(job))
	return job.Clone(), nil
}

// ApproveAndPay releases the full escrowed amount to the agent and records
// the requester's rating. Only the requester may approve, and only while the
// job is under review.
func (e *Engine) ApproveAndPay(caller [20]byte, jobID string, rating uint8) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if caller != job.Requester {
		return nil, ErrUnauthorized
	}
	if job.Status != JobUnderReview {
		return nil, ErrInvalidStatus
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if err := e.settle(job, job.Agent, job.Amount); err != nil {
		return nil, err
	}
	job.Status = JobCompleted
	job.Rating = rating
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewApprovedEvent(job))
	return job.Clone(), nil
}

// RejectWork moves a reviewed job into dispute, annotating the deliverable
// with the rejection reason. Only the requester may reject.
func (e *Engine) RejectWork(caller [20]byte, jobID, reason string) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if caller != job.Requester {
		return nil, ErrUnauthorized
	}
	if job.Status != JobUnderReview {
		return nil, ErrInvalidStatus
	}
	annotated := job.Deliverable + " | REJECTED: " + reason
	if len(annotated) > MaxDeliverableLen {
		return nil, ErrDeliverableTooLong
	}
	job.Deliverable = annotated
	job.Status = JobDisputed
	job.Disputed = true
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewRejectedEvent(job))
	return job.Clone(), nil
}

// CancelJob refunds the full escrowed amount to the requester. Only the
// requester may cancel, and only while the job is still open.
func (e *Engine) CancelJob(caller [20]byte, jobID string) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if caller != job.Requester {
		return nil, ErrUnauthorized
	}
	if job.Status != JobOpen {
		return nil, ErrCannotCancel
	}
	if err := e.settle(job, job.Requester, job.Amount); err != nil {
		return nil, err
	}
	job.Status = JobCancelled
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(job))
	return job.Clone(), nil
}

// ResolveDispute splits the escrowed amount between agent and requester
// according to agentPct. The caller must equal the arbitrator stored in the
// config record; no other identity can trigger a split, valid signer or not.
// The agent portion is floor(amount * agentPct / 100) computed in a widened
// domain; the requester portion is the exact remainder, so the two always sum
// to the escrowed amount.
func (e *Engine) ResolveDispute(caller [20]byte, jobID string, agentPct uint8) (*Job, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Arbitrator {
		return nil, ErrUnauthorizedArbitrator
	}
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobDisputed {
		return nil, ErrNotDisputed
	}
	if agentPct > 100 {
		return nil, ErrInvalidPercentage
	}

	agentAmount, requesterAmount := splitAmount(job.Amount, agentPct)
	if agentAmount > 0 {
		if err := e.settle(job, job.Agent, agentAmount); err != nil {
			return nil, err
		}
	}
	if requesterAmount > 0 {
		if err := e.settle(job, job.Requester, requesterAmount); err != nil {
			return nil, err
		}
	}
	job.Status = JobResolved
	job.Disputed = false
	if err := e.storeJob(job); err != nil {
		return nil, err
	}
	e.emit(NewResolvedEvent(job))
	return job.Clone(), nil
}

// JobGet returns a copy of the stored job record after verifying it
// re-derives for the requested identifier.
func (e *Engine) JobGet(jobID string) (*Job, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Config returns a copy of the stored config record.
func (e *Engine) Config() (*ProgramConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// VaultBalance reports the escrow holding balance for a job. While a job is
// live the balance equals its amount; after a terminal transition it is zero.
func (e *Engine) VaultBalance(jobID string) (*big.Int, error) {
	job, err := e.loadJob(jobID)
	if err != nil {
		return nil, err
	}
	return e.state.VaultBalance(job.JobID, job.Token)
}

// splitAmount computes the arbitrated split. The multiplication is carried
// out in big.Int so amount up to 2^64-1 cannot overflow, and the requester
// share is derived by subtraction rather than recomputed, guaranteeing
// agent + requester == amount for every pct in [0,100].
func splitAmount(amount uint64, agentPct uint8) (agentAmount, requesterAmount uint64) {
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), big.NewInt(int64(agentPct)))
	agentAmount = product.Div(product, big.NewInt(100)).Uint64()
	requesterAmount = amount - agentAmount
	return agentAmount, requesterAmount
}

// addDeadline computes createdAt + days*86400, rejecting overflow.
func addDeadline(createdAt int64, days uint8) (int64, error) {
	offset := int64(days) * secondsPerDay
	if createdAt > math.MaxInt64-offset {
		return 0, ErrOverflow
	}
	return createdAt + offset, nil
}
