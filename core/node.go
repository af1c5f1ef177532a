package core

import (
	"errors"
	"math/big"
	"sync"

	"basilisk/core/events"
	"basilisk/core/state"
	"basilisk/core/types"
	"basilisk/native/jobs"
	"basilisk/storage"
)

// ErrJobNotFound is returned when a job record is missing from state.
var ErrJobNotFound = jobs.ErrJobNotFound

// Node owns the persistent store and executes marketplace operations against
// it. Every mutating operation runs on a write-buffered fork of the store and
// is flushed only on success, so a failed transition leaves no partial state
// behind. The node mutex serializes operations, giving each one a fresh read
// of job status at entry.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex
	emitter events.Emitter
}

// NewNode creates a node over the provided store.
func NewNode(db storage.Database) *Node {
	return &Node{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the emitter that receives transition events.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

type bufferedEmitter struct {
	events []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) {
	b.events = append(b.events, evt)
}

// withEngine runs fn against an engine bound to a fork of the store. The fork
// is flushed only when fn succeeds; events are buffered and forwarded only
// after the flush, so subscribers never observe an aborted transition.
func (n *Node) withEngine(fn func(*jobs.Engine) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	fork := storage.NewFork(n.db)
	buffer := &bufferedEmitter{}
	engine := jobs.NewEngine()
	engine.SetState(state.NewManager(fork))
	engine.SetEmitter(buffer)

	if err := fn(engine); err != nil {
		fork.Discard()
		return err
	}
	if err := fork.Flush(); err != nil {
		return err
	}
	for _, evt := range buffer.events {
		n.emitter.Emit(evt)
	}
	return nil
}

// withManager runs fn against a read-only manager over the live store.
func (n *Node) withManager(fn func(*state.Manager) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return fn(state.NewManager(n.db))
}

func (n *Node) JobsInitialize(admin, arbitrator [20]byte) (*jobs.ProgramConfig, error) {
	var cfg *jobs.ProgramConfig
	err := n.withEngine(func(engine *jobs.Engine) error {
		created, err := engine.Initialize(admin, arbitrator)
		if err != nil {
			return err
		}
		cfg = created
		return nil
	})
	return cfg, err
}

func (n *Node) JobsUpdateConfig(caller [20]byte, newArbitrator, newAdmin *[20]byte) (*jobs.ProgramConfig, error) {
	var cfg *jobs.ProgramConfig
	err := n.withEngine(func(engine *jobs.Engine) error {
		updated, err := engine.UpdateConfig(caller, newArbitrator, newAdmin)
		if err != nil {
			return err
		}
		cfg = updated
		return nil
	})
	return cfg, err
}

func (n *Node) JobsCreate(requester [20]byte, jobID, token string, amount uint64, description string, deadlineDays uint8) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.withEngine(func(engine *jobs.Engine) error {
		created, err := engine.CreateJob(requester, jobID, token, amount, description, deadlineDays)
		if err != nil {
			return err
		}
		job = created
		return nil
	})
	return job, err
}

func (n *Node) JobsAccept(caller [20]byte, jobID string) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.AcceptJob(caller, jobID)
	})
}

func (n *Node) JobsSubmit(caller [20]byte, jobID, url, notes string) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.SubmitDeliverable(caller, jobID, url, notes)
	})
}

func (n *Node) JobsApprove(caller [20]byte, jobID string, rating uint8) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.ApproveAndPay(caller, jobID, rating)
	})
}

func (n *Node) JobsReject(caller [20]byte, jobID, reason string) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.RejectWork(caller, jobID, reason)
	})
}

func (n *Node) JobsCancel(caller [20]byte, jobID string) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.CancelJob(caller, jobID)
	})
}

func (n *Node) JobsResolve(caller [20]byte, jobID string, agentPct uint8) (*jobs.Job, error) {
	return n.jobTransition(func(engine *jobs.Engine) (*jobs.Job, error) {
		return engine.ResolveDispute(caller, jobID, agentPct)
	})
}

func (n *Node) jobTransition(fn func(*jobs.Engine) (*jobs.Job, error)) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.withEngine(func(engine *jobs.Engine) error {
		updated, err := fn(engine)
		if err != nil {
			return err
		}
		job = updated
		return nil
	})
	return job, err
}

func (n *Node) JobsGet(jobID string) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.withManager(func(m *state.Manager) error {
		stored, ok, err := m.JobGet(jobID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrJobNotFound
		}
		job = stored
		return nil
	})
	return job, err
}

func (n *Node) JobsConfig() (*jobs.ProgramConfig, error) {
	var cfg *jobs.ProgramConfig
	err := n.withManager(func(m *state.Manager) error {
		stored, ok, err := m.ConfigGet()
		if err != nil {
			return err
		}
		if !ok {
			return jobs.ErrNotInitialized
		}
		cfg = stored
		return nil
	})
	return cfg, err
}

func (n *Node) JobsVaultBalance(jobID string) (*big.Int, error) {
	var balance *big.Int
	err := n.withManager(func(m *state.Manager) error {
		job, ok, err := m.JobGet(jobID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrJobNotFound
		}
		balance, err = m.VaultBalance(job.JobID, job.Token)
		return err
	})
	return balance, err
}

func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	var balance *big.Int
	err := n.withManager(func(m *state.Manager) error {
		var err error
		balance, err = m.Balance(addr[:], token)
		return err
	})
	return balance, err
}

func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	var account *types.Account
	err := n.withManager(func(m *state.Manager) error {
		var err error
		account, err = m.GetAccount(addr[:])
		return err
	})
	return account, err
}

// SetBalance overwrites a token balance. Exposed for genesis allocations and
// tests only.
func (n *Node) SetBalance(addr [20]byte, token string, amount *big.Int) error {
	return n.withManager(func(m *state.Manager) error {
		return m.SetBalance(addr[:], token, amount)
	})
}

var genesisMarkerKey = []byte("genesis-applied")

// GenesisAlloc seeds an account balance once. The marker key ensures restarts
// do not re-apply allocations on top of live balances.
type GenesisAlloc struct {
	Address [20]byte
	Token   string
	Amount  *big.Int
}

// EnsureGenesis applies the allocations if the store has not been seeded yet.
func (n *Node) EnsureGenesis(allocs []GenesisAlloc) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if _, err := n.db.Get(genesisMarkerKey); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}

	fork := storage.NewFork(n.db)
	manager := state.NewManager(fork)
	for _, alloc := range allocs {
		if err := manager.SetBalance(alloc.Address[:], alloc.Token, alloc.Amount); err != nil {
			return err
		}
	}
	if err := fork.Put(genesisMarkerKey, []byte{1}); err != nil {
		return err
	}
	return fork.Flush()
}
