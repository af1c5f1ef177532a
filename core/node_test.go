package core

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"basilisk/core/events"
	"basilisk/native/jobs"
	"basilisk/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func nodeAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	return NewNode(storage.NewMemDB())
}

func fundAccount(t *testing.T, node *Node, addr [20]byte, token string, amount int64) {
	t.Helper()
	if err := node.SetBalance(addr, token, big.NewInt(amount)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func TestNodeLifecycleRoundTrip(t *testing.T) {
	node := newTestNode(t)
	admin := nodeAddr(0x01)
	arbitrator := nodeAddr(0x02)
	requester := nodeAddr(0x10)
	agent := nodeAddr(0x20)
	fundAccount(t, node, requester, "BSK", 2_000)

	if _, err := node.JobsInitialize(admin, arbitrator); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	job, err := node.JobsCreate(requester, "J1", "BSK", 1_000, "build the thing", 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Deadline != job.CreatedAt+7*86_400 {
		t.Fatalf("unexpected deadline %d for createdAt %d", job.Deadline, job.CreatedAt)
	}
	if _, err := node.JobsAccept(agent, "J1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := node.JobsSubmit(agent, "J1", "https://example.com/work", "done"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, err = node.JobsApprove(requester, "J1", 4)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if job.Status != jobs.JobCompleted || job.Rating != 4 {
		t.Fatalf("unexpected job after approve: %+v", job)
	}

	agentBalance, err := node.Balance(agent, "BSK")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if agentBalance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected agent balance 1000, got %s", agentBalance)
	}
	vault, err := node.JobsVaultBalance("J1")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Sign() != 0 {
		t.Fatalf("expected drained vault, got %s", vault)
	}

	stored, err := node.JobsGet("J1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != jobs.JobCompleted {
		t.Fatalf("persisted status mismatch: %v", stored.Status)
	}
}

func TestNodeFailedOperationLeavesNoState(t *testing.T) {
	node := newTestNode(t)
	requester := nodeAddr(0x10)
	fundAccount(t, node, requester, "BSK", 100)

	_, err := node.JobsCreate(requester, "J1", "BSK", 1_000, "too expensive", 7)
	if !errors.Is(err, jobs.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := node.JobsGet("J1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected no job record, got %v", err)
	}
	balance, err := node.Balance(requester, "BSK")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed create must not touch balances, got %s", balance)
	}
}

func TestNodeEmitsOnlyCommittedEvents(t *testing.T) {
	node := newTestNode(t)
	emitter := &recordingEmitter{}
	node.SetEmitter(emitter)
	requester := nodeAddr(0x10)
	fundAccount(t, node, requester, "BSK", 1_000)

	if _, err := node.JobsCreate(requester, "J1", "BSK", 1_000, "work", 7); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one committed event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != jobs.EventTypeJobCreated {
		t.Fatalf("unexpected event type %s", emitter.events[0].EventType())
	}

	if _, err := node.JobsCreate(requester, "J1", "BSK", 1, "dupe", 1); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
	if len(emitter.events) != 1 {
		t.Fatalf("failed operation must not emit, got %d events", len(emitter.events))
	}
}

func TestNodeConcurrentAcceptSingleWinner(t *testing.T) {
	node := newTestNode(t)
	requester := nodeAddr(0x10)
	fundAccount(t, node, requester, "BSK", 1_000)
	if _, err := node.JobsCreate(requester, "J1", "BSK", 1_000, "work", 7); err != nil {
		t.Fatalf("create: %v", err)
	}

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = node.JobsAccept(nodeAddr(byte(0x20+i)), "J1")
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("agents %d and %d both accepted", winner, i)
			}
			winner = i
		case errors.Is(err, jobs.ErrJobNotOpen) || errors.Is(err, jobs.ErrJobAlreadyTaken):
		default:
			t.Fatalf("agent %d: unexpected error %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatalf("no agent accepted the job")
	}

	job, err := node.JobsGet("J1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobs.JobInProgress {
		t.Fatalf("expected in-progress job, got %v", job.Status)
	}
	if job.Agent != nodeAddr(byte(0x20+winner)) {
		t.Fatalf("assigned agent does not match winner %d: %x", winner, job.Agent)
	}
}

func TestNodeConfigQueries(t *testing.T) {
	node := newTestNode(t)

	if _, err := node.JobsConfig(); !errors.Is(err, jobs.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	admin := nodeAddr(0x01)
	arbitrator := nodeAddr(0x02)
	if _, err := node.JobsInitialize(admin, arbitrator); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	cfg, err := node.JobsConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Admin != admin || cfg.Arbitrator != arbitrator {
		t.Fatalf("unexpected config %+v", cfg)
	}

	newAdmin := nodeAddr(0x03)
	if _, err := node.JobsUpdateConfig(admin, nil, &newAdmin); err != nil {
		t.Fatalf("update config: %v", err)
	}
	cfg, err = node.JobsConfig()
	if err != nil {
		t.Fatalf("config after update: %v", err)
	}
	if cfg.Admin != newAdmin {
		t.Fatalf("admin rotation not persisted: %+v", cfg)
	}
}

func TestNodeResolveSplitsFunds(t *testing.T) {
	node := newTestNode(t)
	admin := nodeAddr(0x01)
	arbitrator := nodeAddr(0x02)
	requester := nodeAddr(0x10)
	agent := nodeAddr(0x20)
	fundAccount(t, node, requester, "ZBSK", 1_000)

	if _, err := node.JobsInitialize(admin, arbitrator); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := node.JobsCreate(requester, "J1", "ZBSK", 1_000, "work", 7); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := node.JobsAccept(agent, "J1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := node.JobsSubmit(agent, "J1", "https://example.com/work", "v1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := node.JobsReject(requester, "J1", "incomplete"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	job, err := node.JobsResolve(arbitrator, "J1", 70)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if job.Status != jobs.JobResolved {
		t.Fatalf("expected resolved status, got %v", job.Status)
	}

	agentBalance, _ := node.Balance(agent, "ZBSK")
	requesterBalance, _ := node.Balance(requester, "ZBSK")
	if agentBalance.Cmp(big.NewInt(700)) != 0 || requesterBalance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected split: agent %s requester %s", agentBalance, requesterBalance)
	}
}

func TestNodeEnsureGenesisAppliesOnce(t *testing.T) {
	db := storage.NewMemDB()
	node := NewNode(db)
	addr := nodeAddr(0x10)
	allocs := []GenesisAlloc{{Address: addr, Token: "BSK", Amount: big.NewInt(5_000)}}

	if err := node.EnsureGenesis(allocs); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	balance, err := node.Balance(addr, "BSK")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected 5000, got %s", balance)
	}

	// Spend some, then restart against the same store. The marker must stop
	// the allocation from being re-applied.
	if err := node.SetBalance(addr, "BSK", big.NewInt(4_000)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	restarted := NewNode(db)
	if err := restarted.EnsureGenesis(allocs); err != nil {
		t.Fatalf("genesis on restart: %v", err)
	}
	balance, err = restarted.Balance(addr, "BSK")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("restart must not reseed balances, got %s", balance)
	}
}
