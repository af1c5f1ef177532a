package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"basilisk/core/types"
	"basilisk/native/jobs"
	"basilisk/storage"
)

// Manager provides keyed access to the persistent marketplace records:
// accounts, the config singleton, job records and per-job vault balances.
// Keys are keccak-hashed with a stable prefix before hitting the underlying
// store.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account:")
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// GetAccount retrieves the account stored at the address, returning a zeroed
// account when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	data, err := m.db.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return &types.Account{BalanceBSK: big.NewInt(0), BalanceZBSK: big.NewInt(0)}, nil
		}
		return nil, err
	}
	account := new(types.Account)
	if err := json.Unmarshal(data, account); err != nil {
		return nil, err
	}
	if account.BalanceBSK == nil {
		account.BalanceBSK = big.NewInt(0)
	}
	if account.BalanceZBSK == nil {
		account.BalanceZBSK = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the account at the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	encoded, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Balance returns the token balance held by the address.
func (m *Manager) Balance(addr []byte, token string) (*big.Int, error) {
	normalized, err := jobs.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if normalized == "ZBSK" {
		return new(big.Int).Set(account.BalanceZBSK), nil
	}
	return new(big.Int).Set(account.BalanceBSK), nil
}

// SetBalance overwrites the token balance for the address. Used for genesis
// allocations and tests; runtime balance changes go through account transfers.
func (m *Manager) SetBalance(addr []byte, token string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance not allowed")
	}
	normalized, err := jobs.NormalizeToken(token)
	if err != nil {
		return err
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	if normalized == "ZBSK" {
		account.BalanceZBSK = new(big.Int).Set(amount)
	} else {
		account.BalanceBSK = new(big.Int).Set(amount)
	}
	return m.PutAccount(addr, account)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before insertion.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(ethcrypto.Keccak256(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the
// key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(ethcrypto.Keccak256(key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
