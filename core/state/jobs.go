package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"basilisk/native/jobs"
	"basilisk/storage"
)

var (
	jobRecordPrefix   = []byte("jobs/record:")
	jobVaultPrefix    = []byte("jobs/vault-balance:")
	jobConfigKeyBytes = []byte("jobs/config")
)

func jobRecordKey(jobID string) []byte {
	buf := make([]byte, len(jobRecordPrefix)+len(jobID))
	copy(buf, jobRecordPrefix)
	copy(buf[len(jobRecordPrefix):], jobID)
	return ethcrypto.Keccak256(buf)
}

func jobVaultKey(jobID, token string) []byte {
	buf := make([]byte, len(jobVaultPrefix)+len(token)+1+len(jobID))
	copy(buf, jobVaultPrefix)
	copy(buf[len(jobVaultPrefix):], token)
	buf[len(jobVaultPrefix)+len(token)] = ':'
	copy(buf[len(jobVaultPrefix)+len(token)+1:], jobID)
	return ethcrypto.Keccak256(buf)
}

// JobPut sanitizes and persists the job record under its identifier.
func (m *Manager) JobPut(job *jobs.Job) error {
	sanitized, err := jobs.SanitizeJob(job)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return m.db.Put(jobRecordKey(sanitized.JobID), encoded)
}

// JobGet retrieves the job record stored under the identifier. The boolean
// return reports existence.
func (m *Manager) JobGet(jobID string) (*jobs.Job, bool, error) {
	trimmed := strings.TrimSpace(jobID)
	if trimmed == "" {
		return nil, false, fmt.Errorf("state: job id required")
	}
	data, err := m.db.Get(jobRecordKey(trimmed))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	job := new(jobs.Job)
	if err := json.Unmarshal(data, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// ConfigPut persists the singleton config record.
func (m *Manager) ConfigPut(cfg *jobs.ProgramConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil config")
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.db.Put(ethcrypto.Keccak256(jobConfigKeyBytes), encoded)
}

// ConfigGet retrieves the singleton config record.
func (m *Manager) ConfigGet() (*jobs.ProgramConfig, bool, error) {
	data, err := m.db.Get(ethcrypto.Keccak256(jobConfigKeyBytes))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	cfg := new(jobs.ProgramConfig)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// VaultCredit increases the escrow holding balance tracked for the job.
func (m *Manager) VaultCredit(jobID, token string, amt *big.Int) error {
	normalized, err := jobs.NormalizeToken(token)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative vault credit")
	}
	if _, ok, err := m.JobGet(jobID); err != nil {
		return err
	} else if !ok {
		return jobs.ErrJobNotFound
	}
	current, err := m.VaultBalance(jobID, normalized)
	if err != nil {
		return err
	}
	current.Add(current, amt)
	return m.KVPut(jobVaultKey(jobID, normalized), current)
}

// VaultDebit decreases the escrow holding balance tracked for the job. The
// supplied authority must re-derive from the stored job record's identifier
// and authority bump; the ledger refuses any debit that is not authorized by
// the job's own custody authority.
func (m *Manager) VaultDebit(jobID, token string, authority [20]byte, amt *big.Int) error {
	normalized, err := jobs.NormalizeToken(token)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative vault debit")
	}
	job, ok, err := m.JobGet(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return jobs.ErrJobNotFound
	}
	if !jobs.VerifyAddress(job.JobID, jobs.RoleAuthority, job.AuthorityBump, authority) {
		return jobs.ErrInvalidAuthority
	}
	current, err := m.VaultBalance(jobID, normalized)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return jobs.ErrInsufficientFunds
	}
	current.Sub(current, amt)
	return m.KVPut(jobVaultKey(jobID, normalized), current)
}

// VaultBalance reports the escrow holding balance tracked for the job.
func (m *Manager) VaultBalance(jobID, token string) (*big.Int, error) {
	normalized, err := jobs.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.KVGet(jobVaultKey(jobID, normalized), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}
