package jobs

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Role names the derivable accounts bound to a job identifier. The record
// role addresses the job record itself, the vault role is the escrow holding
// that custodies the locked funds, and the authority role is the program-only
// identity that alone may authorize transfers out of the vault.
type Role string

const (
	RoleRecord    Role = "record"
	RoleAuthority Role = "authority"
	RoleVault     Role = "vault"
)

// configSeed derives the singleton config record address.
const configSeed = "jobs/config"

// DeriveAddress computes the deterministic address bound to (jobID, role,
// bump). The function is pure: the same inputs always yield the same address,
// so any supplied account can be checked against a fresh derivation instead of
// being trusted.
func DeriveAddress(jobID string, role Role, bump uint8) [20]byte {
	h := ethcrypto.Keccak256([]byte("jobs/"+string(role)), []byte(jobID), []byte{bump})
	var addr [20]byte
	copy(addr[:], h[12:])
	return addr
}

// DeriveConfigAddress computes the address of the singleton config record for
// the provided bump.
func DeriveConfigAddress(bump uint8) [20]byte {
	h := ethcrypto.Keccak256([]byte(configSeed), []byte{bump})
	var addr [20]byte
	copy(addr[:], h[12:])
	return addr
}

// FindAddress scans bump values from 255 downwards and returns the first
// non-reserved derivation. The chosen bump is stored on the job record so
// every later access re-derives the identical address.
func FindAddress(jobID string, role Role) ([20]byte, uint8) {
	for b := 255; b >= 0; b-- {
		addr := DeriveAddress(jobID, role, uint8(b))
		if !reservedAddress(addr) {
			return addr, uint8(b)
		}
	}
	// Unreachable: only the zero address is reserved and keccak cannot
	// produce it for all 256 bumps.
	return [20]byte{}, 0
}

// FindConfigAddress is FindAddress for the singleton config record.
func FindConfigAddress() ([20]byte, uint8) {
	for b := 255; b >= 0; b-- {
		addr := DeriveConfigAddress(uint8(b))
		if !reservedAddress(addr) {
			return addr, uint8(b)
		}
	}
	return [20]byte{}, 0
}

// VerifyAddress reports whether the supplied address re-derives from the job
// identifier, role and stored bump. Transfer paths call this before moving a
// single unit; a record or account that fails verification has been
// substituted and is rejected.
func VerifyAddress(jobID string, role Role, bump uint8, addr [20]byte) bool {
	return DeriveAddress(jobID, role, bump) == addr
}

func reservedAddress(addr [20]byte) bool {
	return addr == [20]byte{}
}
