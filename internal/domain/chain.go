package domain

import (
	"github.com/gagliardetto/solana-go"
)

// MaxBundleSize is the most transactions a relay accepts in one bundle.
const MaxBundleSize = 5

// BundleStatus is the relay-side state of a submitted bundle. The zero value
// means the relay has not observed the bundle yet.
type BundleStatus string

const (
	BundleUnknown BundleStatus = ""
	BundlePending BundleStatus = "Pending"
	BundleLanded  BundleStatus = "Landed"
	BundleFailed  BundleStatus = "Failed"
	BundleInvalid BundleStatus = "Invalid"
)

// Terminal reports whether the bundle reached a final on-chain outcome.
// Invalid is not terminal: the relay reports it for ids it has not indexed yet.
func (s BundleStatus) Terminal() bool {
	return s == BundleLanded || s == BundleFailed
}

// BundleState is one observation of a bundle's status.
type BundleState struct {
	ID         string
	Status     BundleStatus
	LandedSlot uint64
}

// Blockhash is a recent blockhash and the last block height it stays valid for.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// AccountInfo is the raw content of an on-chain account.
type AccountInfo struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// SimulationResult is the outcome of a transaction simulation.
type SimulationResult struct {
	Err           any
	Logs          []string
	UnitsConsumed uint64
}

// Failed reports whether the simulated execution returned an error.
func (s SimulationResult) Failed() bool {
	return s.Err != nil
}

// SignatureStatus is the confirmation state of a sent transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string
	Err                any
}
