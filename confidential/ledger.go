package confidential

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// AccountID addresses a confidential balance account on the host ledger. Each
// account holds an encrypted balance for a single owner under a single asset.
type AccountID [32]byte

// Receipt records a completed confidential transfer. The moved amount is
// provable to the involved parties but hidden from third-party observers, so
// the receipt deliberately carries no amount field.
type Receipt struct {
	ID     string
	From   AccountID
	To     AccountID
	Asset  string
	Posted int64
}

var (
	// ErrInsufficientFunds is surfaced unchanged to settlement callers.
	ErrInsufficientFunds = errors.New("confidential: insufficient funds")
	// ErrUnknownAccount marks transfers referencing accounts the ledger has
	// never provisioned.
	ErrUnknownAccount = errors.New("confidential: unknown account")
	// ErrInvalidAmount rejects zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("confidential: transfer amount must be positive")
)

// Ledger is the confidential-transfer collaborator consumed by the settlement
// engine. The engine only requests transfers of quantities it already computed;
// it never inspects plaintext balances.
type Ledger interface {
	// AccountOf resolves (provisioning lazily if needed) the balance account
	// owned by the given party.
	AccountOf(owner [20]byte) (AccountID, error)
	// Provision creates the custody account dedicated to one escrow record.
	// The returned identifier is the engine's exclusive capability to move
	// funds out of custody.
	Provision(escrowID [32]byte) (AccountID, error)
	// Transfer moves amount between accounts. The amount is hidden from
	// third parties by the underlying scheme.
	Transfer(from, to AccountID, amount *big.Int, asset string) (*Receipt, error)
}

// NormalizeAsset canonicalises the asset symbol. Only the confidential
// settlement asset is supported.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "CSOL":
		return trimmed, nil
	default:
		return "", fmt.Errorf("confidential: unsupported asset %s", symbol)
	}
}
