package confidential

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// MemoryLedger is the reference Ledger implementation used by tests and the
// development daemon. Balances are plaintext internally but reachable only
// through the Ledger contract, mirroring how the production collaborator hides
// amounts behind its cryptographic scheme.
type MemoryLedger struct {
	mu       sync.Mutex
	asset    string
	balances map[AccountID]*big.Int
	owners   map[[20]byte]AccountID
	nowFn    func() int64
}

// NewMemoryLedger constructs an empty single-asset ledger.
func NewMemoryLedger(asset string) (*MemoryLedger, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return &MemoryLedger{
		asset:    normalized,
		balances: make(map[AccountID]*big.Int),
		owners:   make(map[[20]byte]AccountID),
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the receipt timestamp source, primarily for tests.
func (l *MemoryLedger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func ownerAccountID(owner [20]byte) AccountID {
	payload := make([]byte, 0, 32)
	payload = append(payload, "veilmarket/account/owner"...)
	payload = append(payload, owner[:]...)
	return AccountID(blake3.Sum256(payload))
}

func custodyAccountID(escrowID [32]byte) AccountID {
	payload := make([]byte, 0, 64)
	payload = append(payload, "veilmarket/account/custody"...)
	payload = append(payload, escrowID[:]...)
	return AccountID(blake3.Sum256(payload))
}

// AccountOf resolves the balance account for an owner, provisioning it with a
// zero balance on first use.
func (l *MemoryLedger) AccountOf(owner [20]byte) (AccountID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.owners[owner]; ok {
		return id, nil
	}
	id := ownerAccountID(owner)
	l.owners[owner] = id
	if _, ok := l.balances[id]; !ok {
		l.balances[id] = big.NewInt(0)
	}
	return id, nil
}

// Provision creates the custody account for an escrow record. Provisioning is
// idempotent: repeated calls for the same escrow return the same account.
func (l *MemoryLedger) Provision(escrowID [32]byte) (AccountID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := custodyAccountID(escrowID)
	if _, ok := l.balances[id]; !ok {
		l.balances[id] = big.NewInt(0)
	}
	return id, nil
}

// Fund credits an owner's account. This is the development faucet; the
// production collaborator funds accounts through its own deposit flow.
func (l *MemoryLedger) Fund(owner [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	id, err := l.AccountOf(owner)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[id] = new(big.Int).Add(l.balances[id], amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *MemoryLedger) Transfer(from, to AccountID, amount *big.Int, asset string) (*Receipt, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal, ok := l.balances[from]
	if !ok {
		return nil, ErrUnknownAccount
	}
	toBal, ok := l.balances[to]
	if !ok {
		return nil, ErrUnknownAccount
	}
	if fromBal.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}
	l.balances[from] = new(big.Int).Sub(fromBal, amount)
	l.balances[to] = new(big.Int).Add(toBal, amount)
	return &Receipt{
		ID:     uuid.NewString(),
		From:   from,
		To:     to,
		Asset:  normalized,
		Posted: l.nowFn(),
	}, nil
}

// Balance reports the current balance of an account. Settlement code must not
// call this; it exists for conservation audits in tests and operator tooling.
func (l *MemoryLedger) Balance(id AccountID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[id]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}
