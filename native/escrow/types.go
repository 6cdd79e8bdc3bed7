package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"veilmarket/confidential"
)

// EscrowState represents the lifecycle states of one order.
type EscrowState uint8

const (
	StateCreated EscrowState = iota + 1
	StateAccepted
	StateShipped
	StateDelivered
	StateDisputed
	StateCompleted
	StateRefunded
)

// Valid reports whether the state value is within the supported range.
func (s EscrowState) Valid() bool {
	return s >= StateCreated && s <= StateRefunded
}

// Terminal reports whether the state is a sink. No operation accepts a
// terminal state as a precondition, which is what prevents double release.
func (s EscrowState) Terminal() bool {
	return s == StateCompleted || s == StateRefunded
}

func (s EscrowState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAccepted:
		return "accepted"
	case StateShipped:
		return "shipped"
	case StateDelivered:
		return "delivered"
	case StateDisputed:
		return "disputed"
	case StateCompleted:
		return "completed"
	case StateRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DisputeWinner identifies the party an arbiter ruled in favour of.
type DisputeWinner uint8

const (
	WinnerBuyer DisputeWinner = iota + 1
	WinnerSeller
)

// Valid reports whether the winner value is within the supported range.
func (w DisputeWinner) Valid() bool {
	return w == WinnerBuyer || w == WinnerSeller
}

func (w DisputeWinner) String() string {
	switch w {
	case WinnerBuyer:
		return "buyer"
	case WinnerSeller:
		return "seller"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(w))
	}
}

const (
	// MaxShippingCiphertext bounds the encrypted shipping blob.
	MaxShippingCiphertext = 256
	// MaxTrackingLength bounds the carrier tracking number.
	MaxTrackingLength = 64
	// MaxDisputeReasonLength bounds the free-text dispute reason.
	MaxDisputeReasonLength = 200
)

// Escrow is the authoritative record for one order. Buyer, arbiter and the
// custody account identity are immutable for the record's whole lifetime; all
// other mutation happens inside the engine's transitions.
type Escrow struct {
	ID      [32]byte
	OrderID uint64
	Buyer   [20]byte
	// Seller stays zero until the order is accepted.
	Seller  [20]byte
	Arbiter [20]byte

	Asset       string
	Amount      *big.Int
	SellerStake *big.Int
	// PlatformFee is fixed at creation and reused verbatim at release so
	// configuration changes mid-order cannot cause drift.
	PlatformFee *big.Int

	// AmountCommitment optionally commits to the true amount; zero when the
	// buyer did not supply one. The engine treats it as opaque.
	AmountCommitment  [32]byte
	EncryptedShipping []byte
	ShippingNonce     [16]byte

	// Custody is the engine's capability over the account holding everything
	// deposited for this order.
	Custody confidential.AccountID

	State           EscrowState
	CreatedAt       int64
	AcceptedAt      int64
	ShippedAt       int64
	DeliveredAt     int64
	DisputeOpenedAt int64

	TrackingNumber string
	DisputeReason  string

	UsePrivateReputation bool
}

// OrderKey derives the stable record identifier from the buyer and the
// buyer-scoped order number.
func OrderKey(buyer [20]byte, orderID uint64) [32]byte {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], orderID)
	return ethcrypto.Keccak256Hash(buyer[:], nonce[:])
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if e.SellerStake != nil {
		clone.SellerStake = new(big.Int).Set(e.SellerStake)
	} else {
		clone.SellerStake = big.NewInt(0)
	}
	if e.PlatformFee != nil {
		clone.PlatformFee = new(big.Int).Set(e.PlatformFee)
	} else {
		clone.PlatformFee = big.NewInt(0)
	}
	clone.EncryptedShipping = append([]byte(nil), e.EncryptedShipping...)
	return &clone
}

// SanitizeEscrow validates and normalises the supplied record, returning a
// cloned instance with canonical asset casing and non-nil amount fields. The
// original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	asset, err := confidential.NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.SellerStake.Sign() < 0 || clone.PlatformFee.Sign() < 0 {
		return nil, fmt.Errorf("escrow: negative economics")
	}
	if len(clone.EncryptedShipping) > MaxShippingCiphertext {
		return nil, ErrShippingDataTooLarge
	}
	if len(clone.TrackingNumber) > MaxTrackingLength {
		return nil, ErrInvalidTracking
	}
	if len(clone.DisputeReason) > MaxDisputeReasonLength {
		return nil, ErrInvalidReason
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("escrow: invalid state %d", clone.State)
	}
	return clone, nil
}

// Params carries the platform economics and deadlines the engine enforces.
// All durations are in seconds of ledger time.
type Params struct {
	FeeBps             uint32
	SellerStakeBps     uint32
	AcceptanceDeadline int64
	ShippingDeadline   int64
	DeliveryDeadline   int64
	DisputeWindow      int64
	ArbiterDeadline    int64
}

// Validate checks the parameter bounds.
func (p Params) Validate() error {
	if p.FeeBps > 10_000 {
		return fmt.Errorf("escrow: fee bps out of range: %d", p.FeeBps)
	}
	if p.SellerStakeBps > 10_000 {
		return fmt.Errorf("escrow: seller stake bps out of range: %d", p.SellerStakeBps)
	}
	if p.AcceptanceDeadline <= 0 || p.ShippingDeadline <= 0 || p.DeliveryDeadline <= 0 ||
		p.DisputeWindow <= 0 || p.ArbiterDeadline <= 0 {
		return fmt.Errorf("escrow: all deadlines must be positive")
	}
	return nil
}

// bpsShare computes value*bps/10000 with truncation toward zero. Rounding loss
// accrues to the platform side of every split.
func bpsShare(value *big.Int, bps uint32) *big.Int {
	if value == nil || value.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(value, new(big.Int).SetUint64(uint64(bps)))
	return share.Div(share, big.NewInt(10_000))
}
