package escrow

import (
	"math/big"
	"strings"
	"time"

	"veilmarket/confidential"
	"veilmarket/core/events"
	"veilmarket/core/types"
	"veilmarket/native/arbiter"
	nativecommon "veilmarket/native/common"
	"veilmarket/native/reputation"
)

const moduleName = "escrow"

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
}

// Engine drives the order lifecycle: it validates preconditions against the
// record and platform parameters, requests confidential transfers, updates the
// record and the reputation ledger, and emits a domain event. Each operation
// is expected to run inside a single host-ledger transaction; the guards
// re-check the state freshly so a losing concurrent attempt observes a
// stale-state error instead of corrupting custody.
type Engine struct {
	state      engineState
	conf       confidential.Ledger
	reputation *reputation.Ledger
	arbiters   *arbiter.Pool
	params     Params
	treasury   [20]byte
	authority  [20]byte
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	nowFn      func() int64
}

// NewEngine creates an engine with a no-op emitter. Callers wire the state
// backend, collaborators and parameters through the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the record store.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetConfidential configures the confidential-transfer collaborator.
func (e *Engine) SetConfidential(ledger confidential.Ledger) { e.conf = ledger }

// SetReputation configures the reputation ledger mutated by settlements.
func (e *Engine) SetReputation(ledger *reputation.Ledger) { e.reputation = ledger }

// SetArbiters configures the arbiter pool consulted at order creation.
func (e *Engine) SetArbiters(pool *arbiter.Pool) { e.arbiters = pool }

// SetParams installs the platform economics and deadlines. The fee snapshot
// stored on each record shields in-flight orders from later changes.
func (e *Engine) SetParams(p Params) { e.params = p }

// SetTreasury configures the destination for platform fees and sweeps.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetAuthority configures the identity allowed to apply private reputation
// results.
func (e *Engine) SetAuthority(addr [20]byte) { e.authority = addr }

// SetEmitter configures the event sink. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses installs the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the ledger time source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(orderEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.conf == nil:
		return errNilConfidential
	case e.reputation == nil:
		return errNilReputation
	case e.treasury == ([20]byte{}):
		return errNilTreasury
	default:
		return nil
	}
}

func (e *Engine) loadOrder(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return esc, nil
}

func (e *Engine) storeOrder(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// Get returns a copy of the order record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// deposited reports everything moved into custody for the record so far:
// buyer payment plus platform fee, plus the seller stake once posted.
func deposited(esc *Escrow) *big.Int {
	total := new(big.Int).Add(esc.Amount, esc.PlatformFee)
	if esc.SellerStake != nil {
		total.Add(total, esc.SellerStake)
	}
	return total
}

// release drains custody: the principal goes to the recipient and whatever
// remains sweeps to the treasury. Draining fully is what keeps the custody
// balance at zero in every terminal state.
func (e *Engine) release(esc *Escrow, recipient [20]byte, principal *big.Int) error {
	recipientAcct, err := e.conf.AccountOf(recipient)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(deposited(esc), principal)
	if principal.Sign() > 0 {
		if _, err := e.conf.Transfer(esc.Custody, recipientAcct, principal, esc.Asset); err != nil {
			return err
		}
	}
	if remainder.Sign() > 0 {
		treasuryAcct, err := e.conf.AccountOf(e.treasury)
		if err != nil {
			return err
		}
		if _, err := e.conf.Transfer(esc.Custody, treasuryAcct, remainder, esc.Asset); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrder validates the order, moves amount plus fee from the buyer into a
// freshly provisioned custody account, assigns an arbiter from the pool using
// the caller-supplied seed, and persists the record in the created state. The
// buyer's reputation record is initialised lazily.
func (e *Engine) CreateOrder(buyer [20]byte, orderID uint64, amount *big.Int, encryptedShipping []byte, shippingNonce [16]byte, amountCommitment *[32]byte, usePrivateReputation bool, seed uint64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.arbiters == nil {
		return nil, errNilArbiters
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(encryptedShipping) > MaxShippingCiphertext {
		return nil, ErrShippingDataTooLarge
	}
	assigned, err := e.arbiters.Select(seed)
	if err != nil {
		return nil, err
	}
	id := OrderKey(buyer, orderID)
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, ErrOrderExists
	}

	fee := bpsShare(amount, e.params.FeeBps)
	custody, err := e.conf.Provision(id)
	if err != nil {
		return nil, err
	}
	buyerAcct, err := e.conf.AccountOf(buyer)
	if err != nil {
		return nil, err
	}
	funding := new(big.Int).Add(amount, fee)
	if _, err := e.conf.Transfer(buyerAcct, custody, funding, "CSOL"); err != nil {
		return nil, err
	}

	esc := &Escrow{
		ID:                   id,
		OrderID:              orderID,
		Buyer:                buyer,
		Arbiter:              assigned,
		Asset:                "CSOL",
		Amount:               new(big.Int).Set(amount),
		SellerStake:          big.NewInt(0),
		PlatformFee:          fee,
		EncryptedShipping:    append([]byte(nil), encryptedShipping...),
		ShippingNonce:        shippingNonce,
		Custody:              custody,
		State:                StateCreated,
		CreatedAt:            e.now(),
		UsePrivateReputation: usePrivateReputation,
	}
	if amountCommitment != nil {
		esc.AmountCommitment = *amountCommitment
	}
	if err := e.storeOrder(esc); err != nil {
		return nil, err
	}
	if _, err := e.reputation.Touch(buyer); err != nil {
		return nil, err
	}
	e.emit(NewOrderCreatedEvent(esc))
	return esc.Clone(), nil
}

// AcceptOrder posts the seller stake into custody and binds the seller to the
// record. The acceptance boundary is inclusive: an acceptance at exactly the
// deadline succeeds.
func (e *Engine) AcceptOrder(id [32]byte, seller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateCreated {
		return ErrInvalidState
	}
	if e.now() > esc.CreatedAt+e.params.AcceptanceDeadline {
		return ErrDeadlineExpired
	}
	stake := bpsShare(esc.Amount, e.params.SellerStakeBps)
	if stake.Sign() > 0 {
		sellerAcct, err := e.conf.AccountOf(seller)
		if err != nil {
			return err
		}
		if _, err := e.conf.Transfer(sellerAcct, esc.Custody, stake, esc.Asset); err != nil {
			return err
		}
	}
	esc.Seller = seller
	esc.SellerStake = stake
	esc.State = StateAccepted
	esc.AcceptedAt = e.now()
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	if _, err := e.reputation.Touch(seller); err != nil {
		return err
	}
	e.emit(NewOrderAcceptedEvent(esc))
	return nil
}

// MarkShipped records the carrier tracking number and advances the order.
// Only the bound seller may ship, and only within the shipping deadline.
func (e *Engine) MarkShipped(id [32]byte, caller [20]byte, trackingNumber string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateAccepted {
		return ErrInvalidState
	}
	if caller != esc.Seller {
		return ErrUnauthorized
	}
	if e.now() > esc.AcceptedAt+e.params.ShippingDeadline {
		return ErrDeadlineExpired
	}
	tracking := strings.TrimSpace(trackingNumber)
	if len(tracking) == 0 || len(tracking) > MaxTrackingLength {
		return ErrInvalidTracking
	}
	esc.TrackingNumber = tracking
	esc.State = StateShipped
	esc.ShippedAt = e.now()
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	e.emit(NewOrderShippedEvent(esc))
	return nil
}

// ConfirmDelivery advances a shipped order once the buyer acknowledges
// receipt, opening the dispute window.
func (e *Engine) ConfirmDelivery(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateShipped {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	esc.State = StateDelivered
	esc.DeliveredAt = e.now()
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	e.emit(NewOrderDeliveredEvent(esc))
	return nil
}

// settleForSeller drains custody in the seller's favour: the seller receives
// the order amount less the platform fee plus their stake back, and the
// treasury sweep collects the rest.
func (e *Engine) settleForSeller(esc *Escrow) error {
	principal := new(big.Int).Sub(esc.Amount, esc.PlatformFee)
	principal.Add(principal, esc.SellerStake)
	return e.release(esc, esc.Seller, principal)
}

// recordSuccess applies the successful-order reputation updates for both
// parties, deferring score computation when the order is private.
func (e *Engine) recordSuccess(esc *Escrow) error {
	for _, party := range [][20]byte{esc.Buyer, esc.Seller} {
		rec, err := e.reputation.RecordSuccess(party, esc.UsePrivateReputation)
		if err != nil {
			return err
		}
		if !esc.UsePrivateReputation {
			e.emit(reputation.NewScoreUpdatedEvent(rec))
		}
	}
	return nil
}

// FinalizeOrder settles a delivered order after its dispute window fully
// elapsed. Anyone may trigger finalization; the distribution is fixed by the
// record.
func (e *Engine) FinalizeOrder(id [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return ErrInvalidState
	}
	if e.now() <= esc.DeliveredAt+e.params.DisputeWindow {
		return ErrDeadlineNotReached
	}
	return e.completeOrder(esc, NewOrderCompletedEvent(esc))
}

// FinalizeEarly lets the buyer waive the remaining dispute window and settle
// immediately.
func (e *Engine) FinalizeEarly(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	return e.completeOrder(esc, NewOrderCompletedEvent(esc))
}

// AutoComplete settles a shipped order whose delivery deadline elapsed with no
// buyer confirmation, protecting the seller from an absent counterparty.
func (e *Engine) AutoComplete(id [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateShipped {
		return ErrInvalidState
	}
	if e.now() <= esc.ShippedAt+e.params.DeliveryDeadline {
		return ErrDeadlineNotReached
	}
	esc.DeliveredAt = e.now()
	return e.completeOrder(esc, NewOrderAutoCompletedEvent(esc))
}

func (e *Engine) completeOrder(esc *Escrow, evt *types.Event) error {
	if err := e.settleForSeller(esc); err != nil {
		return err
	}
	if err := e.recordSuccess(esc); err != nil {
		return err
	}
	esc.State = StateCompleted
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	evt.Attributes["state"] = esc.State.String()
	e.emit(evt)
	if esc.UsePrivateReputation {
		e.emit(NewReputationPendingEvent(esc))
	}
	return nil
}

// recordRuling applies the win/loss reputation updates after a dispute
// settles, emitting score updates unless the order is private.
func (e *Engine) recordRuling(winner, loser [20]byte, private bool) error {
	wonRec, err := e.reputation.RecordDisputeWon(winner, private)
	if err != nil {
		return err
	}
	lostRec, err := e.reputation.RecordDisputeLost(loser, private)
	if err != nil {
		return err
	}
	if !private {
		e.emit(reputation.NewScoreUpdatedEvent(wonRec))
		e.emit(reputation.NewScoreUpdatedEvent(lostRec))
	}
	return nil
}

// OpenDispute moves a delivered order into arbitration. Either party may
// contest within the dispute window.
func (e *Engine) OpenDispute(id [32]byte, initiator [20]byte, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return ErrInvalidState
	}
	if initiator != esc.Buyer && initiator != esc.Seller {
		return ErrUnauthorized
	}
	if e.now() > esc.DeliveredAt+e.params.DisputeWindow {
		return ErrDeadlineExpired
	}
	trimmed := strings.TrimSpace(reason)
	if len(trimmed) == 0 || len(trimmed) > MaxDisputeReasonLength {
		return ErrInvalidReason
	}
	esc.DisputeReason = trimmed
	esc.DisputeOpenedAt = e.now()
	esc.State = StateDisputed
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	if _, err := e.reputation.RecordDisputeOpened(initiator); err != nil {
		return err
	}
	e.emit(NewDisputeOpenedEvent(esc, initiator))
	return nil
}

// ResolveDispute settles a disputed order according to the arbiter's ruling.
// A buyer win refunds the order amount plus the forfeited seller stake; a
// seller win distributes exactly as a successful finalization. The treasury
// collects its fee either way.
func (e *Engine) ResolveDispute(id [32]byte, caller [20]byte, winner DisputeWinner) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateDisputed {
		return ErrInvalidState
	}
	if caller != esc.Arbiter {
		return ErrUnauthorized
	}
	if e.now() > esc.DisputeOpenedAt+e.params.ArbiterDeadline {
		return ErrDeadlineExpired
	}
	if !winner.Valid() {
		return ErrInvalidWinner
	}

	private := esc.UsePrivateReputation
	switch winner {
	case WinnerBuyer:
		principal := new(big.Int).Add(esc.Amount, esc.SellerStake)
		if err := e.release(esc, esc.Buyer, principal); err != nil {
			return err
		}
		if err := e.recordRuling(esc.Buyer, esc.Seller, private); err != nil {
			return err
		}
		esc.State = StateRefunded
	case WinnerSeller:
		if err := e.settleForSeller(esc); err != nil {
			return err
		}
		if err := e.recordRuling(esc.Seller, esc.Buyer, private); err != nil {
			return err
		}
		esc.State = StateCompleted
	}
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(esc, winner))
	if private {
		e.emit(NewReputationPendingEvent(esc))
	}
	return nil
}

// ReclaimExpired returns the full deposit (amount plus fee) to the buyer when
// no seller accepted before the acceptance deadline. This is the only
// transition out of the created state besides acceptance.
func (e *Engine) ReclaimExpired(id [32]byte, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateCreated {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	if e.now() <= esc.CreatedAt+e.params.AcceptanceDeadline {
		return ErrDeadlineNotReached
	}
	principal := new(big.Int).Add(esc.Amount, esc.PlatformFee)
	if err := e.release(esc, esc.Buyer, principal); err != nil {
		return err
	}
	esc.State = StateRefunded
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	e.emit(NewOrderRefundedEvent(esc, "acceptance timeout"))
	return nil
}

// ShippingTimeout refunds an accepted order whose seller never shipped. The
// seller forfeits the stake to the buyer and takes a dispute loss; anyone may
// trigger the timeout once the shipping deadline elapsed.
func (e *Engine) ShippingTimeout(id [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	esc, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if esc.State != StateAccepted {
		return ErrInvalidState
	}
	if e.now() <= esc.AcceptedAt+e.params.ShippingDeadline {
		return ErrDeadlineNotReached
	}
	principal := new(big.Int).Add(esc.Amount, esc.SellerStake)
	if err := e.release(esc, esc.Buyer, principal); err != nil {
		return err
	}
	private := esc.UsePrivateReputation
	buyerRec, err := e.reputation.RecordSuccess(esc.Buyer, private)
	if err != nil {
		return err
	}
	sellerRec, err := e.reputation.RecordDisputeLost(esc.Seller, private)
	if err != nil {
		return err
	}
	if !private {
		e.emit(reputation.NewScoreUpdatedEvent(buyerRec))
		e.emit(reputation.NewScoreUpdatedEvent(sellerRec))
	}
	esc.State = StateRefunded
	if err := e.storeOrder(esc); err != nil {
		return err
	}
	e.emit(NewOrderRefundedEvent(esc, "shipping timeout"))
	if private {
		e.emit(NewReputationPendingEvent(esc))
	}
	return nil
}

// ApplyPrivateReputation installs an externally computed score for a record
// left pending by a private settlement. Only the platform authority may apply
// results; verification of the off-process computation happens upstream.
func (e *Engine) ApplyPrivateReputation(caller, user [20]byte, score uint64) error {
	if e == nil || e.reputation == nil {
		return errNilReputation
	}
	if e.authority == ([20]byte{}) || caller != e.authority {
		return ErrUnauthorized
	}
	rec, err := e.reputation.ApplyPrivateResult(user, score)
	if err != nil {
		return err
	}
	e.emit(reputation.NewScoreAppliedEvent(rec))
	return nil
}
