package escrow

import (
	"encoding/hex"
	"strconv"
	"strings"

	"veilmarket/core/types"
)

const (
	EventTypeOrderCreated       = "escrow.order.created"
	EventTypeOrderAccepted      = "escrow.order.accepted"
	EventTypeOrderShipped       = "escrow.order.shipped"
	EventTypeOrderDelivered     = "escrow.order.delivered"
	EventTypeOrderCompleted     = "escrow.order.completed"
	EventTypeOrderAutoCompleted = "escrow.order.autoCompleted"
	EventTypeOrderRefunded      = "escrow.order.refunded"
	EventTypeDisputeOpened      = "escrow.dispute.opened"
	EventTypeDisputeResolved    = "escrow.dispute.resolved"
	// EventTypeReputationPending signals that an external encrypted
	// reputation computation must run for the order's parties.
	EventTypeReputationPending = "escrow.reputation.pending"
)

// NewOrderCreatedEvent returns the canonical payload for a newly created
// order.
func NewOrderCreatedEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderCreated, e, "")
}

// NewOrderAcceptedEvent returns the payload emitted when a seller accepts an
// order and posts their stake.
func NewOrderAcceptedEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderAccepted, e, "")
}

// NewOrderShippedEvent returns the payload emitted when the seller marks the
// order shipped.
func NewOrderShippedEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderShipped, e, "")
}

// NewOrderDeliveredEvent returns the payload emitted when the buyer confirms
// delivery.
func NewOrderDeliveredEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderDelivered, e, "")
}

// NewOrderCompletedEvent returns the payload emitted when custody settles in
// the seller's favour.
func NewOrderCompletedEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderCompleted, e, "")
}

// NewOrderAutoCompletedEvent returns the payload emitted when a shipped order
// settles because the delivery deadline elapsed.
func NewOrderAutoCompletedEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeOrderAutoCompleted, e, "")
}

// NewOrderRefundedEvent returns the payload emitted when custody returns to
// the buyer. The reason distinguishes reclaim, timeout and dispute refunds.
func NewOrderRefundedEvent(e *Escrow, reason string) *types.Event {
	return newOrderEvent(EventTypeOrderRefunded, e, reason)
}

// NewDisputeOpenedEvent returns the payload emitted when a party contests a
// delivered order.
func NewDisputeOpenedEvent(e *Escrow, initiator [20]byte) *types.Event {
	evt := newOrderEvent(EventTypeDisputeOpened, e, "")
	evt.Attributes["initiator"] = hex.EncodeToString(initiator[:])
	return evt
}

// NewDisputeResolvedEvent returns the payload emitted when the arbiter rules.
func NewDisputeResolvedEvent(e *Escrow, winner DisputeWinner) *types.Event {
	evt := newOrderEvent(EventTypeDisputeResolved, e, "")
	evt.Attributes["winner"] = winner.String()
	return evt
}

// NewReputationPendingEvent returns the payload signalling that the parties'
// scores must be computed off-process for a private-reputation order.
func NewReputationPendingEvent(e *Escrow) *types.Event {
	return newOrderEvent(EventTypeReputationPending, e, "")
}

func newOrderEvent(eventType string, e *Escrow, reason string) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(e.ID[:])
	attrs["orderId"] = strconv.FormatUint(e.OrderID, 10)
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	if e.Seller != ([20]byte{}) {
		attrs["seller"] = hex.EncodeToString(e.Seller[:])
	}
	attrs["arbiter"] = hex.EncodeToString(e.Arbiter[:])
	attrs["asset"] = e.Asset
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	attrs["state"] = e.State.String()
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		attrs["reason"] = trimmed
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// orderEvent adapts a types.Event to the events.Emitter contract.
type orderEvent struct {
	evt *types.Event
}

func (e orderEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e orderEvent) Event() *types.Event { return e.evt }
