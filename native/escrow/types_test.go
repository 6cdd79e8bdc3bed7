package escrow

import (
	"math/big"
	"testing"
)

func TestOrderKeyDeterministic(t *testing.T) {
	buyer := newTestAddress(0x01)
	first := OrderKey(buyer, 42)
	second := OrderKey(buyer, 42)
	if first != second {
		t.Fatal("order key must be deterministic")
	}
	if first == OrderKey(buyer, 43) {
		t.Fatal("different order IDs must map to different keys")
	}
	if first == OrderKey(newTestAddress(0x02), 42) {
		t.Fatal("different buyers must map to different keys")
	}
}

func TestStateTransitionsMetadata(t *testing.T) {
	terminal := map[EscrowState]bool{
		StateCreated:   false,
		StateAccepted:  false,
		StateShipped:   false,
		StateDelivered: false,
		StateDisputed:  false,
		StateCompleted: true,
		StateRefunded:  true,
	}
	for state, want := range terminal {
		if !state.Valid() {
			t.Fatalf("state %d must be valid", state)
		}
		if state.Terminal() != want {
			t.Fatalf("state %s terminal = %v, want %v", state, state.Terminal(), want)
		}
	}
	if EscrowState(0).Valid() || EscrowState(8).Valid() {
		t.Fatal("out-of-range states must be invalid")
	}
}

func TestSanitizeEscrow(t *testing.T) {
	base := func() *Escrow {
		return &Escrow{
			ID:     OrderKey(newTestAddress(0x01), 1),
			Buyer:  newTestAddress(0x01),
			Asset:  "csol",
			Amount: big.NewInt(100),
			State:  StateCreated,
		}
	}

	sanitized, err := SanitizeEscrow(base())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Asset != "CSOL" {
		t.Fatalf("asset = %q, want canonical CSOL", sanitized.Asset)
	}
	if sanitized.SellerStake == nil || sanitized.PlatformFee == nil {
		t.Fatal("nil economics must be normalised to zero")
	}

	zero := base()
	zero.Amount = big.NewInt(0)
	if _, err := SanitizeEscrow(zero); err == nil {
		t.Fatal("zero amount must be rejected")
	}

	badState := base()
	badState.State = EscrowState(99)
	if _, err := SanitizeEscrow(badState); err == nil {
		t.Fatal("invalid state must be rejected")
	}

	longReason := base()
	longReason.DisputeReason = string(make([]byte, MaxDisputeReasonLength+1))
	if _, err := SanitizeEscrow(longReason); err == nil {
		t.Fatal("oversized dispute reason must be rejected")
	}
}

func TestSanitizeDoesNotMutateOriginal(t *testing.T) {
	esc := &Escrow{
		ID:     OrderKey(newTestAddress(0x01), 1),
		Buyer:  newTestAddress(0x01),
		Asset:  "csol",
		Amount: big.NewInt(100),
		State:  StateCreated,
	}
	if _, err := SanitizeEscrow(esc); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if esc.Asset != "csol" {
		t.Fatal("sanitize must work on a clone")
	}
}

func TestParamsValidate(t *testing.T) {
	valid := defaultParams()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	tooHighFee := valid
	tooHighFee.FeeBps = 10_001
	if err := tooHighFee.Validate(); err == nil {
		t.Fatal("fee above 100% must be rejected")
	}

	zeroDeadline := valid
	zeroDeadline.DisputeWindow = 0
	if err := zeroDeadline.Validate(); err == nil {
		t.Fatal("zero deadline must be rejected")
	}
}

func TestBpsShareTruncates(t *testing.T) {
	cases := []struct {
		value int64
		bps   uint32
		want  int64
	}{
		{value: 1000, bps: 250, want: 25},
		{value: 1000, bps: 1000, want: 100},
		{value: 999, bps: 250, want: 24},
		{value: 1, bps: 250, want: 0},
		{value: 1000, bps: 0, want: 0},
	}
	for _, tc := range cases {
		got := bpsShare(big.NewInt(tc.value), tc.bps)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("bpsShare(%d, %d) = %s, want %d", tc.value, tc.bps, got, tc.want)
		}
	}
}

func TestCloneDeepCopies(t *testing.T) {
	esc := &Escrow{
		Amount:            big.NewInt(100),
		SellerStake:       big.NewInt(10),
		PlatformFee:       big.NewInt(2),
		EncryptedShipping: []byte{1, 2, 3},
	}
	clone := esc.Clone()
	clone.Amount.SetInt64(999)
	clone.EncryptedShipping[0] = 0xFF
	if esc.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("amount must be deep copied")
	}
	if esc.EncryptedShipping[0] != 1 {
		t.Fatal("shipping ciphertext must be deep copied")
	}
}
