package reputation

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

type memoryKV struct {
	entries map[string][]byte
}

func newMemoryKV() *memoryKV {
	return &memoryKV{entries: make(map[string][]byte)}
}

func (m *memoryKV) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.entries[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryKV) KVPut(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.entries[string(key)] = raw
	return nil
}

func testUser(fill byte) [20]byte {
	var user [20]byte
	for i := range user {
		user[i] = fill
	}
	return user
}

func TestTouchCreatesDefaultRecord(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)

	rec, err := ledger.Touch(user)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if rec.Score != DefaultScore {
		t.Fatalf("score = %d, want %d", rec.Score, DefaultScore)
	}
	if rec.TotalOrders != 0 {
		t.Fatalf("total orders = %d, want 0", rec.TotalOrders)
	}

	// Touch must not reset an existing record.
	if _, err := ledger.RecordSuccess(user, false); err != nil {
		t.Fatalf("record success: %v", err)
	}
	rec, err = ledger.Touch(user)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if rec.SuccessfulOrders != 1 {
		t.Fatalf("successful = %d, want 1", rec.SuccessfulOrders)
	}
}

func TestGetMissingRecord(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	_, ok, err := ledger.Get(testUser(0x09))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("missing record must report ok=false")
	}
}

func TestRecordSuccessUpdatesScore(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)

	rec, err := ledger.RecordSuccess(user, false)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if rec.Score != 100 {
		t.Fatalf("score = %d, want 100 (1 of 1 successful)", rec.Score)
	}
	if rec.TotalOrders != 1 || rec.SuccessfulOrders != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", rec.SuccessfulOrders, rec.TotalOrders)
	}
}

func TestDisputeScoring(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)

	if _, err := ledger.RecordSuccess(user, false); err != nil {
		t.Fatalf("success: %v", err)
	}
	rec, err := ledger.RecordDisputeWon(user, false)
	if err != nil {
		t.Fatalf("won: %v", err)
	}
	// 1 successful of 2 total, 1 won: 50 + 10.
	if rec.Score != 60 {
		t.Fatalf("score = %d, want 60", rec.Score)
	}
	rec, err = ledger.RecordDisputeLost(user, false)
	if err != nil {
		t.Fatalf("lost: %v", err)
	}
	// 1 of 3 total, 1 won, 1 lost: 33 + 10 - 50, clamped at zero.
	if rec.Score != 0 {
		t.Fatalf("score = %d, want 0", rec.Score)
	}
}

func TestScoreClampedAtZero(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)
	rec, err := ledger.RecordDisputeLost(user, false)
	if err != nil {
		t.Fatalf("lost: %v", err)
	}
	if rec.Score != 0 {
		t.Fatalf("score = %d, want 0", rec.Score)
	}
}

func TestPrivateMutationDefersScore(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)

	rec, err := ledger.RecordSuccess(user, true)
	if err != nil {
		t.Fatalf("private success: %v", err)
	}
	if !rec.ScorePending {
		t.Fatal("expected pending flag")
	}
	if rec.Score != 0 {
		t.Fatalf("score = %d, want 0 while pending", rec.Score)
	}
	if rec.SuccessfulOrders != 1 {
		t.Fatalf("counters must still advance: successful = %d", rec.SuccessfulOrders)
	}
}

func TestApplyPrivateResult(t *testing.T) {
	ledger := NewLedger(newMemoryKV())
	user := testUser(0x01)

	if _, err := ledger.ApplyPrivateResult(user, 700); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("apply without pending err = %v, want ErrNoPendingUpdate", err)
	}
	if _, err := ledger.RecordSuccess(user, true); err != nil {
		t.Fatalf("private success: %v", err)
	}
	if _, err := ledger.ApplyPrivateResult(user, MaxScore+1); !errors.Is(err, ErrScoreOutOfRange) {
		t.Fatalf("out of range err = %v, want ErrScoreOutOfRange", err)
	}
	rec, err := ledger.ApplyPrivateResult(user, 700)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.ScorePending {
		t.Fatal("pending flag must clear")
	}
	if rec.Score != 700 {
		t.Fatalf("score = %d, want 700", rec.Score)
	}
}

func TestNilLedger(t *testing.T) {
	ledger := NewLedger(nil)
	if _, err := ledger.Touch(testUser(0x01)); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("err = %v, want ErrNotInitialised", err)
	}
}
