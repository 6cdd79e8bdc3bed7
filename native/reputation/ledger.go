package reputation

import (
	"errors"
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var recordPrefix = []byte("reputation/user/")

func recordKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, user))
}

var (
	// ErrNotInitialised marks ledgers constructed without a storage backend.
	ErrNotInitialised = errors.New("reputation: ledger not initialised")
	// ErrNoPendingUpdate rejects private score applications for records that
	// never entered the pending state.
	ErrNoPendingUpdate = errors.New("reputation: no private update pending")
	// ErrScoreOutOfRange rejects externally computed scores above MaxScore.
	ErrScoreOutOfRange = errors.New("reputation: score out of range")
)

// Ledger persists per-party reputation records. Records are created lazily on
// first participation and never deleted.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

type storedRecord struct {
	User             [20]byte
	TotalOrders      uint64
	SuccessfulOrders uint64
	DisputesOpened   uint64
	DisputesWon      uint64
	DisputesLost     uint64
	Score            uint64
	ScorePending     bool
}

func (l *Ledger) load(user [20]byte) (*Record, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrNotInitialised
	}
	var stored storedRecord
	ok, err := l.store.KVGet(recordKey(user), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Record{
		User:             stored.User,
		TotalOrders:      stored.TotalOrders,
		SuccessfulOrders: stored.SuccessfulOrders,
		DisputesOpened:   stored.DisputesOpened,
		DisputesWon:      stored.DisputesWon,
		DisputesLost:     stored.DisputesLost,
		Score:            stored.Score,
		ScorePending:     stored.ScorePending,
	}, true, nil
}

func (l *Ledger) save(rec *Record) error {
	if l == nil || l.store == nil {
		return ErrNotInitialised
	}
	if rec == nil {
		return errors.New("reputation: record required")
	}
	stored := storedRecord{
		User:             rec.User,
		TotalOrders:      rec.TotalOrders,
		SuccessfulOrders: rec.SuccessfulOrders,
		DisputesOpened:   rec.DisputesOpened,
		DisputesWon:      rec.DisputesWon,
		DisputesLost:     rec.DisputesLost,
		Score:            rec.Score,
		ScorePending:     rec.ScorePending,
	}
	return l.store.KVPut(recordKey(rec.User), &stored)
}

// Get fetches the record for user.
func (l *Ledger) Get(user [20]byte) (*Record, bool, error) {
	return l.load(user)
}

// Touch returns the record for user, creating it with the default score on
// first participation.
func (l *Ledger) Touch(user [20]byte) (*Record, error) {
	rec, ok, err := l.load(user)
	if err != nil {
		return nil, err
	}
	if ok {
		return rec, nil
	}
	rec = &Record{User: user, Score: DefaultScore}
	if err := l.save(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// mutate applies fn to the (lazily created) record, then refreshes the
// plaintext score. When private is set the plaintext score is zeroed instead
// and the record is flagged pending until an externally verified score
// arrives.
func (l *Ledger) mutate(user [20]byte, private bool, fn func(*Record)) (*Record, error) {
	rec, ok, err := l.load(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec = &Record{User: user, Score: DefaultScore}
	}
	fn(rec)
	if private {
		rec.Score = 0
		rec.ScorePending = true
	} else {
		rec.Score = rec.DerivedScore()
	}
	if err := l.save(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// RecordSuccess counts a successfully settled order for user.
func (l *Ledger) RecordSuccess(user [20]byte, private bool) (*Record, error) {
	return l.mutate(user, private, func(rec *Record) {
		rec.TotalOrders++
		rec.SuccessfulOrders++
	})
}

// RecordDisputeOpened counts a dispute initiated by user. Opening a dispute
// does not resettle the score; only the resolution does.
func (l *Ledger) RecordDisputeOpened(user [20]byte) (*Record, error) {
	rec, ok, err := l.load(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec = &Record{User: user, Score: DefaultScore}
	}
	rec.DisputesOpened++
	if err := l.save(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// RecordDisputeWon counts a dispute resolved in user's favour.
func (l *Ledger) RecordDisputeWon(user [20]byte, private bool) (*Record, error) {
	return l.mutate(user, private, func(rec *Record) {
		rec.TotalOrders++
		rec.DisputesWon++
	})
}

// RecordDisputeLost counts a dispute resolved against user.
func (l *Ledger) RecordDisputeLost(user [20]byte, private bool) (*Record, error) {
	return l.mutate(user, private, func(rec *Record) {
		rec.TotalOrders++
		rec.DisputesLost++
	})
}

// ApplyPrivateResult installs the externally computed score for a record left
// pending by a private-reputation settlement. The counters are authoritative
// on this ledger; only the score arrives from outside.
func (l *Ledger) ApplyPrivateResult(user [20]byte, score uint64) (*Record, error) {
	if score > MaxScore {
		return nil, ErrScoreOutOfRange
	}
	rec, ok, err := l.load(user)
	if err != nil {
		return nil, err
	}
	if !ok || !rec.ScorePending {
		return nil, ErrNoPendingUpdate
	}
	rec.Score = score
	rec.ScorePending = false
	if err := l.save(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}
