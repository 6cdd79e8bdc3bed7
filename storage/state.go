package storage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"

	"veilmarket/confidential"
	"veilmarket/native/escrow"
)

var (
	bucketEscrows = []byte("escrows")
	bucketKV      = []byte("kv")
)

// ErrClosed marks operations against a store that was already closed.
var ErrClosed = errors.New("storage: store closed")

// Store persists order records and module key/value state in a bbolt file.
// All values are RLP encoded.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures the buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEscrows, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// storedEscrow is the on-disk shape of an order record. RLP has no signed
// integer support, so timestamps are stored as uint64 seconds.
type storedEscrow struct {
	ID                   [32]byte
	OrderID              uint64
	Buyer                [20]byte
	Seller               [20]byte
	Arbiter              [20]byte
	Asset                string
	Amount               *big.Int
	SellerStake          *big.Int
	PlatformFee          *big.Int
	AmountCommitment     [32]byte
	EncryptedShipping    []byte
	ShippingNonce        [16]byte
	Custody              [32]byte
	State                uint8
	CreatedAt            uint64
	AcceptedAt           uint64
	ShippedAt            uint64
	DeliveredAt          uint64
	DisputeOpenedAt      uint64
	TrackingNumber       string
	DisputeReason        string
	UsePrivateReputation bool
}

func toStored(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:                   e.ID,
		OrderID:              e.OrderID,
		Buyer:                e.Buyer,
		Seller:               e.Seller,
		Arbiter:              e.Arbiter,
		Asset:                e.Asset,
		Amount:               e.Amount,
		SellerStake:          e.SellerStake,
		PlatformFee:          e.PlatformFee,
		AmountCommitment:     e.AmountCommitment,
		EncryptedShipping:    e.EncryptedShipping,
		ShippingNonce:        e.ShippingNonce,
		Custody:              [32]byte(e.Custody),
		State:                uint8(e.State),
		CreatedAt:            uint64(e.CreatedAt),
		AcceptedAt:           uint64(e.AcceptedAt),
		ShippedAt:            uint64(e.ShippedAt),
		DeliveredAt:          uint64(e.DeliveredAt),
		DisputeOpenedAt:      uint64(e.DisputeOpenedAt),
		TrackingNumber:       e.TrackingNumber,
		DisputeReason:        e.DisputeReason,
		UsePrivateReputation: e.UsePrivateReputation,
	}
}

func fromStored(s *storedEscrow) *escrow.Escrow {
	return &escrow.Escrow{
		ID:                   s.ID,
		OrderID:              s.OrderID,
		Buyer:                s.Buyer,
		Seller:               s.Seller,
		Arbiter:              s.Arbiter,
		Asset:                s.Asset,
		Amount:               s.Amount,
		SellerStake:          s.SellerStake,
		PlatformFee:          s.PlatformFee,
		AmountCommitment:     s.AmountCommitment,
		EncryptedShipping:    s.EncryptedShipping,
		ShippingNonce:        s.ShippingNonce,
		Custody:              confidential.AccountID(s.Custody),
		State:                escrow.EscrowState(s.State),
		CreatedAt:            int64(s.CreatedAt),
		AcceptedAt:           int64(s.AcceptedAt),
		ShippedAt:            int64(s.ShippedAt),
		DeliveredAt:          int64(s.DeliveredAt),
		DisputeOpenedAt:      int64(s.DisputeOpenedAt),
		TrackingNumber:       s.TrackingNumber,
		DisputeReason:        s.DisputeReason,
		UsePrivateReputation: s.UsePrivateReputation,
	}
}

// EscrowPut sanitizes and persists the order record.
func (s *Store) EscrowPut(e *escrow.Escrow) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(toStored(sanitized))
	if err != nil {
		return fmt.Errorf("storage: encode escrow: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEscrows).Put(sanitized.ID[:], raw)
	})
}

// EscrowGet loads an order record by ID.
func (s *Store) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	if s == nil || s.db == nil {
		return nil, false
	}
	var stored storedEscrow
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEscrows).Get(id[:])
		if raw == nil {
			return nil
		}
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false
	}
	return fromStored(&stored), true
}

// EscrowList returns every persisted order record.
func (s *Store) EscrowList() ([]*escrow.Escrow, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var out []*escrow.Escrow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEscrows).ForEach(func(_, raw []byte) error {
			var stored storedEscrow
			if err := rlp.DecodeBytes(raw, &stored); err != nil {
				return err
			}
			out = append(out, fromStored(&stored))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// KVPut RLP-encodes value under key in the shared module bucket.
func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put(key, raw)
	})
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketKV).Get(key)
		if raw == nil {
			return nil
		}
		if err := rlp.DecodeBytes(raw, out); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
