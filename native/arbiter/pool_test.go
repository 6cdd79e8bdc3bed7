package arbiter

import (
	"errors"
	"math/big"
	"testing"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestAddAuthorityOnly(t *testing.T) {
	authority := testAddr(0xAD)
	pool := NewPool(authority)

	if err := pool.Add(testAddr(0x01), testAddr(0x02), big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := pool.Add(authority, testAddr(0x02), big.NewInt(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if pool.Len() != 1 {
		t.Fatalf("len = %d, want 1", pool.Len())
	}
}

func TestAddValidation(t *testing.T) {
	authority := testAddr(0xAD)
	pool := NewPool(authority)
	member := testAddr(0x02)

	if err := pool.Add(authority, member, big.NewInt(0)); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("zero stake err = %v, want ErrInvalidStake", err)
	}
	if err := pool.Add(authority, member, nil); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("nil stake err = %v, want ErrInvalidStake", err)
	}
	if err := pool.Add(authority, member, big.NewInt(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(authority, member, big.NewInt(200)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate err = %v, want ErrAlreadyRegistered", err)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	pool := NewPool(testAddr(0xAD))
	if _, err := pool.Select(7); !errors.Is(err, ErrNoArbitersAvailable) {
		t.Fatalf("err = %v, want ErrNoArbitersAvailable", err)
	}
}

func TestSelectDeterministicModulo(t *testing.T) {
	authority := testAddr(0xAD)
	pool := NewPool(authority)
	members := [][20]byte{testAddr(0x01), testAddr(0x02), testAddr(0x03)}
	for _, m := range members {
		if err := pool.Add(authority, m, big.NewInt(100)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	for seed := uint64(0); seed < 9; seed++ {
		got, err := pool.Select(seed)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		want := members[seed%3]
		if got != want {
			t.Fatalf("select(%d) = %x, want %x", seed, got, want)
		}
	}
}

func TestMembersCopy(t *testing.T) {
	authority := testAddr(0xAD)
	pool := NewPool(authority)
	if err := pool.Add(authority, testAddr(0x01), big.NewInt(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	members := pool.Members()
	members[0].Stake.SetInt64(999_999)

	fresh := pool.Members()
	if fresh[0].Stake.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("stake = %s, want 100 (pool state must not leak)", fresh[0].Stake)
	}
}
