package arbiter

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrNoArbitersAvailable is returned when selection runs against an empty
	// pool. An empty pool is a fatal deployment error for order creation.
	ErrNoArbitersAvailable = errors.New("arbiter: no arbiters available")
	// ErrAlreadyRegistered rejects duplicate pool entries.
	ErrAlreadyRegistered = errors.New("arbiter: already registered")
	// ErrInvalidStake rejects registrations without a positive stake.
	ErrInvalidStake = errors.New("arbiter: stake must be positive")
	// ErrUnauthorized marks pool mutations from anyone but the authority.
	ErrUnauthorized = errors.New("arbiter: caller is not the pool authority")
)

// Member is one arbiter eligible to resolve disputes, together with the stake
// backing their accountability.
type Member struct {
	Address [20]byte
	Stake   *big.Int
}

// Pool is the append-only registry of dispute arbiters. Members are never
// removed; selection is a pure function of the supplied seed.
type Pool struct {
	mu        sync.RWMutex
	authority [20]byte
	members   []Member
}

// NewPool constructs an empty pool administered by authority.
func NewPool(authority [20]byte) *Pool {
	return &Pool{authority: authority}
}

// Add registers a new arbiter. Only the pool authority may register members.
func (p *Pool) Add(caller, address [20]byte, stake *big.Int) error {
	if p == nil {
		return ErrUnauthorized
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.authority {
		return ErrUnauthorized
	}
	if stake == nil || stake.Sign() <= 0 {
		return ErrInvalidStake
	}
	for _, member := range p.members {
		if member.Address == address {
			return ErrAlreadyRegistered
		}
	}
	p.members = append(p.members, Member{Address: address, Stake: new(big.Int).Set(stake)})
	return nil
}

// Len reports the number of registered arbiters.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Members returns a copy of the registry.
func (p *Pool) Members() []Member {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Member, len(p.members))
	for i, member := range p.members {
		out[i] = Member{Address: member.Address, Stake: new(big.Int).Set(member.Stake)}
	}
	return out
}

// Select picks the arbiter at seed mod pool size. The seed is supplied by the
// caller so deployments can source it from an unpredictable beacon rather than
// the wall clock.
func (p *Pool) Select(seed uint64) ([20]byte, error) {
	if p == nil {
		return [20]byte{}, ErrNoArbitersAvailable
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.members) == 0 {
		return [20]byte{}, ErrNoArbitersAvailable
	}
	idx := seed % uint64(len(p.members))
	return p.members[idx].Address, nil
}
