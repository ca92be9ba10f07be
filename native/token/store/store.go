// Package store persists token ledgers in a storage.Database so balances
// held in custody survive a restart alongside the engine positions.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stablecore/native/token"
	"stablecore/storage"
)

var (
	tokenPrefix     = []byte("token/")
	supplyMarker    = []byte("s")
	balanceMarker   = []byte("b/")
	allowanceMarker = []byte("a/")
)

func tokenKey(addr common.Address) []byte {
	key := make([]byte, 0, len(tokenPrefix)+common.AddressLength+1)
	key = append(key, tokenPrefix...)
	key = append(key, addr.Bytes()...)
	return append(key, '/')
}

func supplyKey(addr common.Address) []byte {
	return append(tokenKey(addr), supplyMarker...)
}

func balanceKey(addr, holder common.Address) []byte {
	key := append(tokenKey(addr), balanceMarker...)
	return append(key, holder.Bytes()...)
}

func allowanceKey(addr common.Address, k token.AllowanceKey) []byte {
	key := append(tokenKey(addr), allowanceMarker...)
	key = append(key, k.Owner.Bytes()...)
	return append(key, k.Spender.Bytes()...)
}

func encodeAmount(v *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(v.ToBig())
}

func decodeAmount(raw []byte) (*uint256.Int, error) {
	var v big.Int
	if err := rlp.DecodeBytes(raw, &v); err != nil {
		return nil, err
	}
	word, overflow := uint256.FromBig(&v)
	if overflow {
		return nil, fmt.Errorf("stored amount exceeds 256 bits")
	}
	return word, nil
}

// KVStore implements token.Store over a key-value database.
type KVStore struct {
	db storage.Database
}

// NewKVStore wraps db.
func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

// Load reads every record stored for addr. A token with no records loads
// as an empty snapshot.
func (s *KVStore) Load(addr common.Address) (*token.Snapshot, error) {
	snap := &token.Snapshot{
		Supply:     new(uint256.Int),
		Balances:   make(map[common.Address]*uint256.Int),
		Allowances: make(map[token.AllowanceKey]*uint256.Int),
	}
	prefix := tokenKey(addr)
	err := s.db.Iterate(prefix, func(key, value []byte) error {
		amount, err := decodeAmount(value)
		if err != nil {
			return fmt.Errorf("store: decode %x: %w", key, err)
		}
		rest := key[len(prefix):]
		switch {
		case bytes.Equal(rest, supplyMarker):
			snap.Supply = amount
		case bytes.HasPrefix(rest, balanceMarker) && len(rest) == len(balanceMarker)+common.AddressLength:
			snap.Balances[common.BytesToAddress(rest[len(balanceMarker):])] = amount
		case bytes.HasPrefix(rest, allowanceMarker) && len(rest) == len(allowanceMarker)+2*common.AddressLength:
			pair := rest[len(allowanceMarker):]
			snap.Allowances[token.AllowanceKey{
				Owner:   common.BytesToAddress(pair[:common.AddressLength]),
				Spender: common.BytesToAddress(pair[common.AddressLength:]),
			}] = amount
		default:
			return fmt.Errorf("store: unexpected token key %x", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Write stores changes. Zero balances and allowances are deleted.
func (s *KVStore) Write(addr common.Address, changes *token.Changes) error {
	if changes == nil {
		return nil
	}
	if changes.Supply != nil {
		if err := s.put(supplyKey(addr), changes.Supply); err != nil {
			return fmt.Errorf("store: supply of %s: %w", addr.Hex(), err)
		}
	}
	for holder, bal := range changes.Balances {
		if err := s.put(balanceKey(addr, holder), bal); err != nil {
			return fmt.Errorf("store: balance of %s in %s: %w", holder.Hex(), addr.Hex(), err)
		}
	}
	for k, amount := range changes.Allowances {
		if err := s.put(allowanceKey(addr, k), amount); err != nil {
			return fmt.Errorf("store: allowance %s->%s in %s: %w", k.Owner.Hex(), k.Spender.Hex(), addr.Hex(), err)
		}
	}
	return nil
}

func (s *KVStore) put(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		if err := s.db.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	}
	raw, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}
