// Package store persists DSC positions in a storage.Database using RLP
// encoded records.
package store

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"stablecore/native/dsc"
	"stablecore/storage"
)

var positionPrefix = []byte("dsc/position/")

func positionKey(user common.Address) []byte {
	key := make([]byte, 0, len(positionPrefix)+common.AddressLength)
	key = append(key, positionPrefix...)
	return append(key, user.Bytes()...)
}

type positionRecord struct {
	User    common.Address
	Assets  []common.Address
	Amounts []*big.Int
	Debt    *big.Int
}

func encodePosition(pos *dsc.Position) ([]byte, error) {
	record := positionRecord{User: pos.User, Debt: pos.Debt()}
	for _, asset := range pos.Assets() {
		record.Assets = append(record.Assets, asset)
		record.Amounts = append(record.Amounts, pos.CollateralOf(asset))
	}
	return rlp.EncodeToBytes(&record)
}

func decodePosition(raw []byte) (*dsc.Position, error) {
	var record positionRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, err
	}
	if len(record.Assets) != len(record.Amounts) {
		return nil, fmt.Errorf("store: position %s has %d assets and %d amounts", record.User.Hex(), len(record.Assets), len(record.Amounts))
	}
	pos := dsc.NewPosition(record.User)
	for i, asset := range record.Assets {
		pos.Collateral[asset] = new(big.Int).Set(record.Amounts[i])
	}
	if record.Debt != nil {
		pos.DebtMinted = new(big.Int).Set(record.Debt)
	}
	return pos, nil
}

// KVState implements the engine state over a key-value database.
type KVState struct {
	db storage.Database
}

// NewKVState wraps db.
func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

// GetPosition returns the stored position for user or nil when none exists.
func (s *KVState) GetPosition(user common.Address) (*dsc.Position, error) {
	raw, err := s.db.Get(positionKey(user))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load position %s: %w", user.Hex(), err)
	}
	return decodePosition(raw)
}

// PutPosition writes position.
func (s *KVState) PutPosition(position *dsc.Position) error {
	if position == nil {
		return fmt.Errorf("store: nil position")
	}
	raw, err := encodePosition(position)
	if err != nil {
		return fmt.Errorf("store: encode position %s: %w", position.User.Hex(), err)
	}
	return s.db.Put(positionKey(position.User), raw)
}

// ForEachPosition visits every stored position in key order.
func (s *KVState) ForEachPosition(fn func(*dsc.Position) error) error {
	return s.db.Iterate(positionPrefix, func(_, value []byte) error {
		pos, err := decodePosition(value)
		if err != nil {
			return err
		}
		return fn(pos)
	})
}
