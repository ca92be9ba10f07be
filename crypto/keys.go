// Package crypto manages the secp256k1 keys operators use to identify
// themselves to the engine API.
package crypto

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var errNilKey = errors.New("crypto: nil private key")

// PrivateKey wraps an ECDSA key on the secp256k1 curve.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// GeneratePrivateKey creates a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex-encoded key with or without the 0x prefix.
func PrivateKeyFromHex(raw string) (*PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// Hex returns the 0x-prefixed scalar.
func (k *PrivateKey) Hex() string {
	return hexutil.Encode(k.Bytes())
}

// Address derives the account address controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}
