package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// ErrKeystoreExists is returned when SaveToKeystore would overwrite a file
// without being asked to.
var ErrKeystoreExists = errors.New("crypto: keystore already exists")

// SaveToKeystore encrypts key into an Ethereum v3 keystore file at path. The
// parent directory is created with 0700 permissions and the file is written
// with 0600.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, overwrite bool) error {
	if key == nil || key.PrivateKey == nil {
		return errNilKey
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%w: %s", ErrKeystoreExists, path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	id, err := keystoreID()
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    key.Address(),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

func keystoreID() (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("crypto: keystore id: %w", err)
	}
	return id, nil
}
