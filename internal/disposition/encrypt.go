package disposition

import (
	"fmt"
	"os"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// Encryptor encrypts suspect-file bytes for hazard archiving.
type Encryptor interface {
	Encrypt(data []byte) ([]byte, error)
}

// GPGEncryptor encrypts with an OpenPGP public key, grounded on
// gopenpgp/v2 the same way the cargoship reference manifest in the
// retrieval pack depends on it for archive encryption.
type GPGEncryptor struct {
	keyRing *crypto.KeyRing
}

// NewGPGEncryptor loads an armored public key from keyPath and builds
// the keyring used for every subsequent Encrypt call.
func NewGPGEncryptor(keyPath string) (*GPGEncryptor, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read hazard encryption key %s: %w", keyPath, err)
	}

	key, err := crypto.NewKeyFromArmored(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parse hazard encryption key %s: %w", keyPath, err)
	}

	keyRing, err := crypto.NewKeyRing(key)
	if err != nil {
		return nil, fmt.Errorf("build hazard encryption keyring: %w", err)
	}

	return &GPGEncryptor{keyRing: keyRing}, nil
}

// Encrypt implements Encryptor.
func (e *GPGEncryptor) Encrypt(data []byte) ([]byte, error) {
	message := crypto.NewPlainMessage(data)
	encrypted, err := e.keyRing.Encrypt(message, nil)
	if err != nil {
		return nil, fmt.Errorf("gpg encrypt: %w", err)
	}
	return encrypted.GetBinary(), nil
}
