package fileoperations

import (
	"crypto/rand"
	"errors"
	"os"

	"github.com/bartossh/echoledger/wallet"
)

// Sealer offers behaviour to seal the bytes returning the signature on the data.
type Sealer interface {
	Encrypt(key, data []byte) ([]byte, error)
	Decrypt(key, data []byte) ([]byte, error)
}

// ReadWallet reads wallet from the file.
// The file holds the scrypt salt followed by the sealed GOB encoded wallet.
func (h Helper) ReadWallet() (wallet.Wallet, error) {
	raw, err := os.ReadFile(h.cfg.WalletPath)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if len(raw) <= saltSize {
		return wallet.Wallet{}, ErrSealedTooShort
	}

	key, err := h.deriveKey(raw[:saltSize])
	if err != nil {
		return wallet.Wallet{}, err
	}

	opened, err := h.s.Decrypt(key, raw[saltSize:])
	if err != nil {
		return wallet.Wallet{}, err
	}

	return wallet.DecodeGOBWallet(opened)
}

// SaveWallet saves wallet to the file.
func (h Helper) SaveWallet(w wallet.Wallet) error {
	raw, err := w.EncodeGOB()
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errors.Join(errors.New("cannot create salt"), err)
	}

	key, err := h.deriveKey(salt)
	if err != nil {
		return err
	}

	closed, err := h.s.Encrypt(key, raw)
	if err != nil {
		return err
	}

	return os.WriteFile(h.cfg.WalletPath, append(salt, closed...), walletPerm)
}
