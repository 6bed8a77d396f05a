// Package fileoperations stores replica and client wallets in files sealed with a password derived key.
package fileoperations

import (
	"errors"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize   = 16
	keySize    = 32
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
	walletPerm = 0o600
)

var (
	ErrEmptyPassword  = errors.New("wallet password is empty")
	ErrSealedTooShort = errors.New("sealed wallet file is too short")
)

// Config holds configuration of the file operator Helper.
type Config struct {
	WalletPath   string `yaml:"wallet_path"`   // wallet path to the wallet file
	WalletPasswd string `yaml:"wallet_passwd"` // wallet password the sealing key is derived from
}

// Helper holds all file operation methods.
type Helper struct {
	s   Sealer
	cfg Config
}

// New creates new Helper.
func New(cfg Config, s Sealer) Helper {
	return Helper{
		cfg: cfg,
		s:   s,
	}
}

func (h Helper) deriveKey(salt []byte) ([]byte, error) {
	if h.cfg.WalletPasswd == "" {
		return nil, ErrEmptyPassword
	}
	return scrypt.Key([]byte(h.cfg.WalletPasswd), salt, scryptN, scryptR, scryptP, keySize)
}
