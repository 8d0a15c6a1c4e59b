package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidMnemonic is returned for a mnemonic failing BIP39 checks.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrWrongPassword is returned when a seed file fails to decrypt.
	ErrWrongPassword = errors.New("failed to decrypt seed (wrong password?)")
)

// Argon2id parameters for the seed file key.
const (
	argon2Time        = 3
	argon2Memory      = 64 * 1024
	argon2Parallelism = 4
	argon2KeyLen      = 32
	argon2SaltLen     = 32

	// MinPasswordLength is the shortest accepted seed password.
	MinPasswordLength = 8
)

// SeedFile is an Argon2id + AES-256-GCM encrypted mnemonic on disk.
type SeedFile struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

func (s *SeedFile) gcm(password string) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), s.Salt, s.Time, s.Memory, s.Parallelism, argon2KeyLen)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptMnemonic seals mnemonic under password.
func EncryptMnemonic(mnemonic, password string) (*SeedFile, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	sf := &SeedFile{
		Version:     1,
		Salt:        make([]byte, argon2SaltLen),
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}
	if _, err := rand.Read(sf.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := sf.gcm(password)
	if err != nil {
		return nil, err
	}
	sf.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(sf.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sf.Ciphertext = gcm.Seal(nil, sf.Nonce, []byte(mnemonic), nil)

	return sf, nil
}

// Decrypt opens the seed file with password.
func (s *SeedFile) Decrypt(password string) (string, error) {
	gcm, err := s.gcm(password)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	defer clear(plaintext)

	return string(plaintext), nil
}

// Save writes the seed file with 0600 permissions.
func (s *SeedFile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal seed file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}
	return nil
}

// LoadSeedFile reads a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var sf SeedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &sf, nil
}
