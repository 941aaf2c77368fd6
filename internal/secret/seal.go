package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/klingon-exchange/swapclient/pkg/helpers"
)

// Argon2 parameters (OWASP recommended for password hashing)
const (
	argon2Time        = 3         // Number of iterations
	argon2Memory      = 64 * 1024 // 64 MB memory
	argon2Parallelism = 4         // Parallel threads
	argon2KeyLen      = 32        // Output key length for AES-256
	argon2SaltLen     = 32        // Salt length
)

var (
	// ErrWrongPassphrase means sealed material exists but cannot be opened.
	// The material is kept; it is never treated as absent.
	ErrWrongPassphrase = errors.New("wrong passphrase or tampered key material")

	// ErrNotSealed means the blob is not a sealed box at all.
	ErrNotSealed = errors.New("not a sealed box")
)

// sealedBox is the at-rest form of sealed key material.
type sealedBox struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// Sealer encrypts key material and secrets at rest with Argon2id and
// AES-256-GCM.
type Sealer struct {
	passphrase  []byte
	time        uint32
	memory      uint32
	parallelism uint8
}

// NewSealer creates a sealer for a passphrase.
func NewSealer(passphrase string) *Sealer {
	return &Sealer{
		passphrase:  []byte(passphrase),
		time:        argon2Time,
		memory:      argon2Memory,
		parallelism: argon2Parallelism,
	}
}

func (s *Sealer) gcm(salt []byte, time, memory uint32, parallelism uint8) (cipher.AEAD, error) {
	key := argon2.IDKey(s.passphrase, salt, time, memory, parallelism, argon2KeyLen)
	defer helpers.Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into a self-describing blob.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt, err := helpers.GenerateSecureRandom(argon2SaltLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := s.gcm(salt, s.time, s.memory, s.parallelism)
	if err != nil {
		return nil, err
	}
	nonce, err := helpers.GenerateSecureRandom(gcm.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return json.Marshal(&sealedBox{
		Version:     1,
		Ciphertext:  gcm.Seal(nil, nonce, plaintext, nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        s.time,
		Memory:      s.memory,
		Parallelism: s.parallelism,
	})
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	box, ok := parseBox(blob)
	if !ok {
		return nil, ErrNotSealed
	}

	gcm, err := s.gcm(box.Salt, box.Time, box.Memory, box.Parallelism)
	if err != nil {
		return nil, err
	}
	if len(box.Nonce) != gcm.NonceSize() {
		return nil, ErrNotSealed
	}
	plaintext, err := gcm.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// IsSealed reports whether blob has the shape of a sealed box, whatever the
// passphrase that sealed it.
func IsSealed(blob []byte) bool {
	_, ok := parseBox(blob)
	return ok
}

func parseBox(blob []byte) (*sealedBox, bool) {
	var box sealedBox
	if err := json.Unmarshal(blob, &box); err != nil || box.Version != 1 || len(box.Salt) == 0 {
		return nil, false
	}
	if box.Time == 0 || box.Memory == 0 || box.Parallelism == 0 {
		return nil, false
	}
	return &box, true
}
