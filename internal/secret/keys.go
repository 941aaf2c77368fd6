package secret

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/pkg/helpers"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// KeypairKey is the well-known storage key of the signing key.
const KeypairKey = "swap_keypair"

var (
	// ErrCorruptKey means persisted key material could not be decoded.
	ErrCorruptKey = errors.New("corrupt key material")

	// ErrSealedKey means the persisted key is sealed but no passphrase is
	// configured. The key is kept.
	ErrSealedKey = errors.New("key material is sealed and no passphrase is configured")

	// ErrInvalidMnemonic is a validation error for mnemonic import.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// KeyPair is the client's long-lived secp256k1 key used to author refunds
// and claims. The private key never leaves this process.
type KeyPair struct {
	priv *btcec.PrivateKey
}

// PrivateKey returns the private key.
func (k *KeyPair) PrivateKey() *btcec.PrivateKey {
	return k.priv
}

// PublicKey returns the public key.
func (k *KeyPair) PublicKey() *btcec.PublicKey {
	return k.priv.PubKey()
}

// PublicKeyHex returns the 33-byte compressed public key, hex-encoded.
func (k *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.priv.PubKey().SerializeCompressed())
}

// EVMAddress returns the Ethereum address controlled by the key.
func (k *KeyPair) EVMAddress() common.Address {
	uncompressed := k.priv.PubKey().SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:])
}

// KeyManager loads, creates and persists the signing key for one wallet
// identity. All access is serialized so concurrent first calls create a
// single key.
type KeyManager struct {
	store   storage.Store
	sealer  *Sealer
	network chain.Network
	clock   clock.Clock
	log     *logging.Logger

	mu     sync.Mutex
	cached *KeyPair
}

// Option configures a KeyManager.
type Option func(*KeyManager)

// WithSealer encrypts key material at rest.
func WithSealer(s *Sealer) Option {
	return func(m *KeyManager) { m.sealer = s }
}

// WithNetwork sets the network used for mnemonic derivation.
func WithNetwork(n chain.Network) Option {
	return func(m *KeyManager) { m.network = n }
}

// WithClock sets the clock used to name backups of corrupt key material.
func WithClock(c clock.Clock) Option {
	return func(m *KeyManager) { m.clock = c }
}

// NewKeyManager creates a key manager over a wallet-scoped store.
func NewKeyManager(store storage.Store, opts ...Option) *KeyManager {
	m := &KeyManager{
		store:   store,
		network: chain.Mainnet,
		clock:   clock.NewDefaultClock(),
		log:     logging.GetDefault().Component("keys"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sealer returns the configured sealer, or nil.
func (m *KeyManager) Sealer() *Sealer {
	return m.sealer
}

// LoadKeypair returns the persisted key. It returns storage.ErrNotFound when
// no key exists, ErrCorruptKey when the stored bytes are not a valid key,
// ErrSealedKey when the key is sealed and no sealer is configured and
// ErrWrongPassphrase when sealed material cannot be opened. It never writes.
func (m *KeyManager) LoadKeypair() (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.store.Get(KeypairKey)
	if err != nil {
		return nil, err
	}
	kp, _, err := m.decode(raw)
	return kp, err
}

// GetOrCreateKeypair returns the persisted key, creating and persisting one
// on first use. Corrupt material is set aside and replaced with a fresh key.
// A wrong or missing passphrase is returned as an error; the sealed key is
// kept. A key stored in the clear is sealed once a sealer is configured.
func (m *KeyManager) GetOrCreateKeypair() (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	raw, err := m.store.Get(KeypairKey)
	switch {
	case err == nil:
		kp, plaintext, decodeErr := m.decode(raw)
		if decodeErr == nil {
			if plaintext && m.sealer != nil {
				if err := m.persist(kp); err != nil {
					return nil, err
				}
				m.log.Info("Sealed signing key stored in the clear", "pubkey", kp.PublicKeyHex())
			}
			m.cached = kp
			return kp, nil
		}
		if !errors.Is(decodeErr, ErrCorruptKey) {
			return nil, decodeErr
		}
		m.log.Warn("Persisted key material is corrupt, generating a new key", "error", decodeErr)
		backup := KeypairKey + ".corrupt." + strconv.FormatInt(m.clock.Now().UnixNano(), 10)
		if err := m.store.Set(backup, raw); err != nil {
			return nil, fmt.Errorf("failed to back up corrupt key: %w", err)
		}

	case errors.Is(err, storage.ErrNotFound):
		// First use.

	default:
		// A storage failure is not an absent key.
		return nil, fmt.Errorf("failed to load key: %w", err)
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	kp := &KeyPair{priv: priv}
	if err := m.persist(kp); err != nil {
		return nil, err
	}
	m.log.Info("Created signing key", "pubkey", kp.PublicKeyHex())
	m.cached = kp
	return kp, nil
}

// GenerateMnemonic returns a fresh 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// DerivationPath is the BIP-32 path of the signing key under an imported
// mnemonic: m/44'/coin'/0'/0/0 with coin 0 on mainnet and 1 elsewhere.
func (m *KeyManager) DerivationPath() []uint32 {
	coin := uint32(0)
	if m.network != chain.Mainnet {
		coin = 1
	}
	return []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coin,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
}

// ImportMnemonic replaces the signing key with one derived from a BIP-39
// mnemonic. This is an explicit user action and overwrites any existing key.
func (m *KeyManager) ImportMnemonic(mnemonic, passphrase string) (*KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer helpers.Zero(seed)

	key, err := hdkeychain.NewMaster(seed, m.network.Params())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, idx := range m.DerivationPath() {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kp := &KeyPair{priv: priv}
	if err := m.persist(kp); err != nil {
		return nil, err
	}
	m.cached = kp
	m.log.Info("Imported signing key from mnemonic", "pubkey", kp.PublicKeyHex())
	return kp, nil
}

// Reset deletes the signing key. The next GetOrCreateKeypair creates a new
// one.
func (m *KeyManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(KeypairKey); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	m.cached = nil
	m.log.Warn("Signing key deleted")
	return nil
}

func (m *KeyManager) persist(kp *KeyPair) error {
	value := []byte(hex.EncodeToString(kp.priv.Serialize()))
	if m.sealer != nil {
		sealed, err := m.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("failed to seal key: %w", err)
		}
		value = sealed
	}
	if err := m.store.Set(KeypairKey, value); err != nil {
		return fmt.Errorf("failed to persist key: %w", err)
	}
	return nil
}

// decode parses persisted key material. plaintext reports that the key was
// stored unsealed.
func (m *KeyManager) decode(raw []byte) (kp *KeyPair, plaintext bool, err error) {
	if IsSealed(raw) {
		if m.sealer == nil {
			return nil, false, ErrSealedKey
		}
		opened, err := m.sealer.Open(raw)
		if err != nil {
			return nil, false, err
		}
		defer helpers.Zero(opened)
		kp, err := parseKey(opened)
		return kp, false, err
	}
	kp, err = parseKey(raw)
	return kp, true, err
}

func parseKey(raw []byte) (*KeyPair, error) {
	b, err := helpers.HexToFixedBytes(string(raw), btcec.PrivKeyBytesLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptKey, err)
	}
	defer helpers.Zero(b)

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range", ErrCorruptKey)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &KeyPair{priv: priv}, nil
}
