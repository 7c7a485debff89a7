// Package fake implements a software emulation of the SGX identity,
// EGETKEY and EREPORT primitives.
//
// A Platform stands in for a physical CPU: it holds the fused root key and
// the owner epoch that every derived key depends on. Each Thread obtained
// from a Platform can enter at most one Enclave at a time, and every key or
// report operation acts on the enclave entered on that thread.
package fake

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/aead/cmac"
	"golang.org/x/crypto/hkdf"

	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
)

const (
	// RootKeySize is the size of the platform root key in bytes.
	RootKeySize = 16

	// OwnerEpochSize is the size of the owner epoch in bytes.
	OwnerEpochSize = 16

	seedInfo = "fake-sgx root seal key"
)

// OwnerEpoch is the platform owner supplied value mixed into every key.
type OwnerEpoch [OwnerEpochSize]byte

// MarshalText encodes an OwnerEpoch into hex form.
func (o OwnerEpoch) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(o[:])), nil
}

// UnmarshalText decodes a hex marshaled OwnerEpoch.
func (o *OwnerEpoch) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("fake: malformed owner epoch: %w", err)
	}
	if len(b) != OwnerEpochSize {
		return fmt.Errorf("fake: malformed owner epoch: expected %d bytes, got %d", OwnerEpochSize, len(b))
	}
	copy(o[:], b)
	return nil
}

// Platform is an emulated SGX capable processor.
type Platform struct {
	rootKey    [RootKeySize]byte
	ownerEpoch OwnerEpoch

	logger *logging.Logger
}

// PlatformOption configures a Platform.
type PlatformOption func(*Platform) error

// WithRootKey sets the platform root key.
func WithRootKey(key [RootKeySize]byte) PlatformOption {
	return func(p *Platform) error {
		p.rootKey = key
		return nil
	}
}

// WithSeed derives the platform root key from a seed, so that keys are
// reproducible across processes sharing the seed.
func WithSeed(seed []byte) PlatformOption {
	return func(p *Platform) error {
		if len(seed) == 0 {
			return fmt.Errorf("fake: empty platform seed")
		}
		kdf := hkdf.New(sha256.New, seed, nil, []byte(seedInfo))
		if _, err := io.ReadFull(kdf, p.rootKey[:]); err != nil {
			return fmt.Errorf("fake: failed to derive root key: %w", err)
		}
		return nil
	}
}

// WithOwnerEpoch sets the platform owner epoch.
func WithOwnerEpoch(epoch OwnerEpoch) PlatformOption {
	return func(p *Platform) error {
		p.ownerEpoch = epoch
		return nil
	}
}

// NewPlatform creates a new emulated platform. Unless a root key or a seed
// is supplied, the root key is random and no two platforms share keys.
func NewPlatform(opts ...PlatformOption) (*Platform, error) {
	p := &Platform{
		logger: logging.GetLogger("sgx/fake"),
	}
	if _, err := io.ReadFull(rand.Reader, p.rootKey[:]); err != nil {
		return nil, fmt.Errorf("fake: failed to generate root key: %w", err)
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var (
	defaultPlatform     *Platform
	defaultPlatformErr  error
	defaultPlatformOnce sync.Once
)

// DefaultPlatform returns the process wide platform with a random root key.
func DefaultPlatform() (*Platform, error) {
	defaultPlatformOnce.Do(func() {
		defaultPlatform, defaultPlatformErr = NewPlatform()
	})
	return defaultPlatform, defaultPlatformErr
}

// OwnerEpoch returns the platform owner epoch.
func (p *Platform) OwnerEpoch() OwnerEpoch {
	return p.ownerEpoch
}

// NewThread returns a new logical processor of the platform, with no
// enclave entered.
func (p *Platform) NewThread() *Thread {
	return &Thread{
		platform: p,
	}
}

// deriveKey runs the key derivation function over the encoded key
// dependencies: AES-128-CMAC keyed by the root key.
func (p *Platform) deriveKey(deps *keyDependencies) (sgx.HardwareKey, error) {
	var key sgx.HardwareKey
	tag, err := cmacSum(p.rootKey[:], deps.MarshalBinary())
	if err != nil {
		return key, err
	}
	copy(key[:], tag)
	return key, nil
}

func cmacSum(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fake: failed to create cipher: %w", err)
	}
	tag, err := cmac.Sum(msg, block, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("fake: failed to compute CMAC: %w", err)
	}
	return tag, nil
}
