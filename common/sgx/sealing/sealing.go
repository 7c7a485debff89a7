// Package sealing implements local sealing of data to an enclave identity.
//
// Data is encrypted with Deoxys-II-256-128 under a key expanded from the
// SEAL_KEY of the entered enclave. The key request used is stored in the
// clear in the blob header and authenticated as additional data, so the
// blob can be unsealed by any enclave able to derive the same SEAL_KEY,
// including the sealing enclave after a security version upgrade.
package sealing

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/oasisprotocol/deoxysii"
	"golang.org/x/crypto/hkdf"

	"github.com/ahawad/asylo/common/cbor"
	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
)

// ModuleName is the module name used for error definitions.
const ModuleName = "sgx/sealing"

var (
	// ErrMalformedBlob is the error returned when a sealed blob cannot be
	// decoded.
	ErrMalformedBlob = errors.New(ModuleName, 1, "sealing: malformed sealed blob")

	// ErrUnsealFailed is the error returned when a sealed blob fails
	// authentication.
	ErrUnsealFailed = errors.New(ModuleName, 2, "sealing: failed to unseal")

	keyExpansionInfo = []byte("fake-sgx local sealing Deoxys-II-256-128")

	logger = logging.GetLogger("sgx/sealing")
)

// Header is the authenticated, unencrypted part of a sealed blob.
type Header struct {
	// KeyRequest is the binary KEYREQUEST the sealing key was derived with.
	KeyRequest []byte `json:"key_request"`
	// AdditionalData is caller supplied data authenticated with the blob.
	AdditionalData []byte `json:"additional_data,omitempty"`
}

// SealedBlob is a sealed secret.
type SealedBlob struct {
	Header     Header `json:"header"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func newAEAD(thread *fake.Thread, req *sgx.KeyRequest) (cipher.AEAD, error) {
	hwKey, err := thread.GetHardwareKey(req)
	if err != nil {
		return nil, err
	}

	var k [deoxysii.KeySize]byte
	kdf := hkdf.New(sha256.New, hwKey[:], req.KeyID[:], keyExpansionInfo)
	if _, err = io.ReadFull(kdf, k[:]); err != nil {
		return nil, fmt.Errorf("sealing: failed to expand key: %w", err)
	}

	aead, err := deoxysii.New(k[:])
	for i := range k {
		k[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("sealing: failed to create cipher: %w", err)
	}
	return aead, nil
}

// Seal encrypts plaintext to the identity of the enclave entered on the
// thread, as selected by policy.
func Seal(thread *fake.Thread, policy sgx.KeyPolicy, plaintext, additionalData []byte) ([]byte, error) {
	e := thread.Current()
	if e == nil {
		return nil, fake.ErrNoCurrentIdentity
	}

	var keyID sgx.KeyID
	rnd, err := fake.GetHardwareRandBytes(sgx.KeyIDSize + deoxysii.NonceSize)
	if err != nil {
		return nil, err
	}
	copy(keyID[:], rnd)
	nonce := rnd[sgx.KeyIDSize:]

	req := fake.NewSealKeyRequest(e, policy, keyID)
	rawReq, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(thread, req)
	if err != nil {
		return nil, err
	}

	blob := SealedBlob{
		Header: Header{
			KeyRequest:     rawReq,
			AdditionalData: additionalData,
		},
		Nonce: nonce,
	}
	blob.Ciphertext = aead.Seal(nil, nonce, plaintext, cbor.Marshal(&blob.Header))

	logger.Debug("sealed data",
		"policy", policy,
		"isvsvn", req.ISVSVN,
		"size", len(plaintext),
	)

	return cbor.Marshal(&blob), nil
}

// Unseal decrypts a sealed blob using the enclave entered on the thread. It
// returns the plaintext and the additional data authenticated with it.
func Unseal(thread *fake.Thread, sealed []byte) ([]byte, []byte, error) {
	var blob SealedBlob
	if err := cbor.Unmarshal(sealed, &blob); err != nil {
		return nil, nil, errors.WithContext(ErrMalformedBlob, err.Error())
	}
	if len(blob.Nonce) != deoxysii.NonceSize {
		return nil, nil, errors.WithContext(ErrMalformedBlob, "invalid nonce size")
	}

	var req sgx.KeyRequest
	if err := req.UnmarshalBinary(blob.Header.KeyRequest); err != nil {
		return nil, nil, errors.WithContext(ErrMalformedBlob, err.Error())
	}
	if req.KeyName != sgx.KeyNameSeal {
		return nil, nil, errors.WithContext(ErrMalformedBlob, "not sealed with a SEAL_KEY")
	}

	aead, err := newAEAD(thread, &req)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, cbor.Marshal(&blob.Header))
	if err != nil {
		return nil, nil, ErrUnsealFailed
	}
	return plaintext, blob.Header.AdditionalData, nil
}
