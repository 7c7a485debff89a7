package sealing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahawad/asylo/common/cbor"
	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
)

func newThread(t *testing.T) (*fake.Thread, *fake.Enclave) {
	require := require.New(t)

	platform, err := fake.NewPlatform(fake.WithSeed([]byte("sealing test")))
	require.NoError(err, "NewPlatform")

	enclave := fake.NewEnclave()
	enclave.AddRequiredAttribute(sgx.AttributeKSS)
	require.NoError(enclave.SetRandomIdentity(), "SetRandomIdentity")
	enclave.SetISVSVN(5)
	enclave.SetConfigSVN(2)

	return platform.NewThread(), enclave
}

func TestSealUnseal(t *testing.T) {
	require := require.New(t)
	thread, enclave := newThread(t)
	require.NoError(thread.Enter(enclave))
	defer thread.Exit()

	for _, policy := range []sgx.KeyPolicy{
		sgx.KeyPolicyMrEnclave,
		sgx.KeyPolicyMrSigner,
		sgx.KeyPolicyMrSigner | sgx.KeyPolicyConfigID | sgx.KeyPolicyISVFamilyID,
	} {
		sealed, err := Seal(thread, policy, []byte("secret"), []byte("label"))
		require.NoError(err, "Seal(%s)", policy)

		plaintext, aad, err := Unseal(thread, sealed)
		require.NoError(err, "Unseal(%s)", policy)
		require.Equal([]byte("secret"), plaintext)
		require.Equal([]byte("label"), aad)
	}

	sealed, err := Seal(thread, sgx.KeyPolicyMrSigner, nil, nil)
	require.NoError(err, "Seal(empty)")
	plaintext, aad, err := Unseal(thread, sealed)
	require.NoError(err, "Unseal(empty)")
	require.Empty(plaintext)
	require.Empty(aad)
}

func TestSealPolicyBinding(t *testing.T) {
	require := require.New(t)
	thread, enclave := newThread(t)

	require.NoError(thread.Enter(enclave))
	byEnclave, err := Seal(thread, sgx.KeyPolicyMrEnclave, []byte("secret"), nil)
	require.NoError(err)
	bySigner, err := Seal(thread, sgx.KeyPolicyMrSigner, []byte("secret"), nil)
	require.NoError(err)
	thread.Exit()

	// A new build by the same signer.
	update := enclave.Clone()
	var m sgx.MrEnclave
	m[0] = 0x42
	update.SetMrEnclave(m)
	require.NoError(thread.Enter(update))
	defer thread.Exit()

	_, _, err = Unseal(thread, byEnclave)
	require.True(errors.Is(err, ErrUnsealFailed), "MRENCLAVE bound blob: %v", err)

	plaintext, _, err := Unseal(thread, bySigner)
	require.NoError(err, "MRSIGNER bound blob")
	require.Equal([]byte("secret"), plaintext)
}

func TestUnsealAfterUpgrade(t *testing.T) {
	require := require.New(t)
	thread, enclave := newThread(t)

	require.NoError(thread.Enter(enclave))
	sealed, err := Seal(thread, sgx.KeyPolicyMrSigner|sgx.KeyPolicyConfigID, []byte("secret"), nil)
	require.NoError(err)
	thread.Exit()

	upgraded := enclave.Clone()
	upgraded.SetISVSVN(6)
	upgraded.SetConfigSVN(3)
	require.NoError(thread.Enter(upgraded))
	plaintext, _, err := Unseal(thread, sealed)
	require.NoError(err, "Unseal after upgrade")
	require.Equal([]byte("secret"), plaintext)

	newer, err := Seal(thread, sgx.KeyPolicyMrSigner, []byte("newer secret"), nil)
	require.NoError(err)
	thread.Exit()

	// The old version cannot read data sealed by the new one.
	require.NoError(thread.Enter(enclave))
	defer thread.Exit()
	_, _, err = Unseal(thread, newer)
	require.True(errors.Is(err, fake.ErrInvalidVersion), "Unseal by older version: %v", err)
}

func TestUnsealTampered(t *testing.T) {
	require := require.New(t)
	thread, enclave := newThread(t)
	require.NoError(thread.Enter(enclave))
	defer thread.Exit()

	sealed, err := Seal(thread, sgx.KeyPolicyMrEnclave, []byte("secret"), []byte("label"))
	require.NoError(err)

	var blob SealedBlob
	require.NoError(cbor.Unmarshal(sealed, &blob))

	tampered := blob
	tampered.Header.AdditionalData = []byte("other label")
	_, _, err = Unseal(thread, cbor.Marshal(&tampered))
	require.True(errors.Is(err, ErrUnsealFailed), "tampered additional data: %v", err)

	tampered = blob
	tampered.Ciphertext = append([]byte{}, blob.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	_, _, err = Unseal(thread, cbor.Marshal(&tampered))
	require.True(errors.Is(err, ErrUnsealFailed), "tampered ciphertext: %v", err)

	var req sgx.KeyRequest
	require.NoError(req.UnmarshalBinary(blob.Header.KeyRequest))
	req.KeyID[0] ^= 0x01
	tampered = blob
	tampered.Header.KeyRequest, _ = req.MarshalBinary()
	_, _, err = Unseal(thread, cbor.Marshal(&tampered))
	require.True(errors.Is(err, ErrUnsealFailed), "tampered key request: %v", err)

	req.KeyName = sgx.KeyNameReport
	tampered.Header.KeyRequest, _ = req.MarshalBinary()
	_, _, err = Unseal(thread, cbor.Marshal(&tampered))
	require.True(errors.Is(err, ErrMalformedBlob), "report key request: %v", err)

	_, _, err = Unseal(thread, []byte("garbage"))
	require.True(errors.Is(err, ErrMalformedBlob), "garbage: %v", err)

	tampered = blob
	tampered.Nonce = blob.Nonce[:4]
	_, _, err = Unseal(thread, cbor.Marshal(&tampered))
	require.True(errors.Is(err, ErrMalformedBlob), "short nonce: %v", err)
}

func TestSealNoCurrentIdentity(t *testing.T) {
	require := require.New(t)
	thread, _ := newThread(t)

	_, err := Seal(thread, sgx.KeyPolicyMrEnclave, []byte("secret"), nil)
	require.True(errors.Is(err, fake.ErrNoCurrentIdentity))
}
