package fake

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahawad/asylo/common/sgx"
)

func randomBytes(t *testing.T, b []byte) {
	_, err := rand.Read(b)
	require.NoError(t, err, "rand.Read")
}

func randomUint16(t *testing.T) uint16 {
	var b [2]byte
	randomBytes(t, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func randomAttributes(t *testing.T) sgx.AttributeSet {
	var b [sgx.AttributesSize]byte
	randomBytes(t, b[:])
	var a sgx.AttributeSet
	require.NoError(t, a.UnmarshalBinary(b[:]))
	return a
}

func randomKeyID(t *testing.T) sgx.KeyID {
	var id sgx.KeyID
	randomBytes(t, id[:])
	return id
}

// randomKeyPolicy returns a random policy that the enclave may request.
func randomKeyPolicy(t *testing.T, attributes sgx.AttributeSet) sgx.KeyPolicy {
	valid := sgx.KeyPolicyMrEnclave | sgx.KeyPolicyMrSigner
	if attributes.IsSet(sgx.AttributeKSS) {
		valid |= sgx.KeyPolicyKSSBits
	}
	return sgx.KeyPolicy(randomUint16(t)) & valid
}

func flipLowFourBits(t *testing.T, b *byte) {
	var r [1]byte
	randomBytes(t, r[:])
	*b ^= r[0] & 0x0f
}

type fixture struct {
	platform      *Platform
	thread        *Thread
	enclave       *Enclave
	sealRequest   sgx.KeyRequest
	reportRequest sgx.KeyRequest
}

func newFixture(t *testing.T) *fixture {
	require := require.New(t)

	platform, err := NewPlatform()
	require.NoError(err, "NewPlatform")

	enclave := NewEnclave()
	enclave.AddValidAttribute(sgx.AttributeKSS)
	require.NoError(enclave.SetRandomIdentity(), "SetRandomIdentity")

	f := &fixture{
		platform: platform,
		thread:   platform.NewThread(),
		enclave:  enclave,
		sealRequest: sgx.KeyRequest{
			KeyName:       sgx.KeyNameSeal,
			KeyPolicy:     sgx.KeyPolicyMrEnclave | sgx.KeyPolicyMrSigner,
			AttributeMask: sgx.DefaultDoNotCareAttributes().Not(),
			KeyID:         randomKeyID(t),
			MiscMask:      0xffffffff,
		},
	}
	f.reportRequest = f.sealRequest
	f.reportRequest.KeyName = sgx.KeyNameReport

	return f
}

// requireKSS makes KSS a required attribute of the fixture enclave and
// regenerates its identity.
func (f *fixture) requireKSS(t *testing.T) {
	f.enclave.AddRequiredAttribute(sgx.AttributeKSS)
	require.NoError(t, f.enclave.SetRandomIdentity(), "SetRandomIdentity")
}

func (f *fixture) enter(t *testing.T) *Enclave {
	require.NoError(t, f.thread.Enter(f.enclave), "Enter")
	t.Cleanup(f.thread.Exit)
	return f.thread.Current()
}
