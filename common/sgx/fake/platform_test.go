package fake

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ahawad/asylo/common/sgx"
)

func deriveOn(t *testing.T, p *Platform, e *Enclave, req *sgx.KeyRequest) sgx.HardwareKey {
	thread := p.NewThread()
	require.NoError(t, thread.Enter(e), "Enter")
	defer thread.Exit()

	key, err := thread.GetHardwareKey(req)
	require.NoError(t, err, "GetHardwareKey")
	return key
}

func TestPlatformSeed(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	p1, err := NewPlatform(WithSeed([]byte("seed")))
	require.NoError(err, "NewPlatform")
	p2, err := NewPlatform(WithSeed([]byte("seed")))
	require.NoError(err, "NewPlatform")
	p3, err := NewPlatform(WithSeed([]byte("another seed")))
	require.NoError(err, "NewPlatform")

	key1 := deriveOn(t, p1, f.enclave, &f.sealRequest)
	require.Equal(key1, deriveOn(t, p2, f.enclave, &f.sealRequest), "same seed, same keys")
	require.NotEqual(key1, deriveOn(t, p3, f.enclave, &f.sealRequest))

	_, err = NewPlatform(WithSeed(nil))
	require.Error(err, "empty seed")

	var rootKey [RootKeySize]byte
	p4, err := NewPlatform(WithRootKey(rootKey))
	require.NoError(err, "NewPlatform")
	p5, err := NewPlatform(WithRootKey(rootKey))
	require.NoError(err, "NewPlatform")
	require.Equal(deriveOn(t, p4, f.enclave, &f.sealRequest), deriveOn(t, p5, f.enclave, &f.sealRequest))
}

func TestPlatformOwnerEpoch(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	var epoch OwnerEpoch
	require.NoError(epoch.UnmarshalText([]byte("000102030405060708090a0b0c0d0e0f")))
	require.EqualValues(0x0f, epoch[15])
	text, err := epoch.MarshalText()
	require.NoError(err)
	require.Equal("000102030405060708090a0b0c0d0e0f", string(text))
	require.Error(epoch.UnmarshalText([]byte("0001")))
	require.Error(epoch.UnmarshalText([]byte("not hex")))

	p1, err := NewPlatform(WithSeed([]byte("seed")))
	require.NoError(err)
	p2, err := NewPlatform(WithSeed([]byte("seed")), WithOwnerEpoch(epoch))
	require.NoError(err)
	require.Equal(epoch, p2.OwnerEpoch())

	require.NotEqual(
		deriveOn(t, p1, f.enclave, &f.sealRequest),
		deriveOn(t, p2, f.enclave, &f.sealRequest),
		"the owner epoch is part of every key",
	)
	require.NotEqual(
		deriveOn(t, p1, f.enclave, &f.reportRequest),
		deriveOn(t, p2, f.enclave, &f.reportRequest),
	)
}

func TestDefaultPlatform(t *testing.T) {
	require := require.New(t)

	p1, err := DefaultPlatform()
	require.NoError(err)
	p2, err := DefaultPlatform()
	require.NoError(err)
	require.Same(p1, p2)
}

func TestHardwareRand(t *testing.T) {
	require := require.New(t)

	v1, err := GetHardwareRand64()
	require.NoError(err)
	v2, err := GetHardwareRand64()
	require.NoError(err)
	require.NotEqual(v1, v2)

	for _, n := range []int{0, 1, 8, 13, 64} {
		b, err := GetHardwareRandBytes(n)
		require.NoError(err, "GetHardwareRandBytes(%d)", n)
		require.Len(b, n)
	}
	_, err = GetHardwareRandBytes(-1)
	require.Error(err)
}

func TestMetrics(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	enclave := f.enter(t)

	InitMetrics()
	InitMetrics()

	sealKeys := testutil.ToFloat64(keysDerived.WithLabelValues(sgx.KeyNameSeal.String()))
	versionFailures := testutil.ToFloat64(keyFailures.WithLabelValues("invalid_version"))
	reports := testutil.ToFloat64(reportsGenerated)

	_, err := f.thread.GetHardwareKey(&f.sealRequest)
	require.NoError(err)
	require.Equal(sealKeys+1, testutil.ToFloat64(keysDerived.WithLabelValues(sgx.KeyNameSeal.String())))

	req := f.sealRequest
	req.ISVSVN = enclave.ISVSVN() + 1
	if req.ISVSVN != 0 {
		_, err = f.thread.GetHardwareKey(&req)
		require.Error(err)
		require.Equal(versionFailures+1, testutil.ToFloat64(keyFailures.WithLabelValues("invalid_version")))
	}

	_, err = f.thread.GetHardwareReport(enclave.TargetInfo(), &sgx.ReportData{})
	require.NoError(err)
	require.Equal(reports+1, testutil.ToFloat64(reportsGenerated))
}
