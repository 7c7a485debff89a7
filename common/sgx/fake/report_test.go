package fake

import (
	"crypto/aes"
	"testing"

	"github.com/aead/cmac"
	"github.com/stretchr/testify/require"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

func TestReport(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	enclave1 := f.enclave.Clone()
	enclave2 := f.enclave.Clone()

	for i := 0; i < 100; i++ {
		require.NoError(enclave1.SetRandomIdentity())
		enclave1.SetReportKeyID(randomKeyID(t))
		require.NoError(enclave2.SetRandomIdentity())

		// Enter enclave1 and get a report targeted at enclave2.
		require.NoError(f.thread.Enter(enclave1), "Enter(enclave1)")

		var reportData sgx.ReportData
		randomBytes(t, reportData[:])

		report, err := f.thread.GetHardwareReport(enclave2.TargetInfo(), &reportData)
		require.NoError(err, "GetHardwareReport")

		body := report.Body
		require.Equal(enclave1.CPUSVN(), body.CPUSVN)
		require.Equal(enclave1.Miscselect(), body.Miscselect)
		require.Equal(enclave1.ISVExtProdID(), body.ISVExtProdID)
		require.Equal(enclave1.Attributes(), body.Attributes)
		require.Equal(enclave1.MrEnclave(), body.MrEnclave)
		require.Equal(enclave1.MrSigner(), body.MrSigner)
		require.Equal(enclave1.ConfigID(), body.ConfigID)
		require.Equal(enclave1.ISVProdID(), body.ISVProdID)
		require.Equal(enclave1.ISVSVN(), body.ISVSVN)
		require.Equal(enclave1.ConfigSVN(), body.ConfigSVN)
		require.Equal(enclave1.ISVFamilyID(), body.ISVFamilyID)
		require.Equal(reportData, body.ReportData)
		require.NotEqual(enclave1.ReportKeyID(), report.KeyID, "report keyid must be fresh")

		f.thread.Exit()

		// Enter enclave2, derive the report key and check the MAC.
		require.NoError(f.thread.Enter(enclave2), "Enter(enclave2)")

		req := f.reportRequest
		req.KeyID = report.KeyID
		key, err := f.thread.GetHardwareKey(&req)
		require.NoError(err, "GetHardwareKey")

		block, err := aes.NewCipher(key[:])
		require.NoError(err, "aes.NewCipher")
		raw, err := body.MarshalBinary()
		require.NoError(err, "MarshalBinary")
		expectedMAC, err := cmac.Sum(raw, block, aes.BlockSize)
		require.NoError(err, "cmac.Sum")
		require.EqualValues(expectedMAC, report.MAC[:], "iteration %d", i)

		require.NoError(f.thread.VerifyHardwareReport(report), "VerifyHardwareReport")

		f.thread.Exit()
	}
}

func TestReportSelfTargeted(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	enclave := f.enter(t)

	var reportData sgx.ReportData
	randomBytes(t, reportData[:])

	report1, err := f.thread.GetHardwareReport(enclave.TargetInfo(), &reportData)
	require.NoError(err, "GetHardwareReport")
	require.NoError(f.thread.VerifyHardwareReport(report1))

	report2, err := f.thread.GetHardwareReport(enclave.TargetInfo(), &reportData)
	require.NoError(err, "GetHardwareReport")
	require.NotEqual(report1.KeyID, report2.KeyID, "every report gets a fresh keyid")
	require.NotEqual(report1.MAC, report2.MAC)
	require.Equal(report1.Body, report2.Body)
}

func TestReportVerificationFailures(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	target, err := NewRandomEnclave()
	require.NoError(err, "NewRandomEnclave")
	other, err := NewRandomEnclave()
	require.NoError(err, "NewRandomEnclave")

	require.NoError(f.thread.Enter(f.enclave))
	report, err := f.thread.GetHardwareReport(target.TargetInfo(), &sgx.ReportData{})
	require.NoError(err, "GetHardwareReport")
	f.thread.Exit()

	// Only the target can verify the report.
	require.NoError(f.thread.Enter(other))
	err = f.thread.VerifyHardwareReport(report)
	require.True(errors.Is(err, ErrReportMACMismatch), "wrong target: %v", err)
	f.thread.Exit()

	require.NoError(f.thread.Enter(target))
	defer f.thread.Exit()
	require.NoError(f.thread.VerifyHardwareReport(report))

	tampered := *report
	tampered.Body.ReportData[0] ^= 0xff
	err = f.thread.VerifyHardwareReport(&tampered)
	require.True(errors.Is(err, ErrReportMACMismatch), "tampered body: %v", err)

	tampered = *report
	tampered.KeyID[0] ^= 0xff
	err = f.thread.VerifyHardwareReport(&tampered)
	require.True(errors.Is(err, ErrReportMACMismatch), "tampered keyid: %v", err)

	// A report from another platform does not verify.
	platform, err := NewPlatform()
	require.NoError(err, "NewPlatform")
	thread := platform.NewThread()
	require.NoError(thread.Enter(target))
	defer thread.Exit()
	err = thread.VerifyHardwareReport(report)
	require.True(errors.Is(err, ErrReportMACMismatch), "other platform: %v", err)
}

func TestReportBinaryRoundTripVerifies(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	enclave := f.enter(t)

	report, err := f.thread.GetHardwareReport(enclave.TargetInfo(), &sgx.ReportData{1, 2, 3})
	require.NoError(err, "GetHardwareReport")

	raw, err := report.MarshalBinary()
	require.NoError(err, "MarshalBinary")
	var decoded sgx.Report
	require.NoError(decoded.UnmarshalBinary(raw), "UnmarshalBinary")
	require.NoError(f.thread.VerifyHardwareReport(&decoded))
}
