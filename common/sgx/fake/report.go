package fake

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

func newReportBody(e *Enclave, reportData *sgx.ReportData) sgx.ReportBody {
	return sgx.ReportBody{
		CPUSVN:       e.cpusvn,
		Miscselect:   e.miscselect,
		ISVExtProdID: e.isvextprodid,
		Attributes:   e.attributes,
		MrEnclave:    e.mrenclave,
		MrSigner:     e.mrsigner,
		ConfigID:     e.configid,
		ISVProdID:    e.isvprodid,
		ISVSVN:       e.isvsvn,
		ConfigSVN:    e.configsvn,
		ISVFamilyID:  e.isvfamilyid,
		ReportData:   *reportData,
	}
}

func reportMAC(key sgx.HardwareKey, body *sgx.ReportBody) (sgx.MAC, error) {
	var mac sgx.MAC
	raw, err := body.MarshalBinary()
	if err != nil {
		return mac, err
	}
	tag, err := cmacSum(key[:], raw)
	if err != nil {
		return mac, err
	}
	copy(mac[:], tag)
	return mac, nil
}

// GetHardwareReport emulates EREPORT for the enclave entered on the thread.
//
// The report body describes the entered enclave and carries reportData.
// Every report gets a fresh random KEYID. The MAC over the body is keyed
// with the REPORT_KEY of the enclave described by targetInfo, which that
// enclave can derive with the report's KEYID.
func (t *Thread) GetHardwareReport(targetInfo *sgx.TargetInfo, reportData *sgx.ReportData) (*sgx.Report, error) {
	switch {
	case targetInfo == nil:
		return nil, errors.WithContext(ErrInvalidArgument, "nil target info")
	case reportData == nil:
		return nil, errors.WithContext(ErrInvalidArgument, "nil report data")
	}

	e, err := t.enclave()
	if err != nil {
		return nil, err
	}

	report := &sgx.Report{
		Body: newReportBody(e, reportData),
	}
	if _, err = io.ReadFull(rand.Reader, report.KeyID[:]); err != nil {
		return nil, fmt.Errorf("fake: failed to generate report keyid: %w", err)
	}

	key, err := t.platform.deriveKey(reportKeyDependencies(t.platform, targetInfo, report.KeyID))
	if err != nil {
		return nil, err
	}
	if report.MAC, err = reportMAC(key, &report.Body); err != nil {
		return nil, err
	}
	reportGenerated()

	return report, nil
}

// VerifyHardwareReport checks that a report was produced on the same
// platform and addressed to the enclave entered on the thread.
func (t *Thread) VerifyHardwareReport(report *sgx.Report) error {
	if report == nil {
		return errors.WithContext(ErrInvalidArgument, "nil report")
	}

	e, err := t.enclave()
	if err != nil {
		return err
	}

	key, err := t.GetHardwareKey(NewReportKeyRequest(e, report.KeyID))
	if err != nil {
		return err
	}
	mac, err := reportMAC(key, &report.Body)
	if err != nil {
		return err
	}
	if !mac.Equal(&report.MAC) {
		return ErrReportMACMismatch
	}
	return nil
}
