package sgx

import (
	"encoding/binary"

	"github.com/ahawad/asylo/common/errors"
)

const (
	// ReportBodySize is the size of a REPORT body in bytes.
	ReportBodySize = 384

	// ReportSize is the size of a REPORT structure in bytes.
	ReportSize = ReportBodySize + KeyIDSize + MACSize
)

const (
	reportCPUSVNOffset       = 0
	reportMiscselectOffset   = 16
	reportReserved1Offset    = 20
	reportISVExtProdIDOffset = 32
	reportAttributesOffset   = 48
	reportMrEnclaveOffset    = 64
	reportReserved2Offset    = 96
	reportMrSignerOffset     = 128
	reportReserved3Offset    = 160
	reportConfigIDOffset     = 192
	reportISVProdIDOffset    = 256
	reportISVSVNOffset       = 258
	reportConfigSVNOffset    = 260
	reportReserved4Offset    = 262
	reportISVFamilyIDOffset  = 304
	reportReportDataOffset   = 320
)

// ReportBody is the identity portion of a REPORT.
type ReportBody struct { // nolint: maligned
	CPUSVN       CPUSVN       `json:"cpusvn"`
	Miscselect   Miscselect   `json:"miscselect"`
	ISVExtProdID ISVExtProdID `json:"isvextprodid"`
	Attributes   AttributeSet `json:"attributes"`
	MrEnclave    MrEnclave    `json:"mrenclave"`
	MrSigner     MrSigner     `json:"mrsigner"`
	ConfigID     ConfigID     `json:"configid"`
	ISVProdID    uint16       `json:"isvprodid"`
	ISVSVN       uint16       `json:"isvsvn"`
	ConfigSVN    uint16       `json:"configsvn"`
	ISVFamilyID  ISVFamilyID  `json:"isvfamilyid"`
	ReportData   ReportData   `json:"reportdata"`
}

// MarshalBinary encodes a ReportBody into its 384 byte layout. All
// reserved regions are zero-filled.
func (r *ReportBody) MarshalBinary() ([]byte, error) {
	rBin := make([]byte, 0, ReportBodySize)
	uint16b := make([]byte, 2)
	uint32b := make([]byte, 4)

	rBin = append(rBin, r.CPUSVN[:]...)
	binary.LittleEndian.PutUint32(uint32b, uint32(r.Miscselect))
	rBin = append(rBin, uint32b...)
	rBin = append(rBin, make([]byte, 12)...) // 12 reserved bytes.
	rBin = append(rBin, r.ISVExtProdID[:]...)
	attributes, _ := r.Attributes.MarshalBinary()
	rBin = append(rBin, attributes...)
	rBin = append(rBin, r.MrEnclave[:]...)
	rBin = append(rBin, make([]byte, 32)...) // 32 reserved bytes.
	rBin = append(rBin, r.MrSigner[:]...)
	rBin = append(rBin, make([]byte, 32)...) // 32 reserved bytes.
	rBin = append(rBin, r.ConfigID[:]...)
	binary.LittleEndian.PutUint16(uint16b, r.ISVProdID)
	rBin = append(rBin, uint16b...)
	binary.LittleEndian.PutUint16(uint16b, r.ISVSVN)
	rBin = append(rBin, uint16b...)
	binary.LittleEndian.PutUint16(uint16b, r.ConfigSVN)
	rBin = append(rBin, uint16b...)
	rBin = append(rBin, make([]byte, 42)...) // 42 reserved bytes.
	rBin = append(rBin, r.ISVFamilyID[:]...)
	rBin = append(rBin, r.ReportData[:]...)

	return rBin, nil
}

// UnmarshalBinary decodes a ReportBody, rejecting non-zero reserved bytes.
func (r *ReportBody) UnmarshalBinary(data []byte) error {
	if len(data) != ReportBodySize {
		return errors.WithContext(ErrMalformed, "REPORT body")
	}
	for _, rsv := range [][2]int{
		{reportReserved1Offset, reportISVExtProdIDOffset},
		{reportReserved2Offset, reportMrSignerOffset},
		{reportReserved3Offset, reportConfigIDOffset},
		{reportReserved4Offset, reportISVFamilyIDOffset},
	} {
		if err := checkReserved(data, rsv[0], rsv[1], "REPORT body"); err != nil {
			return err
		}
	}

	copy(r.CPUSVN[:], data[reportCPUSVNOffset:])
	r.Miscselect = Miscselect(binary.LittleEndian.Uint32(data[reportMiscselectOffset:]))
	copy(r.ISVExtProdID[:], data[reportISVExtProdIDOffset:])
	r.Attributes.get(data[reportAttributesOffset:])
	copy(r.MrEnclave[:], data[reportMrEnclaveOffset:])
	copy(r.MrSigner[:], data[reportMrSignerOffset:])
	copy(r.ConfigID[:], data[reportConfigIDOffset:])
	r.ISVProdID = binary.LittleEndian.Uint16(data[reportISVProdIDOffset:])
	r.ISVSVN = binary.LittleEndian.Uint16(data[reportISVSVNOffset:])
	r.ConfigSVN = binary.LittleEndian.Uint16(data[reportConfigSVNOffset:])
	copy(r.ISVFamilyID[:], data[reportISVFamilyIDOffset:])
	copy(r.ReportData[:], data[reportReportDataOffset:])

	return nil
}

// Report is the REPORT output of EREPORT: the body, the KEYID used to
// derive the authentication key and the MAC over the body.
type Report struct {
	Body  ReportBody `json:"body"`
	KeyID KeyID      `json:"keyid"`
	MAC   MAC        `json:"mac"`
}

// MarshalBinary encodes a Report into its 432 byte layout.
func (r *Report) MarshalBinary() ([]byte, error) {
	b, err := r.Body.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b = append(b, r.KeyID[:]...)
	b = append(b, r.MAC[:]...)
	return b, nil
}

// UnmarshalBinary decodes a binary marshaled Report.
func (r *Report) UnmarshalBinary(data []byte) error {
	if len(data) != ReportSize {
		return errors.WithContext(ErrMalformed, "REPORT")
	}
	if err := r.Body.UnmarshalBinary(data[:ReportBodySize]); err != nil {
		return err
	}
	copy(r.KeyID[:], data[ReportBodySize:])
	copy(r.MAC[:], data[ReportBodySize+KeyIDSize:])
	return nil
}
