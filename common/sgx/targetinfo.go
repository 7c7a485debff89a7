package sgx

import (
	"encoding/binary"

	"github.com/ahawad/asylo/common/errors"
)

// TargetInfoSize is the size of a TARGETINFO structure in bytes.
const TargetInfoSize = 512

const (
	targetInfoMeasurementOffset = 0
	targetInfoAttributesOffset  = 32
	targetInfoReserved1Offset   = 48
	targetInfoConfigSVNOffset   = 50
	targetInfoMiscselectOffset  = 52
	targetInfoReserved2Offset   = 56
	targetInfoConfigIDOffset    = 64
	targetInfoReserved3Offset   = 128
)

// TargetInfo is the TARGETINFO input of EREPORT, naming the enclave a
// report is addressed to.
type TargetInfo struct {
	Measurement MrEnclave    `json:"measurement"`
	Attributes  AttributeSet `json:"attributes"`
	ConfigSVN   uint16       `json:"configsvn"`
	Miscselect  Miscselect   `json:"miscselect"`
	ConfigID    ConfigID     `json:"configid"`
}

// MarshalBinary encodes a TargetInfo into its 512 byte layout.
func (ti *TargetInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, TargetInfoSize)
	copy(b[targetInfoMeasurementOffset:], ti.Measurement[:])
	ti.Attributes.put(b[targetInfoAttributesOffset:])
	binary.LittleEndian.PutUint16(b[targetInfoConfigSVNOffset:], ti.ConfigSVN)
	binary.LittleEndian.PutUint32(b[targetInfoMiscselectOffset:], uint32(ti.Miscselect))
	copy(b[targetInfoConfigIDOffset:], ti.ConfigID[:])
	return b, nil
}

// UnmarshalBinary decodes a binary marshaled TargetInfo.
func (ti *TargetInfo) UnmarshalBinary(data []byte) error {
	if len(data) != TargetInfoSize {
		return errors.WithContext(ErrMalformed, "TARGETINFO")
	}
	for _, r := range [][2]int{
		{targetInfoReserved1Offset, targetInfoConfigSVNOffset},
		{targetInfoReserved2Offset, targetInfoConfigIDOffset},
		{targetInfoReserved3Offset, TargetInfoSize},
	} {
		if err := checkReserved(data, r[0], r[1], "TARGETINFO"); err != nil {
			return err
		}
	}

	copy(ti.Measurement[:], data[targetInfoMeasurementOffset:])
	ti.Attributes.get(data[targetInfoAttributesOffset:])
	ti.ConfigSVN = binary.LittleEndian.Uint16(data[targetInfoConfigSVNOffset:])
	ti.Miscselect = Miscselect(binary.LittleEndian.Uint32(data[targetInfoMiscselectOffset:]))
	copy(ti.ConfigID[:], data[targetInfoConfigIDOffset:])
	return nil
}
