package sgx

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ahawad/asylo/common/errors"
)

// KeyRequestSize is the size of a KEYREQUEST structure in bytes.
const KeyRequestSize = 512

const (
	keyRequestKeyNameOffset       = 0
	keyRequestKeyPolicyOffset     = 2
	keyRequestISVSVNOffset        = 4
	keyRequestReserved1Offset     = 6
	keyRequestCPUSVNOffset        = 8
	keyRequestAttributeMaskOffset = 24
	keyRequestKeyIDOffset         = 40
	keyRequestMiscMaskOffset      = 72
	keyRequestConfigSVNOffset     = 76
	keyRequestReserved2Offset     = 78
)

// KeyName selects which hardware key EGETKEY derives.
type KeyName uint16

const (
	// KeyNameReport is the REPORT_KEY, used to authenticate reports.
	KeyNameReport KeyName = 3
	// KeyNameSeal is the SEAL_KEY, used to seal data to an identity.
	KeyNameSeal KeyName = 4
)

// String returns the architectural name of the key.
func (n KeyName) String() string {
	switch n {
	case KeyNameReport:
		return "REPORT_KEY"
	case KeyNameSeal:
		return "SEAL_KEY"
	default:
		return fmt.Sprintf("[unknown key name: %d]", uint16(n))
	}
}

// IsValid returns true iff the key name is supported.
func (n KeyName) IsValid() bool {
	switch n {
	case KeyNameReport, KeyNameSeal:
		return true
	default:
		return false
	}
}

// MarshalText encodes a key name into text form.
func (n KeyName) MarshalText() ([]byte, error) {
	switch n {
	case KeyNameReport:
		return []byte("report"), nil
	case KeyNameSeal:
		return []byte("seal"), nil
	default:
		return nil, fmt.Errorf("sgx: invalid key name: %d", uint16(n))
	}
}

// UnmarshalText decodes a text marshaled key name.
func (n *KeyName) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "report", "report_key":
		*n = KeyNameReport
	case "seal", "seal_key":
		*n = KeyNameSeal
	default:
		return fmt.Errorf("sgx: invalid key name: '%s'", string(text))
	}
	return nil
}

// KeyRequest is the KEYREQUEST input of EGETKEY.
//
// The emulated platform has a single CPUSVN per identity, so the
// request's CPUSVN region is treated as reserved.
type KeyRequest struct {
	KeyName       KeyName      `json:"keyname"`
	KeyPolicy     KeyPolicy    `json:"keypolicy"`
	ISVSVN        uint16       `json:"isvsvn"`
	AttributeMask AttributeSet `json:"attributemask"`
	KeyID         KeyID        `json:"keyid"`
	MiscMask      Miscselect   `json:"miscmask"`
	ConfigSVN     uint16       `json:"configsvn"`
}

// MarshalBinary encodes a KeyRequest into its 512 byte layout.
func (kr *KeyRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, KeyRequestSize)
	binary.LittleEndian.PutUint16(b[keyRequestKeyNameOffset:], uint16(kr.KeyName))
	binary.LittleEndian.PutUint16(b[keyRequestKeyPolicyOffset:], uint16(kr.KeyPolicy))
	binary.LittleEndian.PutUint16(b[keyRequestISVSVNOffset:], kr.ISVSVN)
	kr.AttributeMask.put(b[keyRequestAttributeMaskOffset:])
	copy(b[keyRequestKeyIDOffset:], kr.KeyID[:])
	binary.LittleEndian.PutUint32(b[keyRequestMiscMaskOffset:], uint32(kr.MiscMask))
	binary.LittleEndian.PutUint16(b[keyRequestConfigSVNOffset:], kr.ConfigSVN)
	return b, nil
}

// UnmarshalBinary decodes a binary marshaled KeyRequest.
func (kr *KeyRequest) UnmarshalBinary(data []byte) error {
	if len(data) != KeyRequestSize {
		return errors.WithContext(ErrMalformed, "KEYREQUEST")
	}
	if err := checkReserved(data, keyRequestReserved1Offset, keyRequestCPUSVNOffset+CPUSVNSize, "KEYREQUEST"); err != nil {
		return err
	}
	if err := checkReserved(data, keyRequestReserved2Offset, KeyRequestSize, "KEYREQUEST"); err != nil {
		return err
	}

	kr.KeyName = KeyName(binary.LittleEndian.Uint16(data[keyRequestKeyNameOffset:]))
	kr.KeyPolicy = KeyPolicy(binary.LittleEndian.Uint16(data[keyRequestKeyPolicyOffset:]))
	kr.ISVSVN = binary.LittleEndian.Uint16(data[keyRequestISVSVNOffset:])
	kr.AttributeMask.get(data[keyRequestAttributeMaskOffset:])
	copy(kr.KeyID[:], data[keyRequestKeyIDOffset:])
	kr.MiscMask = Miscselect(binary.LittleEndian.Uint32(data[keyRequestMiscMaskOffset:]))
	kr.ConfigSVN = binary.LittleEndian.Uint16(data[keyRequestConfigSVNOffset:])
	return nil
}

func checkReserved(data []byte, from, to int, what string) error {
	for i := from; i < to; i++ {
		if data[i] != 0 {
			return errors.WithContext(ErrReservedNotZero, fmt.Sprintf("%s: byte %d", what, i))
		}
	}
	return nil
}
