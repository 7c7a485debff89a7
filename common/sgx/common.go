// Package sgx provides Intel SGX identity, key request and report datatypes
// together with their architectural binary layouts.
package sgx

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/ahawad/asylo/common/errors"
)

// ModuleName is the module name used for error definitions.
const ModuleName = "sgx"

const (
	// MrEnclaveSize is the size of an MrEnclave in bytes.
	MrEnclaveSize = sha256.Size

	// MrSignerSize is the size of an MrSigner in bytes.
	MrSignerSize = sha256.Size

	// CPUSVNSize is the size of a CPUSVN in bytes.
	CPUSVNSize = 16

	// ISVFamilyIDSize is the size of an ISVFAMILYID in bytes.
	ISVFamilyIDSize = 16

	// ISVExtProdIDSize is the size of an ISVEXTPRODID in bytes.
	ISVExtProdIDSize = 16

	// ConfigIDSize is the size of a CONFIGID in bytes.
	ConfigIDSize = 64

	// KeyIDSize is the size of a KEYID in bytes.
	KeyIDSize = 32

	// ReportDataSize is the size of REPORTDATA in bytes.
	ReportDataSize = 64

	// MACSize is the size of a REPORT MAC in bytes.
	MACSize = 16

	// HardwareKeySize is the size of a key returned by EGETKEY in bytes.
	HardwareKeySize = 16
)

var (
	// ErrMalformed is the error returned when a binary or text encoding
	// has the wrong size or cannot be decoded.
	ErrMalformed = errors.New(ModuleName, 1, "sgx: malformed value")

	// ErrReservedNotZero is the error returned when decoding a structure
	// whose reserved regions are not zero-filled.
	ErrReservedNotZero = errors.New(ModuleName, 2, "sgx: reserved region is not zero")

	// ErrInvalidKeyPolicy is the error returned when parsing an unknown
	// KEYPOLICY bit name.
	ErrInvalidKeyPolicy = errors.New(ModuleName, 3, "sgx: invalid key policy")

	// ErrInvalidAttribute is the error returned when parsing an unknown
	// attribute bit name.
	ErrInvalidAttribute = errors.New(ModuleName, 4, "sgx: invalid attribute")
)

func unmarshalFixed(dst, data []byte, what string) error {
	if len(data) != len(dst) {
		return errors.WithContext(ErrMalformed, fmt.Sprintf("%s: expected %d bytes, got %d", what, len(dst), len(data)))
	}
	copy(dst, data)
	return nil
}

func unmarshalHexFixed(dst []byte, text, what string) error {
	b, err := hex.DecodeString(text)
	if err != nil {
		return errors.WithContext(ErrMalformed, fmt.Sprintf("%s: %v", what, err))
	}
	return unmarshalFixed(dst, b, what)
}

// MrEnclave is a SGX enclave identity register value (MRENCLAVE).
type MrEnclave [MrEnclaveSize]byte

// MarshalBinary encodes a MrEnclave into binary form.
func (m MrEnclave) MarshalBinary() ([]byte, error) {
	return append([]byte{}, m[:]...), nil
}

// UnmarshalBinary decodes a binary marshaled MrEnclave.
func (m *MrEnclave) UnmarshalBinary(data []byte) error {
	return unmarshalFixed(m[:], data, "MRENCLAVE")
}

// MarshalText encodes a MrEnclave into hex form.
func (m MrEnclave) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a hex marshaled MrEnclave.
func (m *MrEnclave) UnmarshalText(text []byte) error {
	return m.UnmarshalHex(string(text))
}

// UnmarshalHex decodes a hex marshaled MrEnclave.
func (m *MrEnclave) UnmarshalHex(text string) error {
	return unmarshalHexFixed(m[:], text, "MRENCLAVE")
}

// FromSgxsBytes derives a MrEnclave from a byte slice containing a `.sgxs`
// file, whose SHA256 digest is the MRENCLAVE.
func (m *MrEnclave) FromSgxsBytes(data []byte) {
	*m = sha256.Sum256(data)
}

// String returns the string representation of a MrEnclave.
func (m MrEnclave) String() string {
	return hex.EncodeToString(m[:])
}

// MrSigner is a SGX enclave signer register value (MRSIGNER).
type MrSigner [MrSignerSize]byte

// MarshalBinary encodes a MrSigner into binary form.
func (m MrSigner) MarshalBinary() ([]byte, error) {
	return append([]byte{}, m[:]...), nil
}

// UnmarshalBinary decodes a binary marshaled MrSigner.
func (m *MrSigner) UnmarshalBinary(data []byte) error {
	return unmarshalFixed(m[:], data, "MRSIGNER")
}

// MarshalText encodes a MrSigner into hex form.
func (m MrSigner) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a hex marshaled MrSigner.
func (m *MrSigner) UnmarshalText(text []byte) error {
	return m.UnmarshalHex(string(text))
}

// UnmarshalHex decodes a hex marshaled MrSigner.
func (m *MrSigner) UnmarshalHex(text string) error {
	return unmarshalHexFixed(m[:], text, "MRSIGNER")
}

// String returns the string representation of a MrSigner.
func (m MrSigner) String() string {
	return hex.EncodeToString(m[:])
}

// CPUSVN is the platform security version number.
type CPUSVN [CPUSVNSize]byte

// MarshalText encodes a CPUSVN into hex form.
func (c CPUSVN) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(c[:])), nil
}

// UnmarshalText decodes a hex marshaled CPUSVN.
func (c *CPUSVN) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(c[:], string(text), "CPUSVN")
}

// ISVFamilyID is the KSS product family identifier (ISVFAMILYID).
type ISVFamilyID [ISVFamilyIDSize]byte

// MarshalText encodes an ISVFamilyID into hex form.
func (id ISVFamilyID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

// UnmarshalText decodes a hex marshaled ISVFamilyID.
func (id *ISVFamilyID) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(id[:], string(text), "ISVFAMILYID")
}

// ISVExtProdID is the KSS extended product identifier (ISVEXTPRODID).
type ISVExtProdID [ISVExtProdIDSize]byte

// MarshalText encodes an ISVExtProdID into hex form.
func (id ISVExtProdID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

// UnmarshalText decodes a hex marshaled ISVExtProdID.
func (id *ISVExtProdID) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(id[:], string(text), "ISVEXTPRODID")
}

// ConfigID is the KSS enclave configuration identifier (CONFIGID).
type ConfigID [ConfigIDSize]byte

// MarshalText encodes a ConfigID into hex form.
func (id ConfigID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

// UnmarshalText decodes a hex marshaled ConfigID.
func (id *ConfigID) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(id[:], string(text), "CONFIGID")
}

// KeyID is the caller supplied nonce mixed into a key derivation (KEYID).
type KeyID [KeyIDSize]byte

// MarshalText encodes a KeyID into hex form.
func (id KeyID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

// UnmarshalText decodes a hex marshaled KeyID.
func (id *KeyID) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(id[:], string(text), "KEYID")
}

// ReportData is the caller payload bound into a report (REPORTDATA).
type ReportData [ReportDataSize]byte

// MarshalText encodes a ReportData into hex form.
func (rd ReportData) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(rd[:])), nil
}

// UnmarshalText decodes a hex marshaled ReportData.
func (rd *ReportData) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(rd[:], string(text), "REPORTDATA")
}

// ReportDataFromHash returns a ReportData carrying the SHA-256 digest of
// data in its first half and zeros in the second.
func ReportDataFromHash(data []byte) ReportData {
	var rd ReportData
	sum := sha256.Sum256(data)
	copy(rd[:], sum[:])
	return rd
}

// MAC is a report authentication tag.
type MAC [MACSize]byte

// Equal compares two MACs in constant time.
func (m *MAC) Equal(other *MAC) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(m[:], other[:]) == 1
}

// MarshalText encodes a MAC into hex form.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(m[:])), nil
}

// UnmarshalText decodes a hex marshaled MAC.
func (m *MAC) UnmarshalText(text []byte) error {
	return unmarshalHexFixed(m[:], string(text), "MAC")
}

// HardwareKey is a 128-bit key returned by the EGETKEY instruction.
type HardwareKey [HardwareKeySize]byte

// String returns the hex representation of a HardwareKey.
func (k HardwareKey) String() string {
	return hex.EncodeToString(k[:])
}
