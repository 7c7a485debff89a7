package fake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

// Enclave is the full identity of an emulated enclave instance.
//
// Besides the SECS identity fields an Enclave tracks which attribute bits it
// may set (valid) and which it must always set (required). Every mutation
// normalizes the identity so that Identity always yields a description
// SetIdentity accepts: the attributes are a subset of the valid bits with
// all required bits on, MISCSELECT has only defined bits, and the KSS-only
// fields are zero while the KSS attribute is clear. The zero value is not
// usable, use NewEnclave.
type Enclave struct {
	mrenclave    sgx.MrEnclave
	mrsigner     sgx.MrSigner
	isvprodid    uint16
	isvsvn       uint16
	attributes   sgx.AttributeSet
	miscselect   sgx.Miscselect
	cpusvn       sgx.CPUSVN
	reportKeyID  sgx.KeyID
	isvfamilyid  sgx.ISVFamilyID
	isvextprodid sgx.ISVExtProdID
	configid     sgx.ConfigID
	configsvn    uint16

	validAttributes    sgx.AttributeSet
	requiredAttributes sgx.AttributeSet
}

// NewEnclave returns an enclave with zero measurements whose valid
// attributes are all named bits except KSS, and whose required attributes
// are the architectural must-be-one bits.
func NewEnclave() *Enclave {
	required := sgx.MustBeOneAttributes()
	valid := sgx.AllNamedAttributes()
	valid.Clear(sgx.AttributeKSS)

	return &Enclave{
		attributes:         required,
		validAttributes:    valid,
		requiredAttributes: required,
	}
}

// NewRandomEnclave returns a default enclave with a random identity.
func NewRandomEnclave() (*Enclave, error) {
	e := NewEnclave()
	if err := e.SetRandomIdentity(); err != nil {
		return nil, err
	}
	return e, nil
}

// Clone returns an independent copy of the enclave.
func (e *Enclave) Clone() *Enclave {
	c := *e
	return &c
}

// Equal returns true iff every field of both enclaves is equal.
func (e *Enclave) Equal(other *Enclave) bool {
	if e == nil || other == nil {
		return e == other
	}
	return *e == *other
}

func (e *Enclave) normalize(a sgx.AttributeSet) sgx.AttributeSet {
	return a.And(e.validAttributes).Or(e.requiredAttributes)
}

// clearKSSFields zeroes the KSS-only fields unless the attributes carry KSS.
func (e *Enclave) clearKSSFields() {
	if e.attributes.IsSet(sgx.AttributeKSS) {
		return
	}
	e.isvfamilyid = sgx.ISVFamilyID{}
	e.isvextprodid = sgx.ISVExtProdID{}
	e.configid = sgx.ConfigID{}
	e.configsvn = 0
}

// SetRandomIdentity replaces every identity field with random bits. The
// attributes are normalized to the valid and required sets, MISCSELECT is
// limited to its defined bits, and the KSS fields are zeroed unless the
// resulting attributes carry KSS.
func (e *Enclave) SetRandomIdentity() error {
	var (
		u16s  [4]byte
		attrs [sgx.AttributesSize]byte
		misc  [4]byte
		svns  [2]byte
	)
	for _, b := range [][]byte{
		e.mrenclave[:],
		e.mrsigner[:],
		u16s[:],
		attrs[:],
		misc[:],
		e.cpusvn[:],
		e.reportKeyID[:],
		e.isvfamilyid[:],
		e.isvextprodid[:],
		e.configid[:],
		svns[:],
	} {
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return fmt.Errorf("fake: failed to generate random identity: %w", err)
		}
	}

	e.isvprodid = binary.LittleEndian.Uint16(u16s[0:])
	e.isvsvn = binary.LittleEndian.Uint16(u16s[2:])
	e.configsvn = binary.LittleEndian.Uint16(svns[:])
	e.miscselect = sgx.Miscselect(binary.LittleEndian.Uint32(misc[:])) & sgx.MiscselectAllBits

	var a sgx.AttributeSet
	if err := a.UnmarshalBinary(attrs[:]); err != nil {
		return err
	}
	e.attributes = e.normalize(a)
	e.clearKSSFields()
	return nil
}

// MrEnclave returns the enclave measurement.
func (e *Enclave) MrEnclave() sgx.MrEnclave { return e.mrenclave }

// SetMrEnclave sets the enclave measurement.
func (e *Enclave) SetMrEnclave(v sgx.MrEnclave) { e.mrenclave = v }

// MrSigner returns the signer measurement.
func (e *Enclave) MrSigner() sgx.MrSigner { return e.mrsigner }

// SetMrSigner sets the signer measurement.
func (e *Enclave) SetMrSigner(v sgx.MrSigner) { e.mrsigner = v }

// ISVProdID returns the product id.
func (e *Enclave) ISVProdID() uint16 { return e.isvprodid }

// SetISVProdID sets the product id.
func (e *Enclave) SetISVProdID(v uint16) { e.isvprodid = v }

// ISVSVN returns the security version.
func (e *Enclave) ISVSVN() uint16 { return e.isvsvn }

// SetISVSVN sets the security version.
func (e *Enclave) SetISVSVN(v uint16) { e.isvsvn = v }

// Attributes returns the enclave attributes.
func (e *Enclave) Attributes() sgx.AttributeSet { return e.attributes }

// SetAttributes sets the enclave attributes. Bits outside the valid set are
// dropped and required bits are forced on. Clearing KSS zeroes the KSS-only
// fields.
func (e *Enclave) SetAttributes(v sgx.AttributeSet) {
	e.attributes = e.normalize(v)
	e.clearKSSFields()
}

// Miscselect returns the MISCSELECT value.
func (e *Enclave) Miscselect() sgx.Miscselect { return e.miscselect }

// SetMiscselect sets the MISCSELECT value. Undefined bits are dropped.
func (e *Enclave) SetMiscselect(v sgx.Miscselect) { e.miscselect = v & sgx.MiscselectAllBits }

// CPUSVN returns the platform security version the enclave runs under.
func (e *Enclave) CPUSVN() sgx.CPUSVN { return e.cpusvn }

// SetCPUSVN sets the platform security version.
func (e *Enclave) SetCPUSVN(v sgx.CPUSVN) { e.cpusvn = v }

// ReportKeyID returns the default report key id.
func (e *Enclave) ReportKeyID() sgx.KeyID { return e.reportKeyID }

// SetReportKeyID sets the default report key id.
func (e *Enclave) SetReportKeyID(v sgx.KeyID) { e.reportKeyID = v }

// ISVFamilyID returns the KSS product family id.
func (e *Enclave) ISVFamilyID() sgx.ISVFamilyID { return e.isvfamilyid }

// SetISVFamilyID sets the KSS product family id. It stays
// zero while the KSS attribute is clear.
func (e *Enclave) SetISVFamilyID(v sgx.ISVFamilyID) {
	e.isvfamilyid = v
	e.clearKSSFields()
}

// ISVExtProdID returns the KSS extended product id.
func (e *Enclave) ISVExtProdID() sgx.ISVExtProdID { return e.isvextprodid }

// SetISVExtProdID sets the KSS extended product id. It stays
// zero while the KSS attribute is clear.
func (e *Enclave) SetISVExtProdID(v sgx.ISVExtProdID) {
	e.isvextprodid = v
	e.clearKSSFields()
}

// ConfigID returns the KSS config id.
func (e *Enclave) ConfigID() sgx.ConfigID { return e.configid }

// SetConfigID sets the KSS config id. It stays
// zero while the KSS attribute is clear.
func (e *Enclave) SetConfigID(v sgx.ConfigID) {
	e.configid = v
	e.clearKSSFields()
}

// ConfigSVN returns the KSS config security version.
func (e *Enclave) ConfigSVN() uint16 { return e.configsvn }

// SetConfigSVN sets the KSS config security version. It stays
// zero while the KSS attribute is clear.
func (e *Enclave) SetConfigSVN(v uint16) {
	e.configsvn = v
	e.clearKSSFields()
}

// ValidAttributes returns the attribute bits the enclave may set.
func (e *Enclave) ValidAttributes() sgx.AttributeSet { return e.validAttributes }

// RequiredAttributes returns the attribute bits the enclave always sets.
func (e *Enclave) RequiredAttributes() sgx.AttributeSet { return e.requiredAttributes }

// AddValidAttribute allows the enclave to set the given bit.
func (e *Enclave) AddValidAttribute(bit sgx.AttributeBit) {
	e.validAttributes.Set(bit)
}

// RemoveValidAttribute forbids the enclave from setting the given bit and
// clears it from the attributes. Required bits cannot be removed. Removing
// KSS zeroes the KSS-only fields.
func (e *Enclave) RemoveValidAttribute(bit sgx.AttributeBit) error {
	if e.requiredAttributes.IsSet(bit) {
		return errors.WithContext(ErrInvalidIdentityAssignment, fmt.Sprintf("attribute %s is required", bit))
	}
	e.validAttributes.Clear(bit)
	e.attributes.Clear(bit)
	e.clearKSSFields()
	return nil
}

// AddRequiredAttribute makes the given bit valid and required, and sets it
// in the attributes.
func (e *Enclave) AddRequiredAttribute(bit sgx.AttributeBit) {
	e.validAttributes.Set(bit)
	e.requiredAttributes.Set(bit)
	e.attributes.Set(bit)
}

// TargetInfo returns the TARGETINFO addressing reports to this enclave.
func (e *Enclave) TargetInfo() *sgx.TargetInfo {
	return &sgx.TargetInfo{
		Measurement: e.mrenclave,
		Attributes:  e.attributes,
		ConfigSVN:   e.configsvn,
		Miscselect:  e.miscselect,
		ConfigID:    e.configid,
	}
}
