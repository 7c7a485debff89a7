package fake

import (
	"encoding/binary"
	"fmt"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

const keyDependenciesSize = 288

// keyDependencies is the input of the key derivation function. Fields not
// selected by the request are left zero, so that a change in a deselected
// identity field leaves the derived key unchanged.
//
// Layout (little-endian):
//
//	  0 keyname        u16
//	  2 keypolicy      u16
//	  4 isvprodid      u16
//	  6 isvsvn         u16
//	  8 configsvn      u16
//	 12 miscselect     u32
//	 16 miscmask       u32
//	 32 ownerepoch     [16]
//	 48 attributes     [16]
//	 64 attributemask  [16]
//	 80 cpusvn         [16]
//	 96 isvfamilyid    [16]
//	112 isvextprodid   [16]
//	128 mrenclave      [32]
//	160 mrsigner       [32]
//	192 keyid          [32]
//	224 configid       [64]
type keyDependencies struct {
	keyName       sgx.KeyName
	keyPolicy     sgx.KeyPolicy
	isvProdID     uint16
	isvSVN        uint16
	configSVN     uint16
	miscselect    sgx.Miscselect
	miscMask      sgx.Miscselect
	ownerEpoch    OwnerEpoch
	attributes    sgx.AttributeSet
	attributeMask sgx.AttributeSet
	cpusvn        sgx.CPUSVN
	isvFamilyID   sgx.ISVFamilyID
	isvExtProdID  sgx.ISVExtProdID
	mrEnclave     sgx.MrEnclave
	mrSigner      sgx.MrSigner
	keyID         sgx.KeyID
	configID      sgx.ConfigID
}

// MarshalBinary encodes the dependencies into their canonical layout.
func (d *keyDependencies) MarshalBinary() []byte {
	b := make([]byte, keyDependenciesSize)
	binary.LittleEndian.PutUint16(b[0:], uint16(d.keyName))
	binary.LittleEndian.PutUint16(b[2:], uint16(d.keyPolicy))
	binary.LittleEndian.PutUint16(b[4:], d.isvProdID)
	binary.LittleEndian.PutUint16(b[6:], d.isvSVN)
	binary.LittleEndian.PutUint16(b[8:], d.configSVN)
	binary.LittleEndian.PutUint32(b[12:], uint32(d.miscselect))
	binary.LittleEndian.PutUint32(b[16:], uint32(d.miscMask))
	copy(b[32:], d.ownerEpoch[:])
	attributes, _ := d.attributes.MarshalBinary()
	copy(b[48:], attributes)
	attributeMask, _ := d.attributeMask.MarshalBinary()
	copy(b[64:], attributeMask)
	copy(b[80:], d.cpusvn[:])
	copy(b[96:], d.isvFamilyID[:])
	copy(b[112:], d.isvExtProdID[:])
	copy(b[128:], d.mrEnclave[:])
	copy(b[160:], d.mrSigner[:])
	copy(b[192:], d.keyID[:])
	copy(b[224:], d.configID[:])
	return b
}

// sealKeyDependencies selects the identity fields a SEAL_KEY depends on.
//
// The requested ISVSVN and CONFIGSVN are used rather than the enclave's
// own, so a key derived before a security upgrade can still be derived
// after it.
func sealKeyDependencies(p *Platform, e *Enclave, req *sgx.KeyRequest) *keyDependencies {
	policy := req.KeyPolicy
	deps := &keyDependencies{
		keyName:       sgx.KeyNameSeal,
		keyPolicy:     policy,
		isvSVN:        req.ISVSVN,
		miscselect:    e.miscselect & req.MiscMask,
		miscMask:      req.MiscMask,
		ownerEpoch:    p.ownerEpoch,
		attributes:    e.attributes.And(req.AttributeMask),
		attributeMask: req.AttributeMask,
		cpusvn:        e.cpusvn,
		keyID:         req.KeyID,
	}
	if !policy.Contains(sgx.KeyPolicyNoISVProdID) {
		deps.isvProdID = e.isvprodid
	}
	if policy.Contains(sgx.KeyPolicyMrEnclave) {
		deps.mrEnclave = e.mrenclave
	}
	if policy.Contains(sgx.KeyPolicyMrSigner) {
		deps.mrSigner = e.mrsigner
	}
	if policy.Contains(sgx.KeyPolicyISVFamilyID) {
		deps.isvFamilyID = e.isvfamilyid
	}
	if policy.Contains(sgx.KeyPolicyISVExtProdID) {
		deps.isvExtProdID = e.isvextprodid
	}
	if policy.Contains(sgx.KeyPolicyConfigID) {
		deps.configID = e.configid
		deps.configSVN = req.ConfigSVN
	}
	return deps
}

// reportKeyDependencies selects the fields a REPORT_KEY depends on. These
// are exactly the fields of a TARGETINFO, so a report's author can derive
// its target's report key and the target can derive its own.
func reportKeyDependencies(p *Platform, ti *sgx.TargetInfo, keyID sgx.KeyID) *keyDependencies {
	return &keyDependencies{
		keyName:    sgx.KeyNameReport,
		configSVN:  ti.ConfigSVN,
		miscselect: ti.Miscselect,
		ownerEpoch: p.ownerEpoch,
		attributes: ti.Attributes,
		mrEnclave:  ti.Measurement,
		keyID:      keyID,
		configID:   ti.ConfigID,
	}
}

// checkKeyRequest applies the EGETKEY access control rules for the
// enclave.
func checkKeyRequest(e *Enclave, req *sgx.KeyRequest) error {
	if !req.KeyName.IsValid() {
		return errors.WithContext(ErrInvalidKeyName, req.KeyName.String())
	}
	if reserved := req.KeyPolicy &^ sgx.KeyPolicyAllBits; reserved != 0 {
		return errors.WithContext(ErrInvalidKeyPolicy, fmt.Sprintf("0x%04x", uint16(reserved)))
	}
	if req.ISVSVN > e.isvsvn {
		return errors.WithContext(ErrInvalidVersion, fmt.Sprintf("isvsvn %d > %d", req.ISVSVN, e.isvsvn))
	}
	if req.ConfigSVN > e.configsvn {
		return errors.WithContext(ErrInvalidVersion, fmt.Sprintf("configsvn %d > %d", req.ConfigSVN, e.configsvn))
	}
	if req.KeyPolicy.Intersects(sgx.KeyPolicyKSSGated) && !e.attributes.IsSet(sgx.AttributeKSS) {
		return errors.WithContext(ErrInvalidAttributeRequest, (req.KeyPolicy & sgx.KeyPolicyKSSGated).String())
	}
	return nil
}

func (p *Platform) getKey(e *Enclave, req *sgx.KeyRequest) (sgx.HardwareKey, error) {
	if err := checkKeyRequest(e, req); err != nil {
		return sgx.HardwareKey{}, err
	}

	var deps *keyDependencies
	switch req.KeyName {
	case sgx.KeyNameSeal:
		deps = sealKeyDependencies(p, e, req)
	case sgx.KeyNameReport:
		deps = reportKeyDependencies(p, e.TargetInfo(), req.KeyID)
	}
	return p.deriveKey(deps)
}

// NewSealKeyRequest returns a SEAL_KEY request for the enclave's current
// security versions. The attribute mask selects every bit except the
// default do-not-care bits, the miscselect mask selects every bit.
func NewSealKeyRequest(e *Enclave, policy sgx.KeyPolicy, keyID sgx.KeyID) *sgx.KeyRequest {
	req := &sgx.KeyRequest{
		KeyName:       sgx.KeyNameSeal,
		KeyPolicy:     policy,
		ISVSVN:        e.isvsvn,
		AttributeMask: sgx.DefaultDoNotCareAttributes().Not().Or(sgx.RequiredSealingAttributes()),
		KeyID:         keyID,
		MiscMask:      ^sgx.Miscselect(0),
	}
	if policy.Contains(sgx.KeyPolicyConfigID) {
		req.ConfigSVN = e.configsvn
	}
	return req
}

// NewReportKeyRequest returns the REPORT_KEY request used to authenticate
// reports produced or received by the enclave.
func NewReportKeyRequest(e *Enclave, keyID sgx.KeyID) *sgx.KeyRequest {
	return &sgx.KeyRequest{
		KeyName:       sgx.KeyNameReport,
		KeyPolicy:     sgx.KeyPolicyMrEnclave | sgx.KeyPolicyMrSigner,
		ISVSVN:        e.isvsvn,
		AttributeMask: sgx.DefaultDoNotCareAttributes().Not(),
		KeyID:         keyID,
		MiscMask:      ^sgx.Miscselect(0),
		ConfigSVN:     e.configsvn,
	}
}

// GetHardwareKey emulates EGETKEY for the enclave entered on the thread.
func (t *Thread) GetHardwareKey(req *sgx.KeyRequest) (sgx.HardwareKey, error) {
	if req == nil {
		err := errors.WithContext(ErrInvalidArgument, "nil key request")
		keyFailed(err)
		return sgx.HardwareKey{}, err
	}

	e, err := t.enclave()
	if err != nil {
		keyFailed(err)
		return sgx.HardwareKey{}, err
	}

	key, err := t.platform.getKey(e, req)
	if err != nil {
		keyFailed(err)
		return sgx.HardwareKey{}, err
	}
	keyDerived(req.KeyName)

	return key, nil
}
