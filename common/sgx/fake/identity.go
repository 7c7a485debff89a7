package fake

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ahawad/asylo/common/cbor"
	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

// Identity is the serializable description of an enclave identity, as
// reported to the enclave itself or supplied to configure a fake enclave.
type Identity struct {
	MrEnclave  sgx.MrEnclave    `json:"mrenclave"`
	MrSigner   sgx.MrSigner     `json:"mrsigner"`
	ISVProdID  uint16           `json:"isvprodid"`
	ISVSVN     uint16           `json:"isvsvn"`
	Attributes sgx.AttributeSet `json:"attributes"`
	Miscselect sgx.Miscselect   `json:"miscselect"`
	CPUSVN     sgx.CPUSVN       `json:"cpusvn"`

	ISVFamilyID  sgx.ISVFamilyID  `json:"isvfamilyid"`
	ISVExtProdID sgx.ISVExtProdID `json:"isvextprodid"`
	ConfigID     sgx.ConfigID     `json:"configid"`
	ConfigSVN    uint16           `json:"configsvn"`
}

// ToCBOR serializes the identity into canonical CBOR.
func (id *Identity) ToCBOR() []byte {
	return cbor.Marshal(id)
}

// FromCBOR decodes a CBOR marshaled identity.
func (id *Identity) FromCBOR(data []byte) error {
	return cbor.Unmarshal(data, id)
}

// Identity returns the description of the enclave identity.
func (e *Enclave) Identity() *Identity {
	return &Identity{
		MrEnclave:    e.mrenclave,
		MrSigner:     e.mrsigner,
		ISVProdID:    e.isvprodid,
		ISVSVN:       e.isvsvn,
		Attributes:   e.attributes,
		Miscselect:   e.miscselect,
		CPUSVN:       e.cpusvn,
		ISVFamilyID:  e.isvfamilyid,
		ISVExtProdID: e.isvextprodid,
		ConfigID:     e.configid,
		ConfigSVN:    e.configsvn,
	}
}

// ValidateIdentity checks that an identity can be assigned to the enclave
// without violating its valid and required attributes.
func (e *Enclave) ValidateIdentity(id *Identity) error {
	var result *multierror.Error

	if missing := e.requiredAttributes.AndNot(id.Attributes); !missing.IsZero() {
		result = multierror.Append(result, fmt.Errorf("required attributes not set: %s", missing))
	}
	if extra := id.Attributes.AndNot(e.validAttributes); !extra.IsZero() {
		result = multierror.Append(result, fmt.Errorf("attributes outside the valid set: %s", extra))
	}
	if extra := id.Miscselect &^ sgx.MiscselectAllBits; extra != 0 {
		result = multierror.Append(result, fmt.Errorf("undefined miscselect bits: 0x%08x", uint32(extra)))
	}
	if !id.Attributes.IsSet(sgx.AttributeKSS) {
		if id.ISVFamilyID != (sgx.ISVFamilyID{}) {
			result = multierror.Append(result, fmt.Errorf("isvfamilyid set without KSS"))
		}
		if id.ISVExtProdID != (sgx.ISVExtProdID{}) {
			result = multierror.Append(result, fmt.Errorf("isvextprodid set without KSS"))
		}
		if id.ConfigID != (sgx.ConfigID{}) {
			result = multierror.Append(result, fmt.Errorf("configid set without KSS"))
		}
		if id.ConfigSVN != 0 {
			result = multierror.Append(result, fmt.Errorf("configsvn set without KSS"))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.WithContext(ErrInvalidIdentityAssignment, err.Error())
	}
	return nil
}

// SetIdentity replaces the enclave identity with the given description.
// The enclave is left untouched if the description is rejected.
func (e *Enclave) SetIdentity(id *Identity) error {
	if err := e.ValidateIdentity(id); err != nil {
		return err
	}

	e.mrenclave = id.MrEnclave
	e.mrsigner = id.MrSigner
	e.isvprodid = id.ISVProdID
	e.isvsvn = id.ISVSVN
	e.attributes = id.Attributes
	e.miscselect = id.Miscselect
	e.cpusvn = id.CPUSVN
	e.isvfamilyid = id.ISVFamilyID
	e.isvextprodid = id.ISVExtProdID
	e.configid = id.ConfigID
	e.configsvn = id.ConfigSVN
	return nil
}
