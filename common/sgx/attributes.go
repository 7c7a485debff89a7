package sgx

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ahawad/asylo/common/errors"
)

// AttributesSize is the size of the SECS.ATTRIBUTES field in bytes.
const AttributesSize = 16

// AttributeBit is the position of a flag within the 128-bit SECS
// ATTRIBUTES field. Bits 0-63 are the FLAGS word and bits 64-127 the
// XFRM word.
type AttributeBit uint8

// Architecturally defined attribute bits.
const (
	AttributeInit         AttributeBit = 0
	AttributeDebug        AttributeBit = 1
	AttributeMode64Bit    AttributeBit = 2
	AttributeProvisionKey AttributeBit = 4
	AttributeInitTokenKey AttributeBit = 5
	AttributeKSS          AttributeBit = 7

	AttributeX87      AttributeBit = 64
	AttributeSSE      AttributeBit = 65
	AttributeAVX      AttributeBit = 66
	AttributeBNDREG   AttributeBit = 67
	AttributeBNDCSR   AttributeBit = 68
	AttributeOPMASK   AttributeBit = 69
	AttributeZMMHI256 AttributeBit = 70
	AttributeHI16ZMM  AttributeBit = 71
	AttributePKRU     AttributeBit = 73
)

type attributeInfo struct {
	name string

	// mustBeOne bits are forced on by the architecture for every
	// initialized enclave.
	mustBeOne bool
	// doNotCare bits are excluded from key derivation by default policy.
	doNotCare bool
}

var attributeTable = map[AttributeBit]attributeInfo{
	AttributeInit:         {name: "INIT", mustBeOne: true},
	AttributeDebug:        {name: "DEBUG"},
	AttributeMode64Bit:    {name: "MODE64BIT"},
	AttributeProvisionKey: {name: "PROVISIONKEY"},
	AttributeInitTokenKey: {name: "INITTOKENKEY"},
	AttributeKSS:          {name: "KSS"},
	AttributeX87:          {name: "X87", mustBeOne: true},
	AttributeSSE:          {name: "SSE", mustBeOne: true},
	AttributeAVX:          {name: "AVX"},
	AttributeBNDREG:       {name: "BNDREG", doNotCare: true},
	AttributeBNDCSR:       {name: "BNDCSR", doNotCare: true},
	AttributeOPMASK:       {name: "OPMASK", doNotCare: true},
	AttributeZMMHI256:     {name: "ZMM_HI256", doNotCare: true},
	AttributeHI16ZMM:      {name: "HI16_ZMM", doNotCare: true},
	AttributePKRU:         {name: "PKRU", doNotCare: true},
}

// String returns the architectural name of the bit.
func (b AttributeBit) String() string {
	if info, ok := attributeTable[b]; ok {
		return info.name
	}
	return fmt.Sprintf("bit%d", uint8(b))
}

// ParseAttributeBit parses an architectural attribute bit name.
func ParseAttributeBit(name string) (AttributeBit, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for bit, info := range attributeTable {
		if info.name == name {
			return bit, nil
		}
	}
	return 0, errors.WithContext(ErrInvalidAttribute, name)
}

// AttributeSet is the 128-bit SECS.ATTRIBUTES value.
type AttributeSet struct {
	Flags uint64
	Xfrm  uint64
}

// NewAttributeSet returns a set with exactly the given bits on.
func NewAttributeSet(bits ...AttributeBit) AttributeSet {
	var a AttributeSet
	for _, b := range bits {
		a.Set(b)
	}
	return a
}

func tableAttributeSet(pred func(attributeInfo) bool) AttributeSet {
	var a AttributeSet
	for bit, info := range attributeTable {
		if pred(info) {
			a.Set(bit)
		}
	}
	return a
}

// AllNamedAttributes returns the set of every architecturally named bit.
func AllNamedAttributes() AttributeSet {
	return tableAttributeSet(func(attributeInfo) bool { return true })
}

// MustBeOneAttributes returns the bits the architecture requires to be set.
func MustBeOneAttributes() AttributeSet {
	return tableAttributeSet(func(info attributeInfo) bool { return info.mustBeOne })
}

// DefaultDoNotCareAttributes returns the bits that by default policy do
// not participate in key derivation.
func DefaultDoNotCareAttributes() AttributeSet {
	return tableAttributeSet(func(info attributeInfo) bool { return info.doNotCare })
}

// RequiredSealingAttributes returns the bits every sealing ATTRIBUTEMASK
// must select.
func RequiredSealingAttributes() AttributeSet {
	return NewAttributeSet(AttributeInit, AttributeDebug)
}

func (a *AttributeSet) word(b AttributeBit) (*uint64, uint64) {
	if b >= 64 {
		return &a.Xfrm, 1 << (b - 64)
	}
	return &a.Flags, 1 << b
}

// IsSet returns true iff the bit is set.
func (a AttributeSet) IsSet(b AttributeBit) bool {
	if b > 127 {
		return false
	}
	w, mask := a.word(b)
	return *w&mask != 0
}

// Set turns the bit on.
func (a *AttributeSet) Set(b AttributeBit) {
	if b > 127 {
		return
	}
	w, mask := a.word(b)
	*w |= mask
}

// Clear turns the bit off.
func (a *AttributeSet) Clear(b AttributeBit) {
	if b > 127 {
		return
	}
	w, mask := a.word(b)
	*w &^= mask
}

// And returns the intersection of two sets.
func (a AttributeSet) And(other AttributeSet) AttributeSet {
	return AttributeSet{Flags: a.Flags & other.Flags, Xfrm: a.Xfrm & other.Xfrm}
}

// Or returns the union of two sets.
func (a AttributeSet) Or(other AttributeSet) AttributeSet {
	return AttributeSet{Flags: a.Flags | other.Flags, Xfrm: a.Xfrm | other.Xfrm}
}

// AndNot returns the bits of a that are not in other.
func (a AttributeSet) AndNot(other AttributeSet) AttributeSet {
	return AttributeSet{Flags: a.Flags &^ other.Flags, Xfrm: a.Xfrm &^ other.Xfrm}
}

// Not returns the complement of the set.
func (a AttributeSet) Not() AttributeSet {
	return AttributeSet{Flags: ^a.Flags, Xfrm: ^a.Xfrm}
}

// IsSubsetOf returns true iff every bit of a is also set in other.
func (a AttributeSet) IsSubsetOf(other AttributeSet) bool {
	return a.AndNot(other).IsZero()
}

// IsZero returns true iff no bit is set.
func (a AttributeSet) IsZero() bool {
	return a.Flags == 0 && a.Xfrm == 0
}

// Bits returns the set bits in ascending order.
func (a AttributeSet) Bits() []AttributeBit {
	var bits []AttributeBit
	for b := 0; b < 128; b++ {
		if a.IsSet(AttributeBit(b)) {
			bits = append(bits, AttributeBit(b))
		}
	}
	return bits
}

// String returns a human readable list of the set bits.
func (a AttributeSet) String() string {
	bits := a.Bits()
	names := make([]string, 0, len(bits))
	for _, b := range bits {
		names = append(names, b.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalBinary encodes the set in its 16 byte little-endian layout.
func (a AttributeSet) MarshalBinary() ([]byte, error) {
	var b [AttributesSize]byte
	a.put(b[:])
	return b[:], nil
}

func (a AttributeSet) put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], a.Flags)
	binary.LittleEndian.PutUint64(b[8:], a.Xfrm)
}

// UnmarshalBinary decodes a binary marshaled AttributeSet.
func (a *AttributeSet) UnmarshalBinary(data []byte) error {
	if len(data) != AttributesSize {
		return errors.WithContext(ErrMalformed, "ATTRIBUTES")
	}
	a.get(data)
	return nil
}

func (a *AttributeSet) get(b []byte) {
	a.Flags = binary.LittleEndian.Uint64(b[0:])
	a.Xfrm = binary.LittleEndian.Uint64(b[8:])
}

// MarshalText encodes the set as the hex of its binary layout.
func (a AttributeSet) MarshalText() ([]byte, error) {
	b, _ := a.MarshalBinary()
	return []byte(hex.EncodeToString(b)), nil
}

// UnmarshalText decodes the set from either the hex of its binary layout
// or a comma separated list of bit names.
func (a *AttributeSet) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if b, err := hex.DecodeString(s); err == nil && len(b) == AttributesSize {
		a.get(b)
		return nil
	}

	var set AttributeSet
	if s != "" {
		for _, name := range strings.Split(s, ",") {
			bit, err := ParseAttributeBit(name)
			if err != nil {
				return err
			}
			set.Set(bit)
		}
	}
	*a = set
	return nil
}

// Miscselect is the 32-bit SECS.MISCSELECT value.
type Miscselect uint32

const (
	// MiscselectExInfo reports #PF and #GP information in the SSA.
	MiscselectExInfo Miscselect = 1 << 0

	// MiscselectAllBits is the set of architecturally defined bits.
	MiscselectAllBits = MiscselectExInfo
)

// KeyPolicy is the KEYREQUEST.KEYPOLICY bitmask selecting which identity
// components feed a key derivation.
type KeyPolicy uint16

// Key policy bits.
const (
	KeyPolicyMrEnclave    KeyPolicy = 1 << 0
	KeyPolicyMrSigner     KeyPolicy = 1 << 1
	KeyPolicyNoISVProdID  KeyPolicy = 1 << 2
	KeyPolicyConfigID     KeyPolicy = 1 << 3
	KeyPolicyISVFamilyID  KeyPolicy = 1 << 4
	KeyPolicyISVExtProdID KeyPolicy = 1 << 5

	// KeyPolicyKSSGated is the set of bits that select fields only
	// available to enclaves with the KSS attribute.
	KeyPolicyKSSGated = KeyPolicyConfigID | KeyPolicyISVFamilyID | KeyPolicyISVExtProdID

	// KeyPolicyKSSBits is the set of bits introduced by the key
	// separation and sharing extension.
	KeyPolicyKSSBits = KeyPolicyNoISVProdID | KeyPolicyKSSGated

	// KeyPolicyAllBits is the set of architecturally defined bits.
	KeyPolicyAllBits = KeyPolicyMrEnclave | KeyPolicyMrSigner | KeyPolicyKSSBits
)

var keyPolicyNames = map[KeyPolicy]string{
	KeyPolicyMrEnclave:    "mrenclave",
	KeyPolicyMrSigner:     "mrsigner",
	KeyPolicyNoISVProdID:  "noisvprodid",
	KeyPolicyConfigID:     "configid",
	KeyPolicyISVFamilyID:  "isvfamilyid",
	KeyPolicyISVExtProdID: "isvextprodid",
}

// Contains returns true iff every bit of other is set in p.
func (p KeyPolicy) Contains(other KeyPolicy) bool {
	return p&other == other
}

// Intersects returns true iff any bit of other is set in p.
func (p KeyPolicy) Intersects(other KeyPolicy) bool {
	return p&other != 0
}

// String returns a comma separated list of the policy bit names.
func (p KeyPolicy) String() string {
	var names []string
	for bit, name := range keyPolicyNames {
		if p.Contains(bit) {
			names = append(names, name)
		}
	}
	if rest := p &^ KeyPolicyAllBits; rest != 0 {
		names = append(names, fmt.Sprintf("0x%04x", uint16(rest)))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// MarshalText encodes the policy as a comma separated list of bit names.
func (p KeyPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a comma separated list of policy bit names.
func (p *KeyPolicy) UnmarshalText(text []byte) error {
	var policy KeyPolicy
	s := strings.TrimSpace(string(text))
	if s != "" {
	Outer:
		for _, name := range strings.Split(s, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			for bit, bitName := range keyPolicyNames {
				if bitName == name {
					policy |= bit
					continue Outer
				}
			}
			return errors.WithContext(ErrInvalidKeyPolicy, name)
		}
	}
	*p = policy
	return nil
}
