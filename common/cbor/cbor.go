// Package cbor provides helpers for encoding and decoding canonical CBOR.
//
// Encodings are deterministic, so they can be authenticated as sealing
// additional data or persisted and compared byte for byte.
package cbor

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// CfgDebugStrictCBOR rejects input that does not re-encode to itself.
const CfgDebugStrictCBOR = "debug.strict_cbor"

// Flags has the flags used by the CBOR wrapper.
var Flags = flag.NewFlagSet("", flag.ContinueOnError)

// Limits on decoded input. Sealed blobs and identities are shallow.
const (
	maxNestedLevels  = 16
	maxArrayElements = 4096
	maxMapPairs      = 256
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

// Marshal serializes src into canonical CBOR. It panics if src cannot be
// encoded, which only happens for unsupported types.
func Marshal(src interface{}) []byte {
	b, err := encMode.Marshal(src)
	if err != nil {
		panic("common/cbor: failed to marshal: " + err.Error())
	}
	return b
}

// Unmarshal deserializes data into dst. A nil input leaves dst untouched.
func Unmarshal(data []byte, dst interface{}) error {
	if data == nil {
		return nil
	}
	if err := decMode.Unmarshal(data, dst); err != nil {
		return err
	}
	if viper.GetBool(CfgDebugStrictCBOR) {
		return checkRoundTrip(data, dst)
	}
	return nil
}

func checkRoundTrip(data []byte, dst interface{}) error {
	if reencoded := Marshal(dst); !bytes.Equal(data, reencoded) {
		return fmt.Errorf("common/cbor: encoded %T does not round-trip (expected: %x, actual: %x)",
			dst, data, reencoded,
		)
	}
	return nil
}

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		TagsMd:           cbor.TagsForbidden,
		MaxNestedLevels:  maxNestedLevels,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
	}.DecMode()
	if err != nil {
		panic(err)
	}

	Flags.Bool(CfgDebugStrictCBOR, false, "(DEBUG) Enforce that CBOR blobs roundtrip")
	_ = Flags.MarkHidden(CfgDebugStrictCBOR)

	_ = viper.BindPFlags(Flags)
}
