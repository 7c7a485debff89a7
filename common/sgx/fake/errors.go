package fake

import "github.com/ahawad/asylo/common/errors"

// ModuleName is the module name used for error definitions.
const ModuleName = "sgx/fake"

var (
	// ErrNoCurrentIdentity is the error returned when an operation that
	// needs an entered enclave runs on a thread with none entered.
	ErrNoCurrentIdentity = errors.New(ModuleName, 1, "fake: no enclave entered on this thread")

	// ErrInvalidVersion is the error returned when a key request addresses
	// an ISVSVN or CONFIGSVN above the entered enclave's own.
	ErrInvalidVersion = errors.New(ModuleName, 2, "fake: requested security version exceeds current")

	// ErrInvalidAttributeRequest is the error returned when a key policy
	// selects a KSS field while the KSS attribute is clear.
	ErrInvalidAttributeRequest = errors.New(ModuleName, 3, "fake: key policy requires the KSS attribute")

	// ErrInvalidIdentityAssignment is the error returned when an identity
	// mutation would break the valid/required attribute invariant.
	ErrInvalidIdentityAssignment = errors.New(ModuleName, 4, "fake: invalid identity assignment")

	// ErrReentrantEnter is the error returned by Enter on a thread that is
	// already inside an enclave.
	ErrReentrantEnter = errors.New(ModuleName, 5, "fake: thread already entered an enclave")

	// ErrInvalidKeyName is the error returned for an unsupported KEYNAME.
	ErrInvalidKeyName = errors.New(ModuleName, 6, "fake: invalid key name")

	// ErrReportMACMismatch is the error returned when a report fails
	// verification by its target.
	ErrReportMACMismatch = errors.New(ModuleName, 7, "fake: report MAC mismatch")

	// ErrInvalidKeyPolicy is the error returned when a key request sets
	// reserved KEYPOLICY bits.
	ErrInvalidKeyPolicy = errors.New(ModuleName, 8, "fake: reserved key policy bits set")

	// ErrInvalidArgument is the error returned when a required argument
	// is nil.
	ErrInvalidArgument = errors.New(ModuleName, 9, "fake: invalid argument")
)
