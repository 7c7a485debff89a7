package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const testModule = "errors/test"

var (
	errTestA = New(testModule, 1, "test: error A")
	errTestB = New(testModule, 2, "test: error B")
)

func TestErrorCode(t *testing.T) {
	require := require.New(t)

	module, code := Code(errTestA)
	require.Equal(testModule, module)
	require.EqualValues(1, code)

	module, code = Code(nil)
	require.Equal("", module)
	require.EqualValues(CodeNoError, code)

	module, code = Code(fmt.Errorf("plain error"))
	require.Equal(UnknownModule, module)
	require.EqualValues(1, code)

	var e *Error
	require.True(As(WithContext(errTestB, "ctx"), &e))
	require.Equal(testModule, e.Module())
	require.EqualValues(2, e.Code())
}

func TestLogKeyvals(t *testing.T) {
	require := require.New(t)

	kv := LogKeyvals(WithContext(errTestB, "keyid"))
	require.Len(kv, 6)
	require.Equal("err_module", kv[2])
	require.Equal(testModule, kv[3])
	require.EqualValues(2, kv[5])
}

func TestErrorContext(t *testing.T) {
	require := require.New(t)

	err := WithContext(errTestA, "isvsvn 5 > 4")
	require.True(Is(err, errTestA))
	require.False(Is(err, errTestB))
	require.Equal("isvsvn 5 > 4", Context(err))
	require.Equal("test: error A: isvsvn 5 > 4", err.Error())

	// Wrapping with fmt keeps the kind and the context reachable.
	wrapped := fmt.Errorf("outer: %w", err)
	require.True(Is(wrapped, errTestA))
	require.Equal("isvsvn 5 > 4", Context(wrapped))

	module, code := Code(wrapped)
	require.Equal(testModule, module)
	require.EqualValues(1, code)

	require.Equal(errTestB, WithContext(errTestB, ""))
	require.Equal("", Context(errTestB))

	nested := WithContext(fmt.Errorf("unseal: %w", err), "blob 3")
	require.Equal("blob 3: isvsvn 5 > 4", Context(nested))
}

func TestErrorRegistration(t *testing.T) {
	require := require.New(t)

	require.Panics(func() { _ = New(testModule, 1, "duplicate") })
	require.Panics(func() { _ = New(testModule, CodeNoError, "no error") })
}
