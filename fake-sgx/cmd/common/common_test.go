package common

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
	"github.com/ahawad/asylo/config"
)

func writeIdentity(t *testing.T, id *fake.Identity) string {
	raw, err := PrettyJSONMarshal(id)
	require.NoError(t, err, "PrettyJSONMarshal")

	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600), "WriteFile")
	return path
}

func TestLoadEnclave(t *testing.T) {
	require := require.New(t)

	for _, kss := range []bool{false, true} {
		e := fake.NewEnclave()
		if kss {
			e.AddRequiredAttribute(sgx.AttributeKSS)
		}
		require.NoError(e.SetRandomIdentity())

		loaded, err := LoadEnclave(writeIdentity(t, e.Identity()))
		require.NoError(err, "LoadEnclave(kss: %v)", kss)
		require.Equal(e.Identity(), loaded.Identity())
		require.Equal(kss, loaded.ValidAttributes().IsSet(sgx.AttributeKSS))
	}
}

func TestLoadEnclaveErrors(t *testing.T) {
	require := require.New(t)

	_, err := LoadEnclave("")
	require.Error(err, "empty path")

	_, err = LoadEnclave(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(err, "missing file")

	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(os.WriteFile(path, []byte("{"), 0o600))
	_, err = LoadEnclave(path)
	require.Error(err, "malformed file")

	e, err := fake.NewRandomEnclave()
	require.NoError(err)
	id := e.Identity()
	id.ConfigSVN = 1
	_, err = LoadEnclave(writeIdentity(t, id))
	require.True(errors.Is(err, fake.ErrInvalidIdentityAssignment), "KSS field without KSS: %v", err)
}

func TestNewThreadPlatform(t *testing.T) {
	require := require.New(t)
	t.Cleanup(func() { config.GlobalConfig = config.DefaultConfig() })

	config.GlobalConfig = config.DefaultConfig()
	defaultPlatform, err := fake.DefaultPlatform()
	require.NoError(err)
	thread, err := NewThread()
	require.NoError(err)
	require.Same(defaultPlatform, thread.Platform(), "the default configuration uses the default platform")

	config.GlobalConfig.Platform.Seed = "common test"
	thread, err = NewThread()
	require.NoError(err)
	require.NotSame(defaultPlatform, thread.Platform(), "a seeded configuration gets its own platform")

	config.GlobalConfig.Platform.OwnerEpoch = "zz"
	_, err = NewThread()
	require.Error(err, "malformed owner epoch")
}

func TestWriteMetrics(t *testing.T) {
	require := require.New(t)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fake_sgx_test_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	var buf bytes.Buffer
	require.NoError(writeMetrics(&buf, registry))
	require.Contains(buf.String(), "fake_sgx_test_total 3")

	buf.Reset()
	require.NoError(DumpMetrics(&buf), "disabled metrics")
	require.Empty(buf.String())
}
