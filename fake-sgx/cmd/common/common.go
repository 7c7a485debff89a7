// Package common implements common fake-sgx command options and utilities.
package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahawad/asylo/common/cbor"
	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
	"github.com/ahawad/asylo/config"
)

const (
	// CfgConfigFile is the flag used to specify a config file.
	CfgConfigFile = "config"

	// CfgIdentityFile is the flag used to specify an enclave identity file.
	CfgIdentityFile = "identity"

	// CfgKeyPolicy is the flag used to specify a comma separated SEAL_KEY
	// policy.
	CfgKeyPolicy = "policy"
)

var (
	// RootFlags has the flags shared by all commands.
	RootFlags = flag.NewFlagSet("", flag.ContinueOnError)

	// IdentityFileFlags has the enclave identity file flag.
	IdentityFileFlags = flag.NewFlagSet("", flag.ContinueOnError)

	// KeyPolicyFlags has the SEAL_KEY policy flag.
	KeyPolicyFlags = flag.NewFlagSet("", flag.ContinueOnError)

	cfgFile string

	rootLog = logging.GetLogger("fake-sgx")

	isInitialized bool
)

// InitConfig loads the configuration file, if any, and applies the flag
// and environment overrides.
func InitConfig() {
	v := viper.GetViper()
	config.BindEnv(v)
	if err := config.InitConfig(cfgFile, v); err != nil {
		EarlyLogAndExit(err)
	}
}

// Init initializes the common environment of a command.
func Init() error {
	if isInitialized {
		return nil
	}

	if err := initLogging(); err != nil {
		return err
	}
	if config.GlobalConfig.Metrics.Enabled {
		fake.InitMetrics()
	}
	if config.GlobalConfig.Platform.Seed == "" {
		rootLog.Warn("no platform seed configured, keys will not survive this process")
	}

	isInitialized = true
	return nil
}

// Logger returns the logger for the command line utility.
func Logger() *logging.Logger {
	return rootLog
}

// EarlyLogAndExit logs the error and exits, before logging has been set up.
func EarlyLogAndExit(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// NewThread creates the emulated platform described by the configuration
// and returns a thread running on it.
func NewThread() (*fake.Thread, error) {
	platform, err := newPlatform()
	if err != nil {
		return nil, err
	}
	return platform.NewThread(), nil
}

// newPlatform returns the process wide default platform unless the
// configuration customizes it.
func newPlatform() (*fake.Platform, error) {
	opts, err := config.GlobalConfig.PlatformOptions()
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return fake.DefaultPlatform()
	}
	return fake.NewPlatform(opts...)
}

// LoadEnclave loads a JSON enclave identity file and returns an enclave
// carrying that identity. KSS is treated as a valid attribute when the
// identity sets it.
func LoadEnclave(path string) (*fake.Enclave, error) {
	if path == "" {
		return nil, fmt.Errorf("identity file must be set")
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file '%s': %w", path, err)
	}

	var id fake.Identity
	if err = json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("failed to parse identity file '%s': %w", path, err)
	}

	e := fake.NewEnclave()
	if id.Attributes.IsSet(sgx.AttributeKSS) {
		e.AddValidAttribute(sgx.AttributeKSS)
	}
	if err = e.SetIdentity(&id); err != nil {
		return nil, err
	}
	return e, nil
}

// IdentityFile returns the enclave identity file set by flag.
func IdentityFile() string {
	return viper.GetString(CfgIdentityFile)
}

// KeyPolicy returns the SEAL_KEY policy set by flag.
func KeyPolicy() (sgx.KeyPolicy, error) {
	var policy sgx.KeyPolicy
	if err := policy.UnmarshalText([]byte(viper.GetString(CfgKeyPolicy))); err != nil {
		return 0, err
	}
	return policy, nil
}

// PrettyJSONMarshal returns pretty-printed JSON encoding of v.
func PrettyJSONMarshal(v interface{}) ([]byte, error) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to pretty JSON: %w", err)
	}
	return formatted, nil
}

func init() {
	RootFlags.StringVar(&cfgFile, CfgConfigFile, "", "config file")
	RootFlags.String(config.CfgPlatformSeed, "", "seed the platform root key is derived from")
	RootFlags.String(config.CfgPlatformOwnerEpoch, "", "platform owner epoch (hex)")
	RootFlags.Bool(config.CfgMetricsEnabled, false, "dump fake hardware metrics on exit")
	initLoggingFlags()
	RootFlags.AddFlagSet(loggingFlags)
	RootFlags.AddFlagSet(cbor.Flags)
	_ = viper.BindPFlags(RootFlags)

	IdentityFileFlags.String(CfgIdentityFile, "", "enclave identity file (JSON)")
	_ = viper.BindPFlags(IdentityFileFlags)

	KeyPolicyFlags.String(CfgKeyPolicy, "mrenclave", "comma separated SEAL_KEY policy")
	_ = viper.BindPFlags(KeyPolicyFlags)
}
