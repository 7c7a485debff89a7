// Package key implements the hardware key sub-commands.
package key

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
	cmdCommon "github.com/ahawad/asylo/fake-sgx/cmd/common"
)

const (
	// CfgKeyName is the name of the key to derive (seal, report).
	CfgKeyName = "keyname"
	// CfgISVSVN overrides the requested ISVSVN.
	CfgISVSVN = "isvsvn"
	// CfgConfigSVN overrides the requested CONFIGSVN.
	CfgConfigSVN = "configsvn"
	// CfgKeyID is the hex encoded KEYID, random if not set.
	CfgKeyID = "keyid"
	// CfgVerbose also prints the key request.
	CfgVerbose = "verbose"
)

var (
	keyCmd = &cobra.Command{
		Use:   "key",
		Short: "hardware key utilities",
	}

	deriveCmd = &cobra.Command{
		Use:   "derive",
		Short: "derive a hardware key for an enclave identity",
		Run:   doDerive,
	}

	deriveFlags = flag.NewFlagSet("", flag.ContinueOnError)

	logger = logging.GetLogger("cmd/key")
)

type deriveOptions struct {
	keyName   sgx.KeyName
	policy    sgx.KeyPolicy
	isvsvn    int
	configsvn int
	keyID     *sgx.KeyID
}

func svnOverride(name string, v int) (uint16, bool, error) {
	switch {
	case v < 0:
		return 0, false, nil
	case v > math.MaxUint16:
		return 0, false, fmt.Errorf("%s out of range: %d", name, v)
	default:
		return uint16(v), true, nil
	}
}

func newKeyRequest(e *fake.Enclave, opts *deriveOptions) (*sgx.KeyRequest, error) {
	var keyID sgx.KeyID
	if opts.keyID != nil {
		keyID = *opts.keyID
	} else {
		rnd, err := fake.GetHardwareRandBytes(sgx.KeyIDSize)
		if err != nil {
			return nil, err
		}
		copy(keyID[:], rnd)
	}

	var req *sgx.KeyRequest
	switch opts.keyName {
	case sgx.KeyNameSeal:
		req = fake.NewSealKeyRequest(e, opts.policy, keyID)
	case sgx.KeyNameReport:
		req = fake.NewReportKeyRequest(e, keyID)
	default:
		return nil, fake.ErrInvalidKeyName
	}

	svn, ok, err := svnOverride(CfgISVSVN, opts.isvsvn)
	if err != nil {
		return nil, err
	}
	if ok {
		req.ISVSVN = svn
	}
	if svn, ok, err = svnOverride(CfgConfigSVN, opts.configsvn); err != nil {
		return nil, err
	}
	if ok {
		req.ConfigSVN = svn
	}
	return req, nil
}

func deriveKey(thread *fake.Thread, e *fake.Enclave, opts *deriveOptions) (*sgx.KeyRequest, sgx.HardwareKey, error) {
	req, err := newKeyRequest(e, opts)
	if err != nil {
		return nil, sgx.HardwareKey{}, err
	}

	if err = thread.Enter(e); err != nil {
		return nil, sgx.HardwareKey{}, err
	}
	defer thread.Exit()

	key, err := thread.GetHardwareKey(req)
	if err != nil {
		return nil, sgx.HardwareKey{}, err
	}
	return req, key, nil
}

func optionsFromFlags() (*deriveOptions, error) {
	opts := &deriveOptions{
		isvsvn:    viper.GetInt(CfgISVSVN),
		configsvn: viper.GetInt(CfgConfigSVN),
	}
	if err := opts.keyName.UnmarshalText([]byte(viper.GetString(CfgKeyName))); err != nil {
		return nil, err
	}
	policy, err := cmdCommon.KeyPolicy()
	if err != nil {
		return nil, err
	}
	opts.policy = policy
	if s := viper.GetString(CfgKeyID); s != "" {
		var keyID sgx.KeyID
		if err := keyID.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		opts.keyID = &keyID
	}
	return opts, nil
}

func doDerive(cmd *cobra.Command, args []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	opts, err := optionsFromFlags()
	if err != nil {
		logger.Error("invalid key request", "err", err)
		os.Exit(1)
	}
	e, err := cmdCommon.LoadEnclave(cmdCommon.IdentityFile())
	if err != nil {
		logger.Error("failed to load identity", "err", err)
		os.Exit(1)
	}
	thread, err := cmdCommon.NewThread()
	if err != nil {
		logger.Error("failed to create platform", "err", err)
		os.Exit(1)
	}

	req, key, err := deriveKey(thread, e, opts)
	if err != nil {
		logger.Error("failed to derive key",
			append(errors.LogKeyvals(err), "keyname", opts.keyName)...,
		)
		os.Exit(1)
	}

	if !viper.GetBool(CfgVerbose) {
		fmt.Println(key)
		return
	}
	out, err := cmdCommon.PrettyJSONMarshal(struct {
		Request *sgx.KeyRequest `json:"request"`
		Key     string          `json:"key"`
	}{
		Request: req,
		Key:     key.String(),
	})
	if err != nil {
		logger.Error("failed to format key", "err", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// Register registers the key sub-command and all of it's children.
func Register(parentCmd *cobra.Command) {
	deriveCmd.Flags().AddFlagSet(deriveFlags)
	deriveCmd.Flags().AddFlagSet(cmdCommon.IdentityFileFlags)
	deriveCmd.Flags().AddFlagSet(cmdCommon.KeyPolicyFlags)

	keyCmd.AddCommand(deriveCmd)
	parentCmd.AddCommand(keyCmd)
}

func init() {
	deriveFlags.String(CfgKeyName, "seal", "key name (seal, report)")
	deriveFlags.Int(CfgISVSVN, -1, "requested ISVSVN (default: the enclave's)")
	deriveFlags.Int(CfgConfigSVN, -1, "requested CONFIGSVN (default: the enclave's for report keys and CONFIGID seal policies, 0 otherwise)")
	deriveFlags.String(CfgKeyID, "", "hex encoded KEYID (default: random)")
	deriveFlags.Bool(CfgVerbose, false, "also print the key request")
	_ = viper.BindPFlags(deriveFlags)
}
