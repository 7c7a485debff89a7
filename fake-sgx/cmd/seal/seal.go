// Package seal implements the local sealing sub-commands.
package seal

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
	"github.com/ahawad/asylo/common/sgx/sealing"
	cmdCommon "github.com/ahawad/asylo/fake-sgx/cmd/common"
)

const (
	// CfgInFile is the input file.
	CfgInFile = "in"
	// CfgOutFile is the output file.
	CfgOutFile = "out"
	// CfgAdditionalData is authenticated along with the sealed data.
	CfgAdditionalData = "additional_data"
)

var (
	sealCmd = &cobra.Command{
		Use:   "seal",
		Short: "seal a file to an enclave identity",
		Run:   doSeal,
	}

	unsealCmd = &cobra.Command{
		Use:   "unseal",
		Short: "unseal a file sealed to an enclave identity",
		Run:   doUnseal,
	}

	fileFlags = flag.NewFlagSet("", flag.ContinueOnError)
	sealFlags = flag.NewFlagSet("", flag.ContinueOnError)

	logger = logging.GetLogger("cmd/seal")
)

func sealFile(thread *fake.Thread, e *fake.Enclave, policy sgx.KeyPolicy, in, out string, additionalData []byte) error {
	plaintext, err := os.ReadFile(in)
	if err != nil {
		return err
	}

	if err = thread.Enter(e); err != nil {
		return err
	}
	defer thread.Exit()

	sealed, err := sealing.Seal(thread, policy, plaintext, additionalData)
	if err != nil {
		return err
	}
	return os.WriteFile(out, sealed, 0o600)
}

func unsealFile(thread *fake.Thread, e *fake.Enclave, in, out string) ([]byte, error) {
	sealed, err := os.ReadFile(in)
	if err != nil {
		return nil, err
	}

	if err = thread.Enter(e); err != nil {
		return nil, err
	}
	defer thread.Exit()

	plaintext, additionalData, err := sealing.Unseal(thread, sealed)
	if err != nil {
		return nil, err
	}
	if err = os.WriteFile(out, plaintext, 0o600); err != nil {
		return nil, err
	}
	return additionalData, nil
}

func setup() (*fake.Thread, *fake.Enclave, string, string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	in, out := viper.GetString(CfgInFile), viper.GetString(CfgOutFile)
	if in == "" || out == "" {
		logger.Error("input and output files must be set")
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
	return thread, e, in, out
}

func doSeal(cmd *cobra.Command, args []string) {
	thread, e, in, out := setup()

	policy, err := cmdCommon.KeyPolicy()
	if err != nil {
		logger.Error("invalid key policy", "err", err)
		os.Exit(1)
	}

	if err = sealFile(thread, e, policy, in, out, []byte(viper.GetString(CfgAdditionalData))); err != nil {
		logger.Error("failed to seal",
			append(errors.LogKeyvals(err), "in", in)...,
		)
		os.Exit(1)
	}
	logger.Info("sealed file",
		"in", in,
		"out", out,
		"policy", policy,
	)
}

func doUnseal(cmd *cobra.Command, args []string) {
	thread, e, in, out := setup()

	additionalData, err := unsealFile(thread, e, in, out)
	if err != nil {
		logger.Error("failed to unseal",
			append(errors.LogKeyvals(err), "in", in)...,
		)
		os.Exit(1)
	}
	if len(additionalData) > 0 {
		fmt.Println(string(additionalData))
	}
}

// Register registers the seal and unseal sub-commands.
func Register(parentCmd *cobra.Command) {
	sealCmd.Flags().AddFlagSet(sealFlags)
	sealCmd.Flags().AddFlagSet(cmdCommon.KeyPolicyFlags)

	for _, v := range []*cobra.Command{sealCmd, unsealCmd} {
		v.Flags().AddFlagSet(fileFlags)
		v.Flags().AddFlagSet(cmdCommon.IdentityFileFlags)
		parentCmd.AddCommand(v)
	}
}

func init() {
	fileFlags.String(CfgInFile, "", "input file")
	fileFlags.String(CfgOutFile, "", "output file")
	_ = viper.BindPFlags(fileFlags)

	sealFlags.String(CfgAdditionalData, "", "additional data authenticated with the sealed file")
	_ = viper.BindPFlags(sealFlags)
}
