// Package identity implements the enclave identity sub-commands.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/common/sgx"
	"github.com/ahawad/asylo/common/sgx/fake"
	cmdCommon "github.com/ahawad/asylo/fake-sgx/cmd/common"
)

const (
	// CfgKSS enables Key Separation and Sharing for random identities.
	CfgKSS = "kss"

	// CfgSgxs measures a .sgxs file into the MRENCLAVE of random identities.
	CfgSgxs = "sgxs"

	// CfgFormat selects the identity output format.
	CfgFormat = "format"

	formatJSON = "json"
	formatCBOR = "cbor"
)

var (
	identityCmd = &cobra.Command{
		Use:   "identity",
		Short: "enclave identity utilities",
	}

	randomCmd = &cobra.Command{
		Use:   "random",
		Short: "generate a random valid enclave identity",
		Run:   doRandom,
	}

	showCmd = &cobra.Command{
		Use:   "show",
		Short: "validate and print an enclave identity file",
		Run:   doShow,
	}

	randomFlags = flag.NewFlagSet("", flag.ContinueOnError)
	formatFlags = flag.NewFlagSet("", flag.ContinueOnError)

	logger = logging.GetLogger("cmd/identity")
)

// randomIdentity generates a random identity. A non-nil sgxs image is
// measured into the MRENCLAVE in place of a random one.
func randomIdentity(kss bool, sgxs []byte) (*fake.Identity, error) {
	e := fake.NewEnclave()
	if kss {
		e.AddRequiredAttribute(sgx.AttributeKSS)
	}
	if err := e.SetRandomIdentity(); err != nil {
		return nil, err
	}
	if sgxs != nil {
		var mrenclave sgx.MrEnclave
		mrenclave.FromSgxsBytes(sgxs)
		e.SetMrEnclave(mrenclave)
	}
	return e.Identity(), nil
}

func readSgxs(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sgxs file: %w", err)
	}
	return data, nil
}

func formatIdentity(id *fake.Identity, format string) ([]byte, error) {
	switch format {
	case formatJSON:
		return cmdCommon.PrettyJSONMarshal(id)
	case formatCBOR:
		return []byte(hex.EncodeToString(id.ToCBOR())), nil
	default:
		return nil, fmt.Errorf("unsupported identity format: '%s'", format)
	}
}

func printIdentity(id *fake.Identity) {
	out, err := formatIdentity(id, viper.GetString(CfgFormat))
	if err != nil {
		logger.Error("failed to format identity", "err", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func doRandom(cmd *cobra.Command, args []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	sgxs, err := readSgxs(viper.GetString(CfgSgxs))
	if err != nil {
		logger.Error("failed to load enclave image", "err", err)
		os.Exit(1)
	}
	id, err := randomIdentity(viper.GetBool(CfgKSS), sgxs)
	if err != nil {
		logger.Error("failed to generate identity", "err", err)
		os.Exit(1)
	}
	printIdentity(id)
}

func doShow(cmd *cobra.Command, args []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	e, err := cmdCommon.LoadEnclave(cmdCommon.IdentityFile())
	if err != nil {
		logger.Error("failed to load identity", "err", err)
		os.Exit(1)
	}
	logger.Debug("loaded identity",
		"mrenclave", e.MrEnclave(),
		"attributes", e.Attributes(),
	)
	printIdentity(e.Identity())
}

// Register registers the identity sub-command and all of it's children.
func Register(parentCmd *cobra.Command) {
	randomCmd.Flags().AddFlagSet(randomFlags)
	showCmd.Flags().AddFlagSet(cmdCommon.IdentityFileFlags)

	identityCmd.PersistentFlags().AddFlagSet(formatFlags)
	identityCmd.AddCommand(randomCmd)
	identityCmd.AddCommand(showCmd)

	parentCmd.AddCommand(identityCmd)
}

func init() {
	randomFlags.Bool(CfgKSS, false, "enable Key Separation and Sharing")
	randomFlags.String(CfgSgxs, "", "derive MRENCLAVE from this .sgxs enclave image")
	_ = viper.BindPFlags(randomFlags)

	formatFlags.String(CfgFormat, formatJSON, "output format (json, cbor)")
	_ = viper.BindPFlags(formatFlags)
}
