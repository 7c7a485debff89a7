// Package report implements the hardware report sub-commands.
package report

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

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
	// CfgTargetFile is the identity file of the enclave a report targets.
	CfgTargetFile = "target"
	// CfgReportData is the hex encoded REPORTDATA.
	CfgReportData = "report_data"
	// CfgUserData is hashed into REPORTDATA when no raw value is given.
	CfgUserData = "user_data"
	// CfgReport is the hex encoded report to verify.
	CfgReport = "report"
)

var (
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "hardware report utilities",
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "generate a report targeted at an enclave",
		Run:   doGenerate,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "verify a report targeted at the given enclave",
		Run:   doVerify,
	}

	generateFlags = flag.NewFlagSet("", flag.ContinueOnError)
	verifyFlags   = flag.NewFlagSet("", flag.ContinueOnError)

	logger = logging.GetLogger("cmd/report")
)

func reportDataFromFlags() (*sgx.ReportData, error) {
	var rd sgx.ReportData
	raw, user := viper.GetString(CfgReportData), viper.GetString(CfgUserData)
	switch {
	case raw != "" && user != "":
		return nil, fmt.Errorf("only one of %s and %s may be set", CfgReportData, CfgUserData)
	case raw != "":
		if err := rd.UnmarshalText([]byte(raw)); err != nil {
			return nil, err
		}
	case user != "":
		rd = sgx.ReportDataFromHash([]byte(user))
	}
	return &rd, nil
}

func generateReport(thread *fake.Thread, e *fake.Enclave, target *sgx.TargetInfo, rd *sgx.ReportData) (*sgx.Report, error) {
	if err := thread.Enter(e); err != nil {
		return nil, err
	}
	defer thread.Exit()

	return thread.GetHardwareReport(target, rd)
}

func verifyReport(thread *fake.Thread, e *fake.Enclave, report *sgx.Report) error {
	if err := thread.Enter(e); err != nil {
		return err
	}
	defer thread.Exit()

	return thread.VerifyHardwareReport(report)
}

func parseReport(s string) (*sgx.Report, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("malformed report: %w", err)
	}
	var report sgx.Report
	if err = report.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return &report, nil
}

func loadEnclaveOrExit(path string) *fake.Enclave {
	e, err := cmdCommon.LoadEnclave(path)
	if err != nil {
		logger.Error("failed to load identity",
			"err", err,
			"path", path,
		)
		os.Exit(1)
	}
	return e
}

func newThreadOrExit() *fake.Thread {
	thread, err := cmdCommon.NewThread()
	if err != nil {
		logger.Error("failed to create platform", "err", err)
		os.Exit(1)
	}
	return thread
}

func doGenerate(cmd *cobra.Command, args []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	rd, err := reportDataFromFlags()
	if err != nil {
		logger.Error("invalid report data", "err", err)
		os.Exit(1)
	}

	e := loadEnclaveOrExit(cmdCommon.IdentityFile())
	target := e.TargetInfo()
	if path := viper.GetString(CfgTargetFile); path != "" {
		target = loadEnclaveOrExit(path).TargetInfo()
	}

	report, err := generateReport(newThreadOrExit(), e, target, rd)
	if err != nil {
		logger.Error("failed to generate report", errors.LogKeyvals(err)...)
		os.Exit(1)
	}
	raw, err := report.MarshalBinary()
	if err != nil {
		logger.Error("failed to encode report", "err", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(raw))
}

func doVerify(cmd *cobra.Command, args []string) {
	if err := cmdCommon.Init(); err != nil {
		cmdCommon.EarlyLogAndExit(err)
	}

	report, err := parseReport(viper.GetString(CfgReport))
	if err != nil {
		logger.Error("failed to parse report", "err", err)
		os.Exit(1)
	}

	e := loadEnclaveOrExit(cmdCommon.IdentityFile())
	if err = verifyReport(newThreadOrExit(), e, report); err != nil {
		logger.Error("report verification failed", errors.LogKeyvals(err)...)
		os.Exit(1)
	}

	out, err := cmdCommon.PrettyJSONMarshal(&report.Body)
	if err != nil {
		logger.Error("failed to format report", "err", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// Register registers the report sub-command and all of it's children.
func Register(parentCmd *cobra.Command) {
	generateCmd.Flags().AddFlagSet(generateFlags)
	verifyCmd.Flags().AddFlagSet(verifyFlags)

	for _, v := range []*cobra.Command{generateCmd, verifyCmd} {
		v.Flags().AddFlagSet(cmdCommon.IdentityFileFlags)
		reportCmd.AddCommand(v)
	}

	parentCmd.AddCommand(reportCmd)
}

func init() {
	generateFlags.String(CfgTargetFile, "", "identity file of the target enclave (default: self)")
	generateFlags.String(CfgReportData, "", "hex encoded REPORTDATA")
	generateFlags.String(CfgUserData, "", "data hashed into REPORTDATA")
	_ = viper.BindPFlags(generateFlags)

	verifyFlags.String(CfgReport, "", "hex encoded report")
	_ = viper.BindPFlags(verifyFlags)
}
