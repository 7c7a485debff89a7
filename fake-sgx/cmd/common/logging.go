package common

import (
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ahawad/asylo/common/logging"
	"github.com/ahawad/asylo/config"
)

var loggingFlags = flag.NewFlagSet("", flag.ContinueOnError)

func initLogging() error {
	cfg := config.GlobalConfig.Log

	var logLevel logging.Level
	if err := logLevel.Set(cfg.Level); err != nil {
		return err
	}
	var logFmt logging.Format
	if err := logFmt.Set(cfg.Format); err != nil {
		return err
	}
	moduleLevels, err := logging.ParseModuleLevels(cfg.Modules)
	if err != nil {
		return err
	}

	// Standard output carries command results.
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		if w, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
			return err
		}
	}

	return logging.Initialize(w, logFmt, logLevel, moduleLevels)
}

func initLoggingFlags() {
	logFmt := logging.FmtLogfmt
	logLevel := logging.LevelWarn

	loggingFlags.String(config.CfgLogFile, "", "log file")
	loggingFlags.Var(&logFmt, config.CfgLogFormat, "log format")
	loggingFlags.Var(&logLevel, config.CfgLogLevel, "log level")
}
