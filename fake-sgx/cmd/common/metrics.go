package common

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/ahawad/asylo/config"
)

// DumpMetrics writes the gathered metrics in the prometheus text format
// when metrics are enabled.
func DumpMetrics(w io.Writer) error {
	if !config.GlobalConfig.Metrics.Enabled {
		return nil
	}
	return writeMetrics(w, prometheus.DefaultGatherer)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
