package fake

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahawad/asylo/common/errors"
	"github.com/ahawad/asylo/common/sgx"
)

var (
	// Number of hardware keys derived.
	keysDerived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fake_sgx_hardware_keys_derived",
			Help: "Number of hardware keys derived.",
		},
		[]string{"keyname"},
	)

	// Number of failed key derivations.
	keyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fake_sgx_hardware_key_failures",
			Help: "Number of failed hardware key derivations.",
		},
		[]string{"reason"},
	)

	// Number of reports generated.
	reportsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fake_sgx_hardware_reports_generated",
			Help: "Number of hardware reports generated.",
		},
	)

	fakeCollectors = []prometheus.Collector{
		keysDerived,
		keyFailures,
		reportsGenerated,
	}

	metricsEnabled uint32
	metricsOnce    sync.Once
)

// InitMetrics registers the fake hardware collectors with the default
// registry and enables their updates.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(fakeCollectors...)
		atomic.StoreUint32(&metricsEnabled, 1)
	})
}

func metricsOn() bool {
	return atomic.LoadUint32(&metricsEnabled) == 1
}

func keyDerived(name sgx.KeyName) {
	if !metricsOn() {
		return
	}
	keysDerived.With(prometheus.Labels{"keyname": name.String()}).Inc()
}

func keyFailed(err error) {
	if !metricsOn() {
		return
	}

	reason := "unknown"
	switch {
	case errors.Is(err, ErrNoCurrentIdentity):
		reason = "no_current_identity"
	case errors.Is(err, ErrInvalidVersion):
		reason = "invalid_version"
	case errors.Is(err, ErrInvalidAttributeRequest):
		reason = "invalid_attribute_request"
	case errors.Is(err, ErrInvalidKeyName):
		reason = "invalid_key_name"
	case errors.Is(err, ErrInvalidKeyPolicy):
		reason = "invalid_key_policy"
	case errors.Is(err, ErrInvalidArgument):
		reason = "invalid_argument"
	}
	keyFailures.With(prometheus.Labels{"reason": reason}).Inc()
}

func reportGenerated() {
	if !metricsOn() {
		return
	}
	reportsGenerated.Inc()
}
