// Package metrics holds the Prometheus collectors for the account workflows.
// It is standalone so services, workers and the HTTP layer can share it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeInvalid = "invalid"
	OutcomeTaken   = "taken"
	OutcomeSkipped = "skipped"
	OutcomeRetried = "retried"
)

var (
	ProvisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qepo_provision_total",
		Help: "Provisioning attempts by outcome",
	}, []string{"outcome"})

	CompensationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qepo_compensation_failures_total",
		Help: "Identity users left behind because compensation failed",
	})

	ProfileUpdateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qepo_profile_update_total",
		Help: "Profile updates by outcome",
	}, []string{"outcome"})

	PictureUploadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qepo_picture_upload_total",
		Help: "Profile picture uploads by outcome",
	}, []string{"outcome"})

	PictureUploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qepo_picture_upload_duration_ms",
		Help:    "Object store upload latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	})

	OrphanReapTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qepo_orphan_reap_total",
		Help: "Orphaned identity clean-up attempts by outcome",
	}, []string{"outcome"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ProvisionTotal,
		CompensationFailures,
		ProfileUpdateTotal,
		PictureUploadTotal,
		PictureUploadDuration,
		OrphanReapTotal,
	}
}

// Register registers the collectors on reg (or the default registerer if nil).
// Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
