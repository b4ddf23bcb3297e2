package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker-level metrics, exposed on the status server.
var (
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockgen",
		Name:      "generations_total",
		Help:      "Completed generation cycles by outcome.",
	}, []string{"outcome"})

	LeaseAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockgen",
		Name:      "credential_lease_attempts_total",
		Help:      "Credential lease attempts by result.",
	}, []string{"result"})

	BackendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockgen",
		Name:      "backend_calls_total",
		Help:      "Model backend invocations by purpose and result.",
	}, []string{"purpose", "result"})

	UsageLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockgen",
		Name:      "usage_log_failures_total",
		Help:      "Usage ledger writes that failed.",
	})
)
