package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters exported by the verification and session services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChallengesIssued *prometheus.CounterVec
	ChallengesDenied *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	TokensIssued     *prometheus.CounterVec
	RefreshFailures  *prometheus.CounterVec
	StoreErrors      prometheus.Counter
}

// New registers the counters on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpgate_challenges_issued_total",
				Help: "Total number of OTP challenges issued",
			},
			[]string{"purpose"},
		),
		ChallengesDenied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpgate_challenges_denied_total",
				Help: "Total number of OTP challenge requests denied by the rate limiter",
			},
			[]string{"reason"},
		),
		Verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpgate_verifications_total",
				Help: "Total number of OTP verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		TokensIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpgate_tokens_issued_total",
				Help: "Total number of signed tokens issued",
			},
			[]string{"type"},
		),
		RefreshFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otpgate_refresh_failures_total",
				Help: "Total number of rejected refresh tokens",
			},
			[]string{"reason"},
		),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "otpgate_store_errors_total",
			Help: "Total number of challenge store failures",
		}),
	}
}

func (m *Metrics) ChallengeIssued(purpose string) {
	if m == nil {
		return
	}
	m.ChallengesIssued.WithLabelValues(purpose).Inc()
}

func (m *Metrics) ChallengeDenied(reason string) {
	if m == nil {
		return
	}
	m.ChallengesDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) RefreshFailed(reason string) {
	if m == nil {
		return
	}
	m.RefreshFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
