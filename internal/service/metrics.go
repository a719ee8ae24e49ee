package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts OTP and session outcomes. A nil *Metrics records nothing.
type Metrics struct {
	otpRequests      *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	sessionsCreated  *prometheus.CounterVec
	sessionsRevoked  *prometheus.CounterVec
}

// NewMetrics creates the auth collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_otp_requests_total",
			Help: "OTP issuance attempts by result",
		}, []string{"result"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_otp_verifications_total",
			Help: "OTP verification attempts by result",
		}, []string{"result"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Sessions created by kind (temporary or permanent)",
		}, []string{"kind"}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Sessions deleted by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.otpRequests, m.otpVerifications, m.sessionsCreated, m.sessionsRevoked)
	return m
}

func (m *Metrics) otpRequested(result string) {
	if m != nil {
		m.otpRequests.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) otpVerified(result string) {
	if m != nil {
		m.otpVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) sessionCreated(temporary bool) {
	if m == nil {
		return
	}
	kind := "permanent"
	if temporary {
		kind = "temporary"
	}
	m.sessionsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) sessionRevoked(reason string) {
	if m != nil {
		m.sessionsRevoked.WithLabelValues(reason).Inc()
	}
}
