package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth engine counters. Registered on the default registry and exposed by the
// metrics listener wired in cmd/authd.
var (
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"})

	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "lockouts_total",
		Help:      "Accounts transitioned into the locked state.",
	})

	SessionsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "sessions_issued_total",
		Help:      "Sessions minted on successful logins.",
	})

	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "refresh_rotations_total",
		Help:      "Successful refresh-token rotations.",
	})

	ReplaysDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "replays_detected_total",
		Help:      "Superseded refresh tokens presented after rotation.",
	})

	SessionsSweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "sessions_swept_total",
		Help:      "Sessions transitioned or purged by the background sweeper.",
	}, []string{"operation"})

	AuthzDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "auth",
		Name:      "authz_decisions_total",
		Help:      "Authorization decisions partitioned by result.",
	}, []string{"decision"})
)
