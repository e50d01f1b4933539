package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authentication Prometheus metrics
var (
	// Counter: Token validations through the pipeline
	tokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_token_validations_total",
			Help: "Total number of bearer token validation attempts",
		},
		[]string{"provider", "result"}, // result: valid|invalid|revoked|no_token
	)

	// Histogram: Validation pipeline duration
	tokenValidationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aussie_token_validation_duration_seconds",
			Help:    "Token validation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"provider"},
	)

	// Histogram: JWKS fetch duration
	jwksFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aussie_jwks_fetch_duration_seconds",
			Help:    "JWKS fetch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"uri"},
	)

	// Counter: JWKS fetch failures
	jwksFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_jwks_fetch_failures_total",
			Help: "Total number of JWKS fetch failures",
		},
		[]string{"uri", "error_type"}, // error_type: network|parse|status|timeout
	)

	// Counter: JWKS responses served from an expired entry after a fetch failure
	jwksStaleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_jwks_stale_fallbacks_total",
			Help: "Total number of JWKS lookups answered with a stale cached document",
		},
		[]string{"uri"},
	)

	// Gauge: JWKS cache occupancy
	jwksCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aussie_jwks_cache_entries",
			Help: "Number of issuer JWKS documents currently cached",
		},
	)

	// Counter: Revocation checks by tier that answered them
	revocationChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_revocation_checks_total",
			Help: "Total number of revocation checks",
		},
		[]string{"tier", "result"}, // tier: threshold|bloom|cache|repository, result: revoked|clear
	)

	// Counter: Revocations performed on this instance
	revocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_revocations_total",
			Help: "Total number of revocations issued",
		},
		[]string{"type"}, // type: jti|user
	)

	// Counter: Revocation events received over pub/sub and applied locally
	revocationEventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_revocation_events_applied_total",
			Help: "Total number of revocation events applied from the event channel",
		},
		[]string{"type"},
	)

	// Counter: Bloom filter rebuilds
	bloomRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_bloom_rebuilds_total",
			Help: "Total number of revocation bloom filter rebuilds",
		},
		[]string{"status"}, // status: success|failure
	)

	// Counter: Failed authentication attempts recorded per tracking axis
	failedAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_auth_failed_attempts_total",
			Help: "Total number of failed authentication attempts recorded",
		},
		[]string{"axis"}, // axis: ip|user|apikey
	)

	// Counter: Lockouts triggered per tracking axis
	lockoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_auth_lockouts_total",
			Help: "Total number of lockouts triggered",
		},
		[]string{"axis"},
	)

	// Counter: API key validations
	apiKeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_api_key_validations_total",
			Help: "Total number of API key validation attempts",
		},
		[]string{"result"}, // result: valid|invalid
	)

	// Counter: PKCE verifications
	pkceVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_pkce_verifications_total",
			Help: "Total number of PKCE challenge verifications",
		},
		[]string{"result"}, // result: verified|rejected
	)

	// Counter: Signing key rotations
	keyRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_key_rotations_total",
			Help: "Total number of signing key rotation operations",
		},
		[]string{"trigger", "result"}, // trigger: scheduled|manual|startup
	)

	// Gauge: Signing keys by lifecycle state
	signingKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aussie_signing_keys",
			Help: "Number of signing keys per lifecycle state",
		},
		[]string{"status"},
	)

	// Counter: Internal tokens issued
	tokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_tokens_issued_total",
			Help: "Total number of internal tokens issued",
		},
		[]string{"service"},
	)

	// Counter: Claims translation cache outcomes
	translationLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aussie_translation_lookups_total",
			Help: "Total number of claims translation lookups",
		},
		[]string{"result"}, // result: hit|miss
	)
)

// =============================================================================
// Metric recording functions
// =============================================================================

// RecordTokenValidation records one pass through the validation pipeline.
func RecordTokenValidation(provider, result string) {
	tokenValidationsTotal.WithLabelValues(provider, result).Inc()
}

// RecordTokenValidationDuration records the duration of a validation.
func RecordTokenValidationDuration(provider string, durationSeconds float64) {
	tokenValidationDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordJWKSFetch records a completed JWKS fetch.
func RecordJWKSFetch(uri string, durationSeconds float64) {
	jwksFetchDuration.WithLabelValues(uri).Observe(durationSeconds)
}

// RecordJWKSFetchFailure records a JWKS fetch failure by cause.
func RecordJWKSFetchFailure(uri, errorType string) {
	jwksFetchFailuresTotal.WithLabelValues(uri, errorType).Inc()
}

// RecordJWKSStaleFallback records a lookup served from an expired document.
func RecordJWKSStaleFallback(uri string) {
	jwksStaleFallbacksTotal.WithLabelValues(uri).Inc()
}

// SetJWKSCacheEntries sets the JWKS cache occupancy gauge.
func SetJWKSCacheEntries(count int) {
	jwksCacheEntries.Set(float64(count))
}

// RecordRevocationCheck records which tier answered a revocation check.
func RecordRevocationCheck(tier string, revoked bool) {
	result := "clear"
	if revoked {
		result = "revoked"
	}
	revocationChecksTotal.WithLabelValues(tier, result).Inc()
}

// RecordRevocation records a revocation issued on this instance.
func RecordRevocation(revocationType string) {
	revocationsTotal.WithLabelValues(revocationType).Inc()
}

// RecordRevocationEventApplied records a pub/sub revocation event applied
// to the local filters.
func RecordRevocationEventApplied(eventType string) {
	revocationEventsAppliedTotal.WithLabelValues(eventType).Inc()
}

// RecordBloomRebuild records a bloom filter rebuild.
func RecordBloomRebuild(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	bloomRebuildsTotal.WithLabelValues(status).Inc()
}

// RecordFailedAttempt records a failed authentication attempt per axis.
func RecordFailedAttempt(axis string) {
	failedAttemptsTotal.WithLabelValues(axis).Inc()
}

// RecordLockout records a lockout trigger per axis.
func RecordLockout(axis string) {
	lockoutsTotal.WithLabelValues(axis).Inc()
}

// RecordAPIKeyValidation records an API key validation attempt.
func RecordAPIKeyValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	apiKeyValidationsTotal.WithLabelValues(result).Inc()
}

// RecordPKCEVerification records a PKCE verification outcome.
func RecordPKCEVerification(verified bool) {
	result := "verified"
	if !verified {
		result = "rejected"
	}
	pkceVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordKeyRotation records a rotation operation and its outcome.
func RecordKeyRotation(trigger string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	keyRotationsTotal.WithLabelValues(trigger, result).Inc()
}

// SetSigningKeys sets the per-state signing key gauge.
func SetSigningKeys(status string, count int) {
	signingKeys.WithLabelValues(status).Set(float64(count))
}

// RecordTokenIssued records an internal token issued for a service.
func RecordTokenIssued(service string) {
	tokensIssuedTotal.WithLabelValues(service).Inc()
}

// RecordTranslationLookup records a claims translation cache outcome.
func RecordTranslationLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	translationLookupsTotal.WithLabelValues(result).Inc()
}
