// Package config holds the injected configuration record consumed by the
// manager, GC and ISS detector. It is a plain struct populated by the
// caller, matching how this codebase's params structs work, rather than
// introducing a configuration-framework dependency.
package config

import "time"

// ThresholdFraction expresses a stake fraction as numerator/denominator,
// avoiding floating point for a BFT safety threshold.
type ThresholdFraction struct {
	Numerator   uint64
	Denominator uint64
}

// DefaultCompletionThreshold is strong-minority, i.e. > 1/3 of total stake.
var DefaultCompletionThreshold = ThresholdFraction{Numerator: 1, Denominator: 3}

// Exceeds reports whether stake strictly exceeds fraction*total.
func (f ThresholdFraction) Exceeds(stake, total uint64) bool {
	// stake/total > num/den  <=>  stake*den > num*total, avoiding division.
	return stake*f.Denominator > f.Numerator*total
}

// Config is the tuning surface for the signed-state lifecycle.
type Config struct {
	// RoundsToKeepForSigning is the width of the signing-tracking window
	// (retention): how many trailing rounds remain in fresh/stale.
	RoundsToKeepForSigning uint64

	// RoundsNonAncient is the width of the ISS-detector window.
	RoundsNonAncient uint64

	// MaxAgeOfFutureStateSignatures bounds how many rounds ahead of
	// last_state a pre-consensus signature may be buffered.
	MaxAgeOfFutureStateSignatures uint64

	// DumpStateOnISS is carried for callers; no package in this module
	// reads it, and nothing persists a state on self-ISS.
	DumpStateOnISS bool

	// SecondsBetweenISSDumps is carried for callers (see ISSDumpInterval);
	// no package in this module reads it or rate-limits state dumps.
	SecondsBetweenISSDumps uint64

	// SecondsBetweenISSLogs rate-limits ISS log categories.
	SecondsBetweenISSLogs uint64

	// CompletionThresholdFraction is the numerator/denominator pair
	// defining the completeness stake bar (default 1/3).
	CompletionThresholdFraction ThresholdFraction
}

// Default returns the configuration used when a caller doesn't override
// anything explicitly.
func Default() Config {
	return Config{
		RoundsToKeepForSigning:        26,
		RoundsNonAncient:              26,
		MaxAgeOfFutureStateSignatures: 10,
		DumpStateOnISS:                true,
		SecondsBetweenISSDumps:        60,
		SecondsBetweenISSLogs:         60,
		CompletionThresholdFraction:   DefaultCompletionThreshold,
	}
}

// ISSDumpInterval returns SecondsBetweenISSDumps as a time.Duration.
func (c Config) ISSDumpInterval() time.Duration {
	return time.Duration(c.SecondsBetweenISSDumps) * time.Second
}

// ISSLogInterval returns SecondsBetweenISSLogs as a time.Duration.
func (c Config) ISSLogInterval() time.Duration {
	return time.Duration(c.SecondsBetweenISSLogs) * time.Second
}
