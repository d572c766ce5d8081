// Package config holds the tuning parameters the storage core is
// constructed with, following this codebase's existing options-struct
// pattern: every field normalizes to a sane default when left at its
// zero value.
package config

import "time"

// Params collects every tunable the storage core accepts.
type Params struct {
	// PurgeAge is how long a sequence-number-map entry is retained
	// after its last update before it becomes eligible for purge.
	PurgeAge time.Duration

	// CheckTTLInterval is how often the expiration sweep runs.
	CheckTTLInterval time.Duration

	// MaxSeqMapSizeBeforePurge triggers a purge pass once the
	// sequence-number map grows past this many entries.
	MaxSeqMapSizeBeforePurge int

	// ResponseSizeBudgetFraction is the fraction of the peer's
	// permitted message size a get-data response may use.
	ResponseSizeBudgetFraction float64

	// AppendOnlyShare and ProtectedShare split the response size
	// budget between the two payload classes; they should sum to 1.0.
	AppendOnlyShare float64
	ProtectedShare  float64

	// InitialRebroadcastDelay is how long to wait before re-broadcasting
	// a HIGH-priority protected entry received via get-data response.
	InitialRebroadcastDelay time.Duration
}

// Defaults returns the storage core's out-of-the-box parameter values.
func Defaults() Params {
	return Params{
		PurgeAge:                   10 * 24 * time.Hour,
		CheckTTLInterval:           60 * time.Second,
		MaxSeqMapSizeBeforePurge:   50_000,
		ResponseSizeBudgetFraction: 0.6,
		AppendOnlyShare:            0.25,
		ProtectedShare:             0.75,
		InitialRebroadcastDelay:    60 * time.Second,
	}
}

// Normalize fills any zero-valued field with its default, matching the
// `if x <= 0 { x = Default }` shape used throughout this codebase's
// options structs.
func (p Params) Normalize() Params {
	d := Defaults()
	if p.PurgeAge <= 0 {
		p.PurgeAge = d.PurgeAge
	}
	if p.CheckTTLInterval <= 0 {
		p.CheckTTLInterval = d.CheckTTLInterval
	}
	if p.MaxSeqMapSizeBeforePurge <= 0 {
		p.MaxSeqMapSizeBeforePurge = d.MaxSeqMapSizeBeforePurge
	}
	if p.ResponseSizeBudgetFraction <= 0 {
		p.ResponseSizeBudgetFraction = d.ResponseSizeBudgetFraction
	}
	if p.AppendOnlyShare <= 0 {
		p.AppendOnlyShare = d.AppendOnlyShare
	}
	if p.ProtectedShare <= 0 {
		p.ProtectedShare = d.ProtectedShare
	}
	if p.InitialRebroadcastDelay <= 0 {
		p.InitialRebroadcastDelay = d.InitialRebroadcastDelay
	}
	return p
}

// MaxBytes returns the total get-data response size budget for a peer
// whose permitted message size is maxPermittedMessageSize.
func (p Params) MaxBytes(maxPermittedMessageSize int) int {
	return int(float64(maxPermittedMessageSize) * p.ResponseSizeBudgetFraction)
}
