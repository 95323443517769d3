// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package policyreg implements the broker's L3 Policy Registry: a
// read-mostly lookup keyed by (intent type, trust level) that returns
// the declarative admission rules the pipeline enforces. Entries are a
// closed set of typed fields fixed at compile time — this deliberately
// replaces a dynamic, free-form configuration-by-dictionary with a
// fixed schema.
//
// Grounded on bureau-foundation-bureau/lib/authorization's Index: a
// single sync.RWMutex guarding an in-memory map, built once at startup
// and mutated only by an explicit reload, so concurrent admission
// pipeline reads never block each other.
package policyreg

// TrustLevel is an ordered trust tier. Higher values denote more
// trust. The registry compares levels numerically, so callers must
// keep the ordering consistent across a deployment.
type TrustLevel int

// AppointmentMode selects how a relationship's timebox interacts with
// the appointment window check at admission step 4.
type AppointmentMode int

const (
	// AppointmentNone means the policy does not require an
	// appointment window; only the activity timer (if any) applies.
	AppointmentNone AppointmentMode = iota

	// AppointmentGracePeriod allows admission within a grace window
	// surrounding the declared [start, end] appointment, tagging
	// admissions that land in the grace window as within_grace.
	AppointmentGracePeriod

	// AppointmentStrict requires the clock to fall within
	// [start, end] to the second; anything outside is a breach
	// attempt, not a benign rejection.
	AppointmentStrict
)

func (m AppointmentMode) String() string {
	switch m {
	case AppointmentNone:
		return "none"
	case AppointmentGracePeriod:
		return "grace_period"
	case AppointmentStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ContentRule expresses one dimension of the content filter run at
// admission step 7: minimum context length, forbidden tokens, and
// required fields, plus the capability-limit and pattern-block rule
// shapes found in the original intent-coordination source's safety
// filter, so a policy can also cap declared numeric constraints and
// block intent payloads matching a forbidden substring pattern, not
// just check length and vocabulary.
type ContentRule struct {
	// MinContextLength is the minimum byte length of the intent's
	// explanatory context field. Zero means no minimum.
	MinContextLength int `yaml:"min_context_length"`

	// ForbiddenTokens is a list of substrings that must not appear in
	// the context field, case-insensitively.
	ForbiddenTokens []string `yaml:"forbidden_tokens"`

	// RequiredFields lists context-snapshot keys that must be present
	// (and non-empty) for the intent type to be admitted.
	RequiredFields []string `yaml:"required_fields"`

	// CapabilityLimits caps declared numeric constraints in the
	// intent payload, e.g. {"max_duration_seconds": 3600}. An intent
	// declaring a value above the cap for any listed key fails the
	// filter.
	CapabilityLimits map[string]float64 `yaml:"capability_limits"`

	// BlockedPatterns is a list of forbidden substrings evaluated
	// against the full canonical intent payload (not just the context
	// field) — the pattern-block dimension of the original safety
	// filter, covering fields other than free-text context.
	BlockedPatterns []string `yaml:"blocked_patterns"`
}

// RiskWeights parameterizes the admission step 8 risk score formula: a
// small set of deterministic signals weighted and summed, then clamped
// to [0, 1]; a higher resulting score means lower risk.
type RiskWeights struct {
	// ShortContextPenalty is subtracted from the base score when the
	// context is shorter than ShortContextThreshold bytes.
	ShortContextPenalty   float64 `yaml:"short_context_penalty"`
	ShortContextThreshold int     `yaml:"short_context_threshold"`

	// RecentRejectionPenalty is subtracted once per rejection in the
	// relationship's trailing rejection window.
	RecentRejectionPenalty float64 `yaml:"recent_rejection_penalty"`

	// ConstraintOveragePenalty is subtracted when a declared
	// constraint exceeds the conservative cap named in
	// ContentRule.CapabilityLimits but was allowed through by a
	// grace margin (vs. outright filter rejection).
	ConstraintOveragePenalty float64 `yaml:"constraint_overage_penalty"`

	// ProbationPenalty is subtracted while the relationship is within
	// its first-contact probation window (the first ProbationIntents
	// admitted intents).
	ProbationPenalty float64 `yaml:"probation_penalty"`
	ProbationIntents int     `yaml:"probation_intents"`

	// Threshold is the minimum score required to admit. Below it,
	// the pipeline rejects with risk_too_low.
	Threshold float64 `yaml:"threshold"`
}

// Entry is one policy row, keyed by (intent type, trust level).
type Entry struct {
	IntentType  string
	TrustFloor  TrustLevel
	Appointment AppointmentMode

	// RequiresConsent, if true, requires a positive consent entry in
	// the relationship's context snapshot for this intent type.
	RequiresConsent bool

	Content ContentRule
	Risk    RiskWeights

	// OversightCopy, if true, marks every event for this intent type
	// for oversight routing regardless of outcome kind.
	OversightCopy bool

	// LegalHold, if true, marks events for this intent type as exempt
	// from any future retention sweep (no automatic deletion).
	LegalHold bool

	// Version identifies the policy revision, recorded as the
	// admitting policy version on every intent_admitted event.
	Version string
}

// conservativeDefault is returned by Lookup when an intent type has
// no registered entry at all. It denies everything: an impossibly
// high trust floor, strict appointment enforcement, required consent,
// and a risk threshold of 1.0 that only a penalty-free score of
// exactly 1.0 meets.
var conservativeDefault = Entry{
	TrustFloor:      TrustLevel(1 << 30),
	Appointment:     AppointmentStrict,
	RequiresConsent: true,
	Risk:            RiskWeights{Threshold: 1.0},
	Version:         "conservative-default",
}
