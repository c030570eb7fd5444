// Package gate decides whether a blueprint document may be exported.
package gate

// Reason names one violated export condition.
type Reason string

const (
	ReasonNotLocked    Reason = "BLUEPRINT_NOT_LOCKED"
	ReasonDrift        Reason = "DRIFT_DETECTED"
	ReasonVerifyFailed Reason = "VERIFY_TRUTH_FAILED"
	ReasonNoBoxes      Reason = "NO_BOXES"
	ReasonNoNodes      Reason = "NO_NODES"
	ReasonMissingHints Reason = "MISSING_LAYOUT_HINTS"
)

// Input is the document state the gate looks at.
type Input struct {
	Locked            bool `json:"locked"`
	DriftDetected     bool `json:"driftDetected"`
	VerificationPass  bool `json:"verificationPass"`
	BoxesLen          int  `json:"boxesLen"`
	NodesLen          int  `json:"nodesLen"`
	MissingHintsCount int  `json:"missingHintsCount"`
}

// Decision lists every violated condition. OK is true iff Reasons is empty.
type Decision struct {
	OK      bool     `json:"ok"`
	Reasons []Reason `json:"reasons"`
}

// Evaluate checks all conditions and reports every one that fails, in a
// fixed order. It never fails itself.
func Evaluate(in Input) Decision {
	reasons := []Reason{}
	if !in.Locked {
		reasons = append(reasons, ReasonNotLocked)
	}
	if in.DriftDetected {
		reasons = append(reasons, ReasonDrift)
	}
	if !in.VerificationPass {
		reasons = append(reasons, ReasonVerifyFailed)
	}
	if in.BoxesLen <= 0 {
		reasons = append(reasons, ReasonNoBoxes)
	}
	if in.NodesLen <= 0 {
		reasons = append(reasons, ReasonNoNodes)
	}
	if in.MissingHintsCount > 0 {
		reasons = append(reasons, ReasonMissingHints)
	}
	return Decision{OK: len(reasons) == 0, Reasons: reasons}
}

// Strings returns the reasons as plain strings.
func (d Decision) Strings() []string {
	out := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		out[i] = string(r)
	}
	return out
}
