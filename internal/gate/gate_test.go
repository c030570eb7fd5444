package gate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "not locked",
			in:   Input{Locked: false, VerificationPass: true, BoxesLen: 5, NodesLen: 5},
			want: Decision{OK: false, Reasons: []Reason{ReasonNotLocked}},
		},
		{
			name: "all satisfied",
			in:   Input{Locked: true, VerificationPass: true, BoxesLen: 3, NodesLen: 3},
			want: Decision{OK: true, Reasons: []Reason{}},
		},
		{
			name: "drift and failed verification",
			in:   Input{Locked: true, DriftDetected: true, BoxesLen: 3, NodesLen: 3},
			want: Decision{Reasons: []Reason{ReasonDrift, ReasonVerifyFailed}},
		},
		{
			name: "everything wrong",
			in:   Input{DriftDetected: true, MissingHintsCount: 2},
			want: Decision{Reasons: []Reason{
				ReasonNotLocked, ReasonDrift, ReasonVerifyFailed,
				ReasonNoBoxes, ReasonNoNodes, ReasonMissingHints,
			}},
		},
		{
			name: "missing hints only",
			in:   Input{Locked: true, VerificationPass: true, BoxesLen: 1, NodesLen: 2, MissingHintsCount: 1},
			want: Decision{Reasons: []Reason{ReasonMissingHints}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.in))
		})
	}
}

func TestDecisionJSON(t *testing.T) {
	data, err := json.Marshal(Evaluate(Input{Locked: true, VerificationPass: true, BoxesLen: 3, NodesLen: 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"reasons":[]}`, string(data))

	data, err = json.Marshal(Evaluate(Input{VerificationPass: true, BoxesLen: 5, NodesLen: 5}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"reasons":["BLUEPRINT_NOT_LOCKED"]}`, string(data))
}
