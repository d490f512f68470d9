package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlan_Valid(t *testing.T) {
	plan := DefaultPlan(DefaultMarkers())
	require.NoError(t, plan.Validate())

	assert.Len(t, plan.Setup, 5)
	assert.Len(t, plan.Phase1, 5)
	assert.Len(t, plan.Phase2, 7)
}

func TestDefaultPlan_GatesAndMonitoring(t *testing.T) {
	plan := DefaultPlan(Markers{Unsafe: "U!", Critical: "C!", Failed: "F!"})

	gates := map[string]Gate{}
	var monitored []string
	for _, stage := range []Stage{StageSetup, StagePhase1, StagePhase2} {
		for _, st := range plan.Steps(stage) {
			if st.RequiresValidation() {
				gates[st.ID] = *st.Gate
			}
			if st.Monitor {
				monitored = append(monitored, st.ID)
			}
		}
	}

	assert.Equal(t, []string{"6a", "6b"}, monitored)

	require.Contains(t, gates, "2")
	assert.Equal(t, "U!", gates["2"].Marker)
	assert.Equal(t, SeverityWarning, gates["2"].Severity)

	for _, id := range []string{"8", "8b"} {
		require.Contains(t, gates, id)
		assert.Equal(t, "C!", gates[id].Marker)
		assert.Equal(t, SeverityFatal, gates[id].Severity)
	}
	for _, id := range []string{"11a", "11b"} {
		require.Contains(t, gates, id)
		assert.Equal(t, "F!", gates[id].Marker)
		assert.Equal(t, SeverityFatal, gates[id].Severity)
	}
}

func TestPlan_Validate(t *testing.T) {
	step := func(id string) Step {
		return Step{Phase: Phase{ID: id, Name: id, Script: id + ".sql", LogFile: id + ".log"}}
	}

	tests := []struct {
		name    string
		plan    Plan
		wantErr bool
	}{
		{
			name: "minimal",
			plan: Plan{Setup: []Step{step("0")}, Phase1: []Step{step("1")}, Phase2: []Step{step("2")}},
		},
		{
			name:    "empty stage",
			plan:    Plan{Setup: []Step{step("0")}, Phase1: []Step{step("1")}},
			wantErr: true,
		},
		{
			name:    "duplicate id",
			plan:    Plan{Setup: []Step{step("0")}, Phase1: []Step{step("0")}, Phase2: []Step{step("2")}},
			wantErr: true,
		},
		{
			name: "missing log file",
			plan: Plan{
				Setup:  []Step{{Phase: Phase{ID: "0", Script: "0.sql"}}},
				Phase1: []Step{step("1")},
				Phase2: []Step{step("2")},
			},
			wantErr: true,
		},
		{
			name: "gate without marker",
			plan: Plan{
				Setup:  []Step{{Phase: step("0").Phase, Gate: &Gate{Severity: SeverityFatal}}},
				Phase1: []Step{step("1")},
				Phase2: []Step{step("2")},
			},
			wantErr: true,
		},
		{
			name: "gate with unknown severity",
			plan: Plan{
				Setup:  []Step{{Phase: step("0").Phase, Gate: &Gate{Marker: "x", Severity: "loud"}}},
				Phase1: []Step{step("1")},
				Phase2: []Step{step("2")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPlan)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMode(t *testing.T) {
	assert.True(t, ModePhase1.IncludesPhase1())
	assert.False(t, ModePhase1.IncludesPhase2())
	assert.False(t, ModePhase2.IncludesPhase1())
	assert.True(t, ModePhase2.IncludesPhase2())
	assert.True(t, ModeBoth.IncludesPhase1())
	assert.True(t, ModeBoth.IncludesPhase2())
	assert.False(t, Mode("3").IsValid())
}
