package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: valid
description: "a valid scenario"
config:
  capacity: 10
  cooldown: 5s
operations:
  award_points: "{points: int}"
steps:
  - remote: offline
  - write: award_points
    actor: u1
    payload: { points: 1 }
    expect: { outcome: queued }
  - drain: true
    expect: { remaining: 1 }
  - advance: 1m
  - generate: hello
assertions:
  - type: outbox_size
    count: 1
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)

	assert.Equal(t, "valid", s.Name)
	assert.Equal(t, 10, s.Config.Capacity)
	require.Len(t, s.Steps, 5)
	assert.Equal(t, StepRemote, s.Steps[0].Kind())
	assert.Equal(t, StepWrite, s.Steps[1].Kind())
	assert.Equal(t, map[string]any{"points": 1}, s.Steps[1].Payload)
	assert.Equal(t, StepDrain, s.Steps[2].Kind())
	require.NotNil(t, s.Steps[2].Expect.Remaining)
	assert.Equal(t, 1, *s.Steps[2].Expect.Remaining)
	assert.Nil(t, s.Steps[2].Expect.Processed)
	assert.Equal(t, StepAdvance, s.Steps[3].Kind())
	assert.Equal(t, StepGenerate, s.Steps[4].Kind())
}

func TestLoadScenario_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "valid", s.Name)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown field",
			doc:     "name: x\ndescription: d\nstep: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			doc:     "description: d\nsteps: [{drain: true}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			doc:     "name: x\nsteps: [{drain: true}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			doc:     "name: x\ndescription: d\nassertions: [{type: outbox_size}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "two kinds in one step",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true, remote: online}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "exactly one of",
		},
		{
			name:    "bad connectivity",
			doc:     "name: x\ndescription: d\nsteps: [{remote: flaky}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "must be online or offline",
		},
		{
			name:    "undeclared operation",
			doc:     "name: x\ndescription: d\nsteps: [{write: award_points, actor: u1}]\nassertions: [{type: outbox_size}]\n",
			wantErr: `operation "award_points" is not declared`,
		},
		{
			name:    "write without actor",
			doc:     "name: x\ndescription: d\noperations: {a: ''}\nsteps: [{write: a}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "actor is required",
		},
		{
			name:    "bad advance",
			doc:     "name: x\ndescription: d\nsteps: [{advance: soon}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "advance must be a non-negative duration",
		},
		{
			name:    "outcome for wrong step",
			doc:     "name: x\ndescription: d\nsteps: [{generate: hi, expect: {outcome: queued}}]\nassertions: [{type: outbox_size}]\n",
			wantErr: `outcome "queued" is not valid for generate`,
		},
		{
			name:    "bad cooldown",
			doc:     "name: x\ndescription: d\nconfig: {cooldown: later}\nsteps: [{drain: true}]\nassertions: [{type: outbox_size}]\n",
			wantErr: "config.cooldown",
		},
		{
			name:    "unknown assertion",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true}]\nassertions: [{type: final_state}]\n",
			wantErr: `unknown assertion type "final_state"`,
		},
		{
			name:    "event_count without event",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true}]\nassertions: [{type: event_count, count: 1}]\n",
			wantErr: "event is required",
		},
		{
			name:    "event_order without events",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true}]\nassertions: [{type: event_order}]\n",
			wantErr: "events list is required",
		},
		{
			name:    "incomplete write ref",
			doc:     "name: x\ndescription: d\nsteps: [{drain: true}]\nassertions: [{type: remote_applied, writes: [{operation: a}]}]\n",
			wantErr: "operation and actor are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
