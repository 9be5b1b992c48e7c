package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Step   string         `json:"step"`
	Fields map[string]any `json:"fields,omitempty"`
	Events []string       `json:"events,omitempty"` // telemetry emitted during the step
}

// RemoteCall is one write attempt seen by the simulated remote.
type RemoteCall struct {
	Operation string `json:"operation"`
	ActorID   string `json:"actor_id"`
	Key       string `json:"key"`
	Applied   bool   `json:"applied"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// RemoteCalls is every call the simulated remote received.
	RemoteCalls []RemoteCall `json:"remote_calls"`

	// Events is every telemetry event name, in emission order.
	Events []string `json:"events"`

	// OutboxSize and DeadLetters describe the final outbox.
	OutboxSize  int `json:"outbox_size"`
	DeadLetters int `json:"dead_letters"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		RemoteCalls: []RemoteCall{},
		Events:      []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(step string, fields map[string]any, events []string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Step:   step,
		Fields: fields,
		Events: events,
	})
}
