package engine

import (
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// Recorder builds the append-only execution record of one run. The first
// entry is the trigger; it is written once at construction and mirrored in
// ExecutionRecord.Trigger.
type Recorder struct {
	record schema.ExecutionRecord
}

// NewRecorder starts a record with the trigger entry.
func NewRecorder(id, stepID string, outputs map[string]any) *Recorder {
	trigger := schema.StepRecord{
		ID:      id,
		StepID:  stepID,
		Outputs: expressions.DeepCopyMap(outputs),
	}
	return &Recorder{record: schema.ExecutionRecord{
		Trigger: trigger,
		Steps:   []schema.StepRecord{trigger},
	}}
}

// Append adds one step entry. Inputs and outputs are copied.
func (r *Recorder) Append(id, stepID string, inputs, outputs map[string]any) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	r.record.Steps = append(r.record.Steps, schema.StepRecord{
		ID:      id,
		StepID:  stepID,
		Inputs:  expressions.DeepCopyMap(inputs),
		Outputs: expressions.DeepCopyMap(outputs),
	})
}

// AppendStopped adds the fixed entry of a step skipped after a FILTER stop.
func (r *Recorder) AppendStopped(id, stepID string) {
	r.Append(id, stepID, map[string]any{}, schema.StoppedOutputs())
}

// Len returns the number of entries, trigger included.
func (r *Recorder) Len() int { return len(r.record.Steps) }

// Record returns a copy of the record built so far.
func (r *Recorder) Record() *schema.ExecutionRecord {
	out := &schema.ExecutionRecord{
		Trigger: copyStepRecord(r.record.Trigger),
		Steps:   make([]schema.StepRecord, len(r.record.Steps)),
	}
	for i, s := range r.record.Steps {
		out.Steps[i] = copyStepRecord(s)
	}
	return out
}

func copyStepRecord(s schema.StepRecord) schema.StepRecord {
	return schema.StepRecord{
		ID:      s.ID,
		StepID:  s.StepID,
		Inputs:  expressions.DeepCopyMap(s.Inputs),
		Outputs: expressions.DeepCopyMap(s.Outputs),
	}
}
