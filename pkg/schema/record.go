package schema

import "encoding/json"

// Terminal statuses written into step outputs.
const (
	StatusStopped          = "STOPPED"
	StatusIncorrectType    = "INCORRECT_TYPE"
	StatusMaxIterations    = "MAX_ITERATIONS"
	StatusFailureCondition = "FAILURE_CONDITION"
)

// StoppedOutputs returns the fixed outcome recorded for every step walked
// after a FILTER stopped the run.
func StoppedOutputs() map[string]any {
	return map[string]any{"success": false, "status": StatusStopped}
}

// StepRecord is one entry of an execution record.
type StepRecord struct {
	ID      string         `json:"id"`
	StepID  string         `json:"stepId"`
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs"`
}

// ExecutionRecord is the append-only trace of one automation run. Steps[0]
// is always the trigger record, mirroring Trigger; a loop and its body
// collapse into a single aggregate entry.
type ExecutionRecord struct {
	Trigger StepRecord   `json:"trigger"`
	Steps   []StepRecord `json:"steps"`
}

// TriggerMetadata travels with a trigger event between chained automations.
type TriggerMetadata struct {
	AutomationChainCount int `json:"automationChainCount"`
}

// TriggerEvent is what a dispatcher hands the engine. On the wire it is a
// flat object: automationId, appId and metadata sit next to the payload keys.
type TriggerEvent struct {
	AutomationID string
	AppID        string
	Metadata     *TriggerMetadata
	Payload      map[string]any
}

// ChainCount returns the chain count carried by the event, 0 when absent.
func (e TriggerEvent) ChainCount() int {
	if e.Metadata == nil {
		return 0
	}
	return e.Metadata.AutomationChainCount
}

// MarshalJSON flattens the event.
func (e TriggerEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	if e.AutomationID != "" {
		out["automationId"] = e.AutomationID
	}
	if e.AppID != "" {
		out["appId"] = e.AppID
	}
	if e.Metadata != nil {
		out["metadata"] = e.Metadata
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits automationId, appId and metadata out of a flat event object.
func (e *TriggerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = TriggerEvent{Payload: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "automationId":
			if err := json.Unmarshal(v, &e.AutomationID); err != nil {
				return err
			}
		case "appId":
			if err := json.Unmarshal(v, &e.AppID); err != nil {
				return err
			}
		case "metadata":
			var md TriggerMetadata
			if err := json.Unmarshal(v, &md); err != nil {
				return err
			}
			e.Metadata = &md
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			e.Payload[k] = val
		}
	}
	return nil
}
