package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/autoflow/pkg/schema"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// automationFile is the on-disk form of an automation. The optional app
// section carries the tenant the automation's app runs under.
type automationFile struct {
	schema.Automation `yaml:",inline"`
	App               *schema.AppMetadata `json:"app,omitempty" yaml:"app,omitempty"`
}

// readAutomation loads an automation and its optional app from a YAML or
// JSON file. YAML inputs are normalized to their JSON types so both formats
// validate alike. The app defaults to the automation's appId.
func readAutomation(path string) (*schema.Automation, *schema.AppMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var f automationFile
	if isYAML(path) {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if isYAML(path) {
		raw, err := json.Marshal(f.Definition)
		if err != nil {
			return nil, nil, fmt.Errorf("normalize %s: %w", path, err)
		}
		f.Definition = schema.AutomationDefinition{}
		if err := json.Unmarshal(raw, &f.Definition); err != nil {
			return nil, nil, fmt.Errorf("normalize %s: %w", path, err)
		}
	}
	if f.App != nil && f.App.AppID == "" {
		f.App.AppID = f.AppID
	}
	return &f.Automation, f.App, nil
}

// readTrigger loads a trigger event in its flat wire form from a YAML or
// JSON file. An empty path yields an empty payload.
func readTrigger(path string) (schema.TriggerEvent, error) {
	var event schema.TriggerEvent
	if path == "" {
		event.Payload = map[string]any{}
		return event, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return event, err
	}
	if isYAML(path) {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return event, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return event, fmt.Errorf("normalize %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("parse %s: %w", path, err)
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	return event, nil
}
