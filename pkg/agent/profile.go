// Package agent describes the voice persona: model, voice, system instruction
// and the caller context handed to the model.
package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v2"
)

const (
	DefaultModel    = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice    = "Puck"
	DefaultCallerID = "+39 333 1234567"
	DefaultAgencyID = 1
)

//go:embed instruction_it.md
var defaultInstruction string

// Profile is the agent configuration. Zero fields take the defaults.
type Profile struct {
	Model             string `yaml:"model" json:"model"`
	Voice             string `yaml:"voice" json:"voice"`
	SystemInstruction string `yaml:"system_instruction" json:"system_instruction"`
	CallerID          string `yaml:"caller_id" json:"caller_id"`
	AgencyID          int    `yaml:"agency_id" json:"agency_id"`
}

func DefaultProfile() *Profile {
	return &Profile{
		Model:             DefaultModel,
		Voice:             DefaultVoice,
		SystemInstruction: strings.TrimSpace(defaultInstruction),
		CallerID:          DefaultCallerID,
		AgencyID:          DefaultAgencyID,
	}
}

// LoadProfile reads a YAML or JSON profile from path on top of the defaults.
// An empty path returns the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var override Profile
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse json profile: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse yaml profile: %w", err)
	}

	p.apply(override)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) apply(o Profile) {
	if s := strings.TrimSpace(o.Model); s != "" {
		p.Model = s
	}
	if s := strings.TrimSpace(o.Voice); s != "" {
		p.Voice = s
	}
	if s := strings.TrimSpace(o.SystemInstruction); s != "" {
		p.SystemInstruction = s
	}
	if s := strings.TrimSpace(o.CallerID); s != "" {
		p.CallerID = s
	}
	if o.AgencyID != 0 {
		p.AgencyID = o.AgencyID
	}
}

func (p *Profile) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("profile: model is required")
	}
	if p.AgencyID < 0 {
		return fmt.Errorf("profile: agency_id must be >= 0")
	}
	return nil
}

// Instruction returns the system instruction with the caller context the
// model needs for start_lead_session.
func (p *Profile) Instruction(callerID string) string {
	if callerID == "" {
		callerID = p.CallerID
	}
	var b strings.Builder
	b.WriteString(p.SystemInstruction)
	b.WriteString("\n\nCONTESTO DELLA CHIAMATA\n")
	fmt.Fprintf(&b, "- Caller ID: %s\n", callerID)
	fmt.Fprintf(&b, "- agency_id: %d\n", p.AgencyID)
	return b.String()
}
