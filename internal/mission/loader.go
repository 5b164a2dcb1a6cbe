// Package mission loads declarative mission documents and feeds them to
// the engine. Documents come from explicit files, a missions directory, a
// shallow-cloned git repository, or a spool file followed in watch mode.
package mission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// step is the wire form of an action step. Mission authors write
// timeout_ms the same way the plan compiler's model output does, so a
// mission file and a compiled plan share one step vocabulary.
type step struct {
	Kind        string `json:"kind" yaml:"kind"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	TimeoutMS   int64  `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
	Blocking    bool   `json:"blocking,omitempty" yaml:"blocking,omitempty"`
}

// document is the wire form of a mission file.
type document struct {
	TicketID     string                     `json:"ticket_id" yaml:"ticket_id"`
	TargetNode   string                     `json:"target_node,omitempty" yaml:"target_node,omitempty"`
	EntryURL     string                     `json:"entry_url,omitempty" yaml:"entry_url,omitempty"`
	Actions      []step                     `json:"actions,omitempty" yaml:"actions,omitempty"`
	Goal         string                     `json:"goal,omitempty" yaml:"goal,omitempty"`
	Instructions string                     `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Verification schemas.VerificationPoints `json:"verification_points,omitempty" yaml:"verification_points,omitempty"`
	Scope        schemas.TestScope          `json:"test_scope,omitempty" yaml:"test_scope,omitempty"`
	Persona      *schemas.Persona           `json:"persona,omitempty" yaml:"persona,omitempty"`
}

func (d *document) toMission() *schemas.Mission {
	m := &schemas.Mission{
		TicketID:     strings.TrimSpace(d.TicketID),
		TargetNode:   strings.TrimSpace(d.TargetNode),
		EntryURL:     strings.TrimSpace(d.EntryURL),
		Goal:         strings.TrimSpace(d.Goal),
		Instructions: strings.TrimSpace(d.Instructions),
		Verification: d.Verification,
		Scope:        d.Scope,
		Persona:      d.Persona,
	}
	for _, s := range d.Actions {
		m.Actions = append(m.Actions, schemas.ActionStep{
			Kind:        schemas.ActionKind(strings.ToLower(strings.TrimSpace(s.Kind))),
			Target:      strings.TrimSpace(s.Target),
			Value:       s.Value,
			Timeout:     time.Duration(s.TimeoutMS) * time.Millisecond,
			Description: strings.TrimSpace(s.Description),
			Role:        strings.TrimSpace(s.Role),
			Blocking:    s.Blocking,
		})
	}
	return m
}

// Load reads, decodes and validates one mission file. The format follows
// the file extension: .json, .yaml or .yml.
func Load(path string) (*schemas.Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mission file %s: %w", path, err)
	}

	var doc document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse mission file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse mission file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported mission file extension %q in %s (want .json, .yaml or .yml)", ext, path)
	}

	m := doc.toMission()
	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("invalid mission in %s: %w", path, err)
	}
	return m, nil
}

// Validate enforces the mission-level contract: an identity, something to
// execute, and a page for the compiler to observe when there is no
// prebuilt action list. Step internals are checked again by the plan
// validator before execution.
func Validate(m *schemas.Mission) error {
	if m.TicketID == "" {
		return fmt.Errorf("mission is missing ticket_id")
	}
	if !m.HasActions() && m.Goal == "" && m.Instructions == "" {
		return fmt.Errorf("mission %s declares neither actions nor instructions", m.TicketID)
	}
	if !m.HasActions() && m.EntryURL == "" {
		return fmt.Errorf("mission %s has instructions but no entry_url to observe", m.TicketID)
	}
	for i, a := range m.Actions {
		if !a.Kind.Valid() {
			return fmt.Errorf("mission %s action %d has unknown kind %q", m.TicketID, i, a.Kind)
		}
	}
	return nil
}
