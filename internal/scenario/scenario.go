// Package scenario loads capture expectations declared as YAML and compiles
// them into matchers for a reader.
//
//	name: resolve-and-ping
//	timeout: 2s
//	expectations:
//	  - name: answer-arp
//	    times: unlimited
//	    match:
//	      kind: ethernet
//	      payload:
//	        kind: arp
//	        fields: {oper: 1, tpa: 10.0.0.1}
//	    action:
//	      type: reply_arp
//	  - name: ping
//	    match:
//	      kind: ethernet
//	      has:
//	        - kind: udp
//	          fields: {dport: 5000, payload: ping}
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/tapcheck/internal/core"
)

// Scenario is one YAML document.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Timeout     time.Duration `yaml:"timeout"`
	// Unmatched overrides the reader policy when set: fail / log / skip.
	Unmatched    string            `yaml:"unmatched"`
	Inject       []string          `yaml:"inject"` // hex frames written once the reader runs
	Expectations []ExpectationSpec `yaml:"expectations"`
}

type ExpectationSpec struct {
	Name string `yaml:"name"`
	// Times is a non-negative count or "unlimited". Omitted means once.
	Times  any         `yaml:"times"`
	Match  PatternSpec `yaml:"match"`
	Action *ActionSpec `yaml:"action"`
}

// PatternSpec mirrors expect.Pattern. Field values are literals, or maps
// with a single `one_of` or `not` key.
type PatternSpec struct {
	Kind    string                  `yaml:"kind"`
	Fields  map[string]any          `yaml:"fields"`
	Payload *PatternSpec            `yaml:"payload"`
	Has     []*PatternSpec          `yaml:"has"`
	Sub     map[string]*PatternSpec `yaml:"sub"`
}

type ActionSpec struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario document. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	if len(sc.Expectations) == 0 {
		return nil, fmt.Errorf("%w: scenario %q declares no expectations", core.ErrConfigInvalid, sc.Name)
	}
	if sc.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", core.ErrConfigInvalid)
	}
	return &sc, nil
}
