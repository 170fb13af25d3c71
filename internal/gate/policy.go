package gate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	policySchemaVersion = 1
	maxPolicySize       = 1024 * 1024
)

// WorkerCommand is an external command that runs a gate or specialist.
type WorkerCommand struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
}

// Policy is the parsed gate policy file.
type Policy struct {
	Registry    *Registry
	Workers     map[string]WorkerCommand
	Specialists map[string]WorkerCommand
}

type policyFile struct {
	SchemaVersion int `yaml:"schema_version"`
	Defaults      struct {
		MaxAttempts    *int `yaml:"max_attempts"`
		TimeoutSeconds int  `yaml:"timeout_seconds"`
	} `yaml:"defaults"`
	Gates            []policyGate             `yaml:"gates"`
	QuarantinedGates []policyQuarantine       `yaml:"quarantined_gates"`
	Workers          map[string]WorkerCommand `yaml:"workers"`
	Specialists      map[string]WorkerCommand `yaml:"specialists"`
}

type policyGate struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Tier             string   `yaml:"tier"`
	Required         *bool    `yaml:"required"`
	MaxAttempts      *int     `yaml:"max_attempts"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	Prerequisites    []string `yaml:"prerequisites"`
	Worker           string   `yaml:"worker"`
	Specialist       string   `yaml:"specialist"`
	QuarantineOnSkip bool     `yaml:"quarantine_on_skip"`
}

type policyQuarantine struct {
	Gate      string `yaml:"gate"`
	Reason    string `yaml:"reason"`
	Reference string `yaml:"reference"`
	Since     string `yaml:"since"`
}

// LoadPolicy reads and parses a policy file.
func LoadPolicy(path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	if info.Size() > maxPolicySize {
		return nil, fmt.Errorf("policy file too large: %d bytes (max %d)", info.Size(), maxPolicySize)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy parses policy YAML. Unknown keys are rejected. Gates are
// required unless they say otherwise.
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if f.SchemaVersion != policySchemaVersion {
		return nil, fmt.Errorf("unsupported policy schema_version %d (want %d)", f.SchemaVersion, policySchemaVersion)
	}
	if len(f.Gates) == 0 {
		return nil, errors.New("policy declares no gates")
	}

	defaultAttempts := 1
	if f.Defaults.MaxAttempts != nil {
		defaultAttempts = *f.Defaults.MaxAttempts
	}

	quarantines := make(map[string]*PolicyQuarantine, len(f.QuarantinedGates))
	for _, q := range f.QuarantinedGates {
		pq := &PolicyQuarantine{Reason: q.Reason, Reference: q.Reference}
		if q.Since != "" {
			since, err := time.Parse("2006-01-02", q.Since)
			if err != nil {
				return nil, fmt.Errorf("quarantine for %q: invalid since %q: %w", q.Gate, q.Since, err)
			}
			pq.Since = since
		}
		quarantines[q.Gate] = pq
	}

	defs := make([]Definition, 0, len(f.Gates))
	for _, g := range f.Gates {
		d := Definition{
			Name:             g.Name,
			Description:      g.Description,
			Tier:             Tier(g.Tier),
			Required:         true,
			MaxAttempts:      defaultAttempts,
			Prerequisites:    g.Prerequisites,
			Worker:           g.Worker,
			Specialist:       g.Specialist,
			QuarantineOnSkip: g.QuarantineOnSkip,
			Quarantine:       quarantines[g.Name],
		}
		if g.Required != nil {
			d.Required = *g.Required
		}
		if g.MaxAttempts != nil {
			d.MaxAttempts = *g.MaxAttempts
		}
		switch {
		case g.TimeoutSeconds > 0:
			d.Timeout = time.Duration(g.TimeoutSeconds) * time.Second
		case f.Defaults.TimeoutSeconds > 0:
			d.Timeout = time.Duration(f.Defaults.TimeoutSeconds) * time.Second
		}
		delete(quarantines, g.Name)
		defs = append(defs, d)
	}
	for name := range quarantines {
		return nil, fmt.Errorf("quarantine for undeclared gate %q", name)
	}

	reg, err := New(defs...)
	if err != nil {
		return nil, err
	}
	return &Policy{Registry: reg, Workers: f.Workers, Specialists: f.Specialists}, nil
}
