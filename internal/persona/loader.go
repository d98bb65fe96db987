package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads a Persona from a YAML file.
// If the file doesn't exist, returns the default persona.
func LoadFromFile(path string) (*Persona, error) {
	if path == "" {
		return New(), nil
	}
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML parses YAML data into a Persona. Fields missing from the
// document keep their default values.
func LoadFromYAML(data []byte) (*Persona, error) {
	p := New()

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse persona YAML: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona configuration: %w", err)
	}

	return p, nil
}

// Validate checks that the persona configuration is valid.
func (p *Persona) Validate() error {
	if p.Identity.Name == "" {
		return fmt.Errorf("identity.name is required")
	}
	if p.Identity.Role == "" {
		return fmt.Errorf("identity.role is required")
	}

	validTones := map[Tone]bool{
		ToneProfessional: true,
		ToneCasual:       true,
		ToneFriendly:     true,
		ToneWarm:         true,
	}
	if !validTones[p.Communication.Tone] {
		return fmt.Errorf("invalid tone: %s (valid: professional, casual, friendly, warm)", p.Communication.Tone)
	}

	validDetails := map[DetailLevel]bool{
		DetailConcise:  true,
		DetailBalanced: true,
		DetailDetailed: true,
	}
	if !validDetails[p.Communication.DetailLevel] {
		return fmt.Errorf("invalid detail_level: %s (valid: concise, balanced, detailed)", p.Communication.DetailLevel)
	}

	return nil
}

// SaveToFile writes the persona configuration to a YAML file.
func (p *Persona) SaveToFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal persona: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write persona file: %w", err)
	}

	return nil
}

// DefaultPath returns the default path for the persona file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.concierge/persona.yaml"
	}
	return filepath.Join(home, ".concierge", "persona.yaml")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
