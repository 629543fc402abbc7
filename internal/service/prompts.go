package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Prompt phases. Each has a template named "<phase>.tmpl".
const (
	PhasePlan     = "plan"
	PhaseValidate = "validate_plan"
	PhaseRevise   = "revise_plan"
	PhaseExecute  = "execute"
	PhaseReview   = "review"
)

var defaultSystemPrompts = map[string]string{
	PhasePlan:     "You are an expert at planning software engineering work. Answer with JSON only.",
	PhaseValidate: "You are an expert at validating technical execution plans.",
	PhaseRevise:   "You are an expert at creating robust execution plans.",
	PhaseExecute:  "You are a careful engineer who delivers exactly what the plan asks for. Answer with JSON only.",
	PhaseReview:   "You are a strict quality reviewer. Answer with JSON only.",
}

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
	"inc": func(n int) int { return n + 1 },
}

var defaultTemplates = template.Must(template.New("prompts").Funcs(promptFuncs).ParseFS(templateFS, "templates/*.tmpl"))

// Prompts holds the system prompts and user prompt templates per phase.
type Prompts struct {
	tmpl   *template.Template
	system map[string]string
}

// promptFile is the YAML layout accepted by LoadPrompts.
type promptFile struct {
	SystemPrompts map[string]string `yaml:"system_prompts"`
	Templates     map[string]string `yaml:"templates"`
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() *Prompts {
	system := make(map[string]string, len(defaultSystemPrompts))
	for k, v := range defaultSystemPrompts {
		system[k] = v
	}
	return &Prompts{tmpl: template.Must(defaultTemplates.Clone()), system: system}
}

// LoadPrompts overlays the prompts in a YAML file on the embedded set.
// An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	for phase, text := range f.SystemPrompts {
		if _, ok := defaultSystemPrompts[phase]; !ok {
			return nil, fmt.Errorf("prompts %s: unknown phase %q", path, phase)
		}
		p.system[phase] = text
	}
	for phase, text := range f.Templates {
		if _, ok := defaultSystemPrompts[phase]; !ok {
			return nil, fmt.Errorf("prompts %s: unknown phase %q", path, phase)
		}
		if _, err := p.tmpl.New(phase + ".tmpl").Parse(text); err != nil {
			return nil, fmt.Errorf("prompts %s: template %s: %w", path, phase, err)
		}
	}
	return p, nil
}

// System returns the system prompt for phase.
func (p *Prompts) System(phase string) string {
	return p.system[phase]
}

// Render executes the user prompt template for phase.
func (p *Prompts) Render(phase string, data any) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, phase+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", phase, err)
	}
	return buf.String(), nil
}
