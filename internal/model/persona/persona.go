package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona captures the assistant identity used to prime every prompt.
type Persona struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Title          string `json:"title" yaml:"title"`
	UserLabel      string `json:"userLabel" yaml:"user_label"`           // 用户在对话记录中的称呼
	AssistantLabel string `json:"assistantLabel" yaml:"assistant_label"` // 助手在对话记录中的称呼
	Preamble       string `json:"-" yaml:"preamble"`
}

// Default returns the built-in legal assistant persona.
func Default() Persona {
	return Persona{
		ID:             "maia",
		Name:           "Maia",
		Title:          "Assistente jurídica",
		UserLabel:      "Advogado",
		AssistantLabel: "Maia",
		Preamble: "Você é Maia, uma assistente jurídica especializada em direito brasileiro. " +
			"Você ajuda advogados com pesquisa jurídica, redação de peças, análise de casos e prazos processuais. " +
			"Seja precisa, objetiva e sempre cite artigos de lei quando relevante.",
	}
}

// Validate checks that every field needed to render a prompt is present.
func (p Persona) Validate() error {
	switch {
	case strings.TrimSpace(p.Preamble) == "":
		return fmt.Errorf("persona %q: preamble is required", p.ID)
	case strings.TrimSpace(p.UserLabel) == "":
		return fmt.Errorf("persona %q: user label is required", p.ID)
	case strings.TrimSpace(p.AssistantLabel) == "":
		return fmt.Errorf("persona %q: assistant label is required", p.ID)
	}
	return nil
}

// LoadFile reads a YAML persona definition. Fields missing from the file keep
// the values of Default(). An empty path returns Default() unchanged.
func LoadFile(path string) (Persona, error) {
	p := Default()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	p.Preamble = strings.TrimSpace(p.Preamble)
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}
