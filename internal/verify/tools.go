package verify

import (
	"fmt"
	"os"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var defaultToolsYAML []byte

// TestRunnerRule binds a project marker file to a test command for a set of
// languages. Rules are evaluated in order; the first match wins.
type TestRunnerRule struct {
	Marker    string   `yaml:"marker"`
	Languages []string `yaml:"languages"`
	Command   []string `yaml:"command"`
}

type ToolsConfig struct {
	SyntaxTimeoutSeconds int `yaml:"syntax_timeout_seconds"`
	TestTimeoutSeconds   int `yaml:"test_timeout_seconds"`
	LintTimeoutSeconds   int `yaml:"lint_timeout_seconds"`

	Syntax      map[string][]string `yaml:"syntax"`
	Lint        map[string][]string `yaml:"lint"`
	TestRunners []TestRunnerRule    `yaml:"test_runners"`
}

// DefaultTools parses the embedded tool table.
func DefaultTools() (*ToolsConfig, error) {
	return parseTools(defaultToolsYAML)
}

// LoadTools reads a tool table from path, falling back to the embedded
// default when path is empty.
func LoadTools(path string) (*ToolsConfig, error) {
	if path == "" {
		return DefaultTools()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools config: %w", err)
	}
	return parseTools(data)
}

func parseTools(data []byte) (*ToolsConfig, error) {
	var cfg ToolsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tools config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SyntaxTimeoutSeconds == 0 {
		cfg.SyntaxTimeoutSeconds = 30
	}
	if cfg.TestTimeoutSeconds == 0 {
		cfg.TestTimeoutSeconds = 300
	}
	if cfg.LintTimeoutSeconds == 0 {
		cfg.LintTimeoutSeconds = 60
	}
	return &cfg, nil
}

func (c *ToolsConfig) validate() error {
	for lang, cmd := range c.Syntax {
		if err := validateCommand("syntax", lang, cmd); err != nil {
			return err
		}
	}
	for lang, cmd := range c.Lint {
		if err := validateCommand("lint", lang, cmd); err != nil {
			return err
		}
	}
	for i, rule := range c.TestRunners {
		if rule.Marker == "" {
			return fmt.Errorf("test_runners[%d]: marker is required", i)
		}
		if len(rule.Command) == 0 {
			return fmt.Errorf("test_runners[%d] (%s): command is required", i, rule.Marker)
		}
		if len(rule.Languages) == 0 {
			return fmt.Errorf("test_runners[%d] (%s): languages is required", i, rule.Marker)
		}
	}
	return nil
}

func validateCommand(section, lang string, cmd []string) error {
	if len(cmd) == 0 {
		return fmt.Errorf("%s.%s: command is empty", section, lang)
	}
	for _, arg := range cmd {
		if strings.Contains(arg, filePlaceholder) {
			return nil
		}
	}
	return fmt.Errorf("%s.%s: command must reference %s", section, lang, filePlaceholder)
}

const filePlaceholder = "{file}"

// expandCommand substitutes the candidate path into a command template.
func expandCommand(cmd []string, file string) []string {
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		out[i] = strings.ReplaceAll(arg, filePlaceholder, file)
	}
	return out
}

func (r TestRunnerRule) appliesTo(language string) bool {
	for _, l := range r.Languages {
		if l == language {
			return true
		}
	}
	return false
}
