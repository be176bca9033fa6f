package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tool is an allow-listed external command exposed to flows as a task.
type Tool struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Env         map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
}

// ConfigFile represents the structure of tools.yaml
type ConfigFile struct {
	Tools []Tool `yaml:"tools" json:"tools"`
}

// LoadTools reads a tools file (YAML, or JSON when the extension is .json).
// A missing file yields no tools.
func LoadTools(path string) ([]Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	tools := make([]Tool, 0, len(cfg.Tools))
	seen := make(map[string]bool, len(cfg.Tools))
	for i, tool := range cfg.Tools {
		if tool.Name == "" || tool.Command == "" {
			return nil, fmt.Errorf("%s: tool %d needs a name and a command", path, i)
		}
		if seen[tool.Name] {
			return nil, fmt.Errorf("%s: tool %q defined twice", path, tool.Name)
		}
		seen[tool.Name] = true
		tools = append(tools, tool)
	}
	return tools, nil
}
