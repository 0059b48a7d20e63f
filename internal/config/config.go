package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"atelier/internal/rag"
)

// Config models atelier.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Aspects struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"aspects"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with atl project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "furniture-project" {
		return fmt.Errorf("config.project.kind must be 'furniture-project'")
	}
	for key := range c.Aspects.Catalog {
		if _, err := rag.ParseAspect(key); err != nil {
			return fmt.Errorf("config.aspects.catalog: %w", err)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atelier.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "furniture-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: furniture-project

aspects:
  catalog:
    design_completeness.concept_sketch:
      description: "Concept sketch produced and shared"
    design_completeness.model_3d:
      description: "3D model built and reviewed"
    design_completeness.dimensions:
      description: "Final dimensions fixed"
    design_completeness.material_specs:
      description: "Materials specified"
    design_completeness.hardware_specs:
      description: "Hardware and fittings specified"
    design_completeness.finish_specs:
      description: "Surface finishes specified"
    manufacturing_readiness.technical_drawings:
      description: "Shop drawings complete"
    manufacturing_readiness.bom:
      description: "Bill of materials complete"
    manufacturing_readiness.cost_estimate:
      description: "Cost estimate produced"
    manufacturing_readiness.supplier_quotes:
      description: "Supplier quotes received"
    manufacturing_readiness.lead_time:
      description: "Lead times confirmed"
    quality_gates.design_review:
      description: "Internal design review held"
    quality_gates.prototype_approval:
      description: "Prototype approved"
    quality_gates.compliance_check:
      description: "Safety and compliance checked"
    quality_gates.client_approval:
      description: "Client signed off"

rbac:
  roles:
    owner:
      description: "Project owner"
      permissions: [project.create, project.list, project.read, project.update, project.delete,
                    project.config.read, project.status.read, project.events.read,
                    item.create, item.list, item.read, item.update,
                    rag.set, stage.advance, stage.revert, item.override, rbac.manage]
    designer:
      description: "Design team member"
      permissions: [project.read, project.status.read, project.config.read,
                    item.create, item.list, item.read, item.update, rag.set, stage.advance]
    workshop_lead:
      description: "Workshop lead"
      permissions: [project.read, project.status.read, project.events.read,
                    item.list, item.read, rag.set, stage.advance, stage.revert]
    viewer:
      description: "Read-only access"
      permissions: [project.read, project.status.read, project.events.read, item.list, item.read]

webhooks: []
`
