package schema

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// fieldYAML is the on-disk shape of one field declaration.
type fieldYAML struct {
	NotNull   bool     `yaml:"not_null"`
	Unique    bool     `yaml:"unique"`
	Regex     string   `yaml:"regex"`
	Reference []string `yaml:"reference"`
	Decorator []string `yaml:"decorator"`
}

// manifestYAML is the on-disk shape of one manifest declaration.
type manifestYAML struct {
	CN    string   `yaml:"cn"`
	Field []string `yaml:"field"`
}

// Load reads the three declaration files and builds a validated Registry.
// Field and manifest files are keyed by category then by name; categories
// exist only for the operator's benefit and are flattened here. The cache
// file is keyed by manifest then by cache-key name.
func Load(fieldPath, manifestPath, cachePath string) (*Registry, error) {
	fields, err := loadFields(fieldPath)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}

	manifests, err := loadManifests(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifests: %w", err)
	}

	cache, err := loadCache(cachePath)
	if err != nil {
		return nil, fmt.Errorf("load cache templates: %w", err)
	}

	return New(fields, manifests, cache)
}

func loadFields(path string) (map[string]*FieldDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]map[string]fieldYAML
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}

	fields := make(map[string]*FieldDefinition)
	for category := range tree {
		for name, def := range tree[category] {
			field := &FieldDefinition{
				Name:       name,
				NotNull:    def.NotNull,
				Unique:     def.Unique,
				Reference:  def.Reference,
				Decorators: def.Decorator,
			}
			if def.Regex != "" {
				re, err := regexp.Compile(def.Regex)
				if err != nil {
					return nil, fmt.Errorf("field %s: invalid regex: %w", name, err)
				}
				field.Regex = re
			}
			fields[name] = field
		}
	}
	return fields, nil
}

func loadManifests(path string) (map[string]*ManifestDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]map[string]manifestYAML
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}

	manifests := make(map[string]*ManifestDefinition)
	for category := range tree {
		for name, def := range tree[category] {
			manifests[name] = &ManifestDefinition{
				Name:       name,
				CNTemplate: def.CN,
				Fields:     def.Field,
			}
		}
	}
	return manifests, nil
}

func loadCache(path string) (map[string]map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cache map[string]map[string]string
	if err := yaml.Unmarshal(raw, &cache); err != nil {
		return nil, err
	}
	return cache, nil
}
