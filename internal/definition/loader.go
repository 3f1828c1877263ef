// Package definition loads workflow definitions from YAML files and validates
// them before they are seeded into the store.
package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/stagegate/model"
)

// workflowFile is the YAML shape of a workflow definition file.
type workflowFile struct {
	ID      string     `yaml:"id"`
	BrandID string     `yaml:"brand_id"`
	Name    string     `yaml:"name"`
	Steps   []stepFile `yaml:"steps"`
}

type stepFile struct {
	ID              string   `yaml:"id"`
	Order           int      `yaml:"order"`
	Role            string   `yaml:"role"`
	AssignedUserIDs []string `yaml:"assigned_user_ids"`
}

// Loader scans directories for YAML workflow definition files.
type Loader struct{}

// NewLoader creates a new workflow definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a WorkflowDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.WorkflowDefinition, error) {
	var defs []model.WorkflowDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML workflow definition file.
func (l *Loader) LoadFile(path string) (model.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def := model.WorkflowDefinition{
		ID:      file.ID,
		BrandID: file.BrandID,
		Name:    file.Name,
		Steps:   make([]model.WorkflowStep, len(file.Steps)),
	}
	for i, s := range file.Steps {
		def.Steps[i] = model.WorkflowStep{
			ID:              s.ID,
			WorkflowID:      file.ID,
			Order:           s.Order,
			Role:            s.Role,
			AssignedUserIDs: s.AssignedUserIDs,
		}
	}

	return def, nil
}
