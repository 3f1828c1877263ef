package definition

import (
	"fmt"

	"github.com/pitabwire/stagegate/model"
)

// VError describes a single validation error in a workflow definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates workflow definitions structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions and reports every problem found, so a
// misconfigured deployment surfaces all mistakes in one pass.
func (v *Validator) Validate(defs []model.WorkflowDefinition) []VError {
	var errs []VError

	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("workflows[%d]", i)
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("workflow id %q already defined", def.ID)})
		}
		seen[def.ID] = true
		errs = append(errs, v.validateWorkflow(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.BrandID == "" {
		errs = append(errs, VError{Path: prefix + ".brand_id", Code: "REQUIRED", Message: "brand_id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	stepIDs := make(map[string]bool, len(def.Steps))
	orders := make(map[int]bool, len(def.Steps))
	for i, step := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)

		if step.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "id is required"})
		} else if stepIDs[step.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("step id %q already defined", step.ID)})
		}
		stepIDs[step.ID] = true

		if step.Role == "" {
			errs = append(errs, VError{Path: sp + ".role", Code: "REQUIRED", Message: "role is required"})
		}

		// Step order positions items in the review sequence; two steps
		// sharing an order would make the active step ambiguous.
		if step.Order < 1 {
			errs = append(errs, VError{Path: sp + ".order", Code: "RANGE", Message: "order must be at least 1"})
		} else if orders[step.Order] {
			errs = append(errs, VError{Path: sp + ".order", Code: "DUPLICATE", Message: fmt.Sprintf("order %d already used", step.Order)})
		}
		orders[step.Order] = true
	}

	return errs
}
