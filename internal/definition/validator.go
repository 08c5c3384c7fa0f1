package definition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pitabwire/designer/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks designer definitions structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var (
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

	validPanelKinds = map[string]bool{
		model.PanelKindProperties: true,
		model.PanelKindFields:     true,
		model.PanelKindAdvanced:   true,
	}

	// Properties a required_properties entry may name besides free-form
	// ones prefixed with "properties.".
	builtinProperties = map[string]bool{
		"name":        true,
		"description": true,
	}
)

// Validate checks all definitions and reports kinds declared more than once.
func (v *Validator) Validate(defs []model.DesignerDefinition) []VError {
	var errs []VError
	seen := make(map[string]int, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDesigner(prefix, def)...)
		if def.Kind == "" {
			continue
		}
		if prev, dup := seen[def.Kind]; dup {
			errs = append(errs, VError{
				Path:    prefix + ".kind",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("kind %q is also declared by definitions[%d]", def.Kind, prev),
			})
			continue
		}
		seen[def.Kind] = i
	}
	return errs
}

func (v *Validator) validateDesigner(prefix string, def model.DesignerDefinition) []VError {
	var errs []VError

	switch {
	case def.Kind == "":
		errs = append(errs, VError{Path: prefix + ".kind", Code: "REQUIRED", Message: "kind is required"})
	case !kindPattern.MatchString(def.Kind):
		errs = append(errs, VError{
			Path: prefix + ".kind", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("kind %q must be lower-case letters, digits, '-' or '_'", def.Kind),
		})
	}
	if def.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Panels) == 0 {
		errs = append(errs, VError{Path: prefix + ".panels", Code: "REQUIRED", Message: "at least one panel is required"})
		return errs
	}

	ids := make(map[string]bool, len(def.Panels))
	counts := make(map[string]int, len(validPanelKinds))
	for i, p := range def.Panels {
		pp := fmt.Sprintf("%s.panels[%d]", prefix, i)
		if p.ID == "" {
			errs = append(errs, VError{Path: pp + ".id", Code: "REQUIRED", Message: "panel id is required"})
		} else if ids[p.ID] {
			errs = append(errs, VError{
				Path: pp + ".id", Code: "DUPLICATE",
				Message: fmt.Sprintf("panel id %q is used more than once", p.ID),
			})
		}
		ids[p.ID] = true

		if p.Title == "" {
			errs = append(errs, VError{Path: pp + ".title", Code: "REQUIRED", Message: "panel title is required"})
		}
		if !validPanelKinds[p.Kind] {
			errs = append(errs, VError{
				Path: pp + ".kind", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("panel kind %q is not one of properties, fields, advanced", p.Kind),
			})
		}
		counts[p.Kind]++

		if len(p.RequiredProperties) > 0 && p.Kind == model.PanelKindFields {
			errs = append(errs, VError{
				Path: pp + ".required_properties", Code: "INVALID_VALUE",
				Message: "a fields panel cannot require properties",
			})
		}
		for j, rp := range p.RequiredProperties {
			if !builtinProperties[rp] && !isCustomProperty(rp) {
				errs = append(errs, VError{
					Path: fmt.Sprintf("%s.required_properties[%d]", pp, j), Code: "INVALID_VALUE",
					Message: fmt.Sprintf("%q is neither name, description nor properties.<name>", rp),
				})
			}
		}
	}

	if counts[model.PanelKindProperties] != 1 {
		errs = append(errs, VError{
			Path: prefix + ".panels", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("exactly one properties panel is required, found %d", counts[model.PanelKindProperties]),
		})
	}
	if counts[model.PanelKindFields] > 1 {
		errs = append(errs, VError{
			Path: prefix + ".panels", Code: "INVALID_VALUE",
			Message: fmt.Sprintf("at most one fields panel is allowed, found %d", counts[model.PanelKindFields]),
		})
	}
	if (def.Key.Required || def.Key.AllowAutoIncrement) && counts[model.PanelKindFields] == 0 {
		errs = append(errs, VError{
			Path: prefix + ".key", Code: "INVALID_VALUE",
			Message: "key options need a fields panel",
		})
	}

	return errs
}

func isCustomProperty(name string) bool {
	rest, ok := strings.CutPrefix(name, "properties.")
	return ok && rest != ""
}
