package managers

import (
	"fmt"

	"github.com/toolbridge/toolbridge/internal/domain"
)

// validateToolArgs checks supplied arguments against a tool's declared
// parameter schema and returns every violation as a human-readable message.
// Validation is all-or-nothing per call: the caller fails the job on any
// violation rather than retrying field by field.
func validateToolArgs(schema domain.ParameterSchema, args map[string]any) []string {
	var violations []string

	for _, name := range schema.Required {
		value, present := args[name]
		if !present || value == nil {
			violations = append(violations, fmt.Sprintf("Missing required field: %s", name))
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			violations = append(violations, fmt.Sprintf("Missing required field: %s", name))
		}
	}

	for name, value := range args {
		property, declared := schema.Properties[name]
		if !declared || value == nil {
			continue
		}
		if !matchesType(value, property.Type) {
			violations = append(violations, fmt.Sprintf("Field '%s' must be of type %s", name, property.Type))
		}
	}

	return violations
}

func matchesType(value any, declaredType string) bool {
	switch declaredType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		// Unknown declared types are not the caller's fault.
		return true
	}
}
