package validator

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// Allowed enum values for the fixed per-type config schemas.
var (
	sourceMethods       = []string{"GET", "POST", "PUT", "DELETE"}
	transformOperations = []string{"filter", "map", "aggregate", "join"}
	destinationTypes    = []string{"api", "database", "file", "email"}
)

// validateNodeConfig checks a node's config map against the fixed schema for
// its type. Findings are appended to the result in field order.
func validateNodeConfig(node *pipeline.Node, result *Result) {
	if !node.Type.Valid() {
		result.Errors = append(result.Errors, ValidationError{
			NodeID:  node.ID,
			Field:   "type",
			Code:    "TYPE_MISMATCH",
			Message: fmt.Sprintf("unknown node type %q", node.Type),
		})
		return
	}

	switch node.Type {
	case pipeline.NodeTypeSource:
		validateSourceConfig(node, result)
	case pipeline.NodeTypeTransform:
		validateTransformConfig(node, result)
	case pipeline.NodeTypeDestination:
		validateDestinationConfig(node, result)
	}
}

func validateSourceConfig(node *pipeline.Node, result *Result) {
	requireString(node, "url", result)
	requireEnum(node, "method", sourceMethods, result)

	if raw, ok := node.Config["headers"]; ok && raw != nil {
		headers, ok := raw.(map[string]interface{})
		if !ok {
			if _, strMap := raw.(map[string]string); !strMap {
				result.Errors = append(result.Errors, ValidationError{
					NodeID:  node.ID,
					Field:   "headers",
					Code:    "TYPE_MISMATCH",
					Message: fmt.Sprintf("expected object of strings, got %T", raw),
				})
			}
			return
		}
		for key, value := range headers {
			if _, ok := value.(string); !ok {
				result.Errors = append(result.Errors, ValidationError{
					NodeID:  node.ID,
					Field:   "headers." + key,
					Code:    "TYPE_MISMATCH",
					Message: fmt.Sprintf("expected string header value, got %T", value),
				})
			}
		}
	}
}

func validateTransformConfig(node *pipeline.Node, result *Result) {
	requireEnum(node, "operation", transformOperations, result)
	requireString(node, "condition", result)
}

func validateDestinationConfig(node *pipeline.Node, result *Result) {
	destType := requireEnum(node, "type", destinationTypes, result)

	// url is required unless the destination is a database, which takes a
	// database name instead.
	if destType == "database" {
		requireString(node, "database", result)
	} else if destType != "" {
		requireString(node, "url", result)
	}
}

// requireString checks that the named field is present and a non-empty string.
func requireString(node *pipeline.Node, field string, result *Result) string {
	raw, ok := node.Config[field]
	if !ok || raw == nil {
		result.Errors = append(result.Errors, ValidationError{
			NodeID:  node.ID,
			Field:   field,
			Code:    "REQUIRED",
			Message: "field is required",
		})
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			NodeID:  node.ID,
			Field:   field,
			Code:    "TYPE_MISMATCH",
			Message: fmt.Sprintf("expected string, got %T", raw),
		})
		return ""
	}
	if value == "" {
		result.Errors = append(result.Errors, ValidationError{
			NodeID:  node.ID,
			Field:   field,
			Code:    "REQUIRED",
			Message: "field must not be empty",
		})
	}
	return value
}

// requireEnum checks that the named field is a string drawn from the allowed
// values and returns it.
func requireEnum(node *pipeline.Node, field string, allowed []string, result *Result) string {
	value := requireString(node, field, result)
	if value == "" {
		return ""
	}
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	result.Errors = append(result.Errors, ValidationError{
		NodeID:  node.ID,
		Field:   field,
		Code:    "ENUM_MISMATCH",
		Message: fmt.Sprintf("value %q not in allowed values %v", value, allowed),
	})
	return ""
}
