package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

func validNode(id string, t pipeline.NodeType, config map[string]interface{}) *pipeline.Node {
	return &pipeline.Node{ID: id, Type: t, Name: id, Config: config}
}

// buildValid constructs a pipeline that passes every check.
func buildValid(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p := pipeline.NewPipeline("p1", "valid")
	require.NoError(t, p.AddNode(validNode("src", pipeline.NodeTypeSource, map[string]interface{}{
		"url":    "https://api.example.com/data",
		"method": "GET",
	})))
	require.NoError(t, p.AddNode(validNode("tr", pipeline.NodeTypeTransform, map[string]interface{}{
		"operation": "filter",
		"condition": "age > 18",
	})))
	require.NoError(t, p.AddNode(validNode("dst", pipeline.NodeTypeDestination, map[string]interface{}{
		"type": "api",
		"url":  "https://api.example.com/sink",
	})))
	_, err := p.AddConnection("src", "tr")
	require.NoError(t, err)
	_, err = p.AddConnection("tr", "dst")
	require.NoError(t, err)
	return p
}

func TestValidatePassesValidPipeline(t *testing.T) {
	p := buildValid(t)

	result := Validate(p)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.Err())
}

func TestValidateSourceConfig(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		field  string
		code   string
	}{
		{
			name:   "missing url",
			config: map[string]interface{}{"method": "GET"},
			field:  "url",
			code:   "REQUIRED",
		},
		{
			name:   "empty url",
			config: map[string]interface{}{"url": "", "method": "GET"},
			field:  "url",
			code:   "REQUIRED",
		},
		{
			name:   "url wrong type",
			config: map[string]interface{}{"url": 42, "method": "GET"},
			field:  "url",
			code:   "TYPE_MISMATCH",
		},
		{
			name:   "bad method",
			config: map[string]interface{}{"url": "https://x", "method": "FETCH"},
			field:  "method",
			code:   "ENUM_MISMATCH",
		},
		{
			name: "non-string header value",
			config: map[string]interface{}{
				"url": "https://x", "method": "GET",
				"headers": map[string]interface{}{"X-Count": 3},
			},
			field: "headers.X-Count",
			code:  "TYPE_MISMATCH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pipeline.NewPipeline("p1", "test")
			require.NoError(t, p.AddNode(validNode("src", pipeline.NodeTypeSource, tt.config)))

			result := Validate(p)
			require.False(t, result.Valid)

			found := false
			for _, ve := range result.Errors {
				if ve.Field == tt.field && ve.Code == tt.code {
					found = true
				}
			}
			assert.True(t, found, "expected %s on field %s, got %+v", tt.code, tt.field, result.Errors)
		})
	}
}

func TestValidateTransformConfig(t *testing.T) {
	p := pipeline.NewPipeline("p1", "test")
	require.NoError(t, p.AddNode(validNode("tr", pipeline.NodeTypeTransform, map[string]interface{}{
		"operation": "reshape",
		"condition": "",
	})))

	result := Validate(p)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "ENUM_MISMATCH", result.Errors[0].Code)
	assert.Equal(t, "operation", result.Errors[0].Field)
	assert.Equal(t, "REQUIRED", result.Errors[1].Code)
	assert.Equal(t, "condition", result.Errors[1].Field)
}

func TestValidateDestinationConfig(t *testing.T) {
	t.Run("database requires database field", func(t *testing.T) {
		p := pipeline.NewPipeline("p1", "test")
		require.NoError(t, p.AddNode(validNode("dst", pipeline.NodeTypeDestination, map[string]interface{}{
			"type": "database",
		})))

		result := Validate(p)
		require.False(t, result.Valid)
		assert.Equal(t, "database", result.Errors[0].Field)
		assert.Equal(t, "REQUIRED", result.Errors[0].Code)
	})

	t.Run("other types require url", func(t *testing.T) {
		p := pipeline.NewPipeline("p1", "test")
		require.NoError(t, p.AddNode(validNode("dst", pipeline.NodeTypeDestination, map[string]interface{}{
			"type": "file",
		})))

		result := Validate(p)
		require.False(t, result.Valid)
		assert.Equal(t, "url", result.Errors[0].Field)
	})

	t.Run("unknown type", func(t *testing.T) {
		p := pipeline.NewPipeline("p1", "test")
		require.NoError(t, p.AddNode(validNode("dst", pipeline.NodeTypeDestination, map[string]interface{}{
			"type": "kafka",
		})))

		result := Validate(p)
		require.False(t, result.Valid)
		assert.Equal(t, "ENUM_MISMATCH", result.Errors[0].Code)
	})
}

func TestValidateDecodedDegreeViolation(t *testing.T) {
	// A destination with an outgoing edge can only enter the system through a
	// decoded pipeline; AddConnection rejects it at the source.
	p := &pipeline.Pipeline{
		ID:   "p1",
		Name: "decoded",
		Nodes: []*pipeline.Node{
			validNode("dst", pipeline.NodeTypeDestination, map[string]interface{}{
				"type": "api", "url": "https://x",
			}),
			validNode("tr", pipeline.NodeTypeTransform, map[string]interface{}{
				"operation": "filter", "condition": "true",
			}),
		},
		Connections: []*pipeline.Connection{
			{ID: "c1", SourceNodeID: "dst", TargetNodeID: "tr"},
		},
	}

	result := Validate(p)
	require.False(t, result.Valid)
	assert.Equal(t, "DEGREE_VIOLATION", result.Errors[0].Code)
	assert.Equal(t, "dst", result.Errors[0].NodeID)

	err := result.Err()
	require.Error(t, err)
	assert.True(t, errors.IsDegreeViolation(err))
}

func TestValidateCycleInDecodedPipeline(t *testing.T) {
	p := &pipeline.Pipeline{
		ID:   "p1",
		Name: "cyclic",
		Nodes: []*pipeline.Node{
			validNode("a", pipeline.NodeTypeTransform, map[string]interface{}{
				"operation": "filter", "condition": "true",
			}),
			validNode("b", pipeline.NodeTypeTransform, map[string]interface{}{
				"operation": "filter", "condition": "true",
			}),
		},
		Connections: []*pipeline.Connection{
			{ID: "c1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "c2", SourceNodeID: "b", TargetNodeID: "a"},
		},
	}

	result := Validate(p)
	require.False(t, result.Valid)
	assert.Equal(t, "CYCLE", result.Errors[0].Code)
	assert.True(t, errors.IsCycle(result.Err()))
}

func TestValidateOrphanIsWarningOnly(t *testing.T) {
	p := buildValid(t)
	require.NoError(t, p.AddNode(validNode("orphan", pipeline.NodeTypeTransform, map[string]interface{}{
		"operation": "filter",
		"condition": "true",
	})))

	result := Validate(p)
	assert.True(t, result.Valid, "orphans do not fail validation")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "orphan", result.Warnings[0].NodeID)
}

func TestActivate(t *testing.T) {
	t.Run("valid pipeline becomes active", func(t *testing.T) {
		p := buildValid(t)
		require.NoError(t, Activate(p))
		assert.Equal(t, pipeline.StatusActive, p.Status)
	})

	t.Run("invalid pipeline becomes errored", func(t *testing.T) {
		p := pipeline.NewPipeline("p1", "broken")
		require.NoError(t, p.AddNode(validNode("src", pipeline.NodeTypeSource, map[string]interface{}{
			"method": "GET",
		})))

		err := Activate(p)
		require.Error(t, err)
		assert.True(t, errors.IsConfigValidation(err))
		assert.Equal(t, pipeline.StatusError, p.Status)
	})
}
