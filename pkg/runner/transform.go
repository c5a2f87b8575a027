package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// transformRunner applies the configured operation to its input records.
// filter and map evaluate a JavaScript expression per record; aggregate and
// join operate on field paths.
type transformRunner struct {
	nodeID    string
	operation string
	condition string
	env       *expressionEnv
	logger    *zap.Logger
}

func newTransformRunner(node *pipeline.Node, logger *zap.Logger) (*transformRunner, error) {
	operation, err := stringField(node, "operation")
	if err != nil {
		return nil, err
	}
	condition, err := stringField(node, "condition")
	if err != nil {
		return nil, err
	}

	r := &transformRunner{
		nodeID:    node.ID,
		operation: operation,
		condition: condition,
		logger:    logger,
	}

	switch operation {
	case "filter", "map":
		env, err := newExpressionEnv(condition)
		if err != nil {
			return nil, errors.NewConfigValidationError(node.ID, "condition", err.Error())
		}
		r.env = env
	case "aggregate":
		if _, err := parseAggregate(condition); err != nil {
			return nil, errors.NewConfigValidationError(node.ID, "condition", err.Error())
		}
	case "join":
		if strings.TrimSpace(condition) == "" {
			return nil, errors.NewConfigValidationError(node.ID, "condition", "join key must not be empty")
		}
	default:
		return nil, errors.NewConfigValidationError(node.ID, "operation", fmt.Sprintf("unknown operation %q", operation))
	}

	return r, nil
}

// Run applies the operation to the input records.
func (r *transformRunner) Run(ctx context.Context, input []Record) ([]Record, error) {
	var (
		output []Record
		err    error
	)

	switch r.operation {
	case "filter":
		output, err = r.runFilter(ctx, input)
	case "map":
		output, err = r.runMap(ctx, input)
	case "aggregate":
		output, err = r.runAggregate(input)
	case "join":
		output, err = r.runJoin(input)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Transform applied",
		zap.String("nodeID", r.nodeID),
		zap.String("operation", r.operation),
		zap.Int("in", len(input)),
		zap.Int("out", len(output)))
	return output, nil
}

func (r *transformRunner) runFilter(ctx context.Context, input []Record) ([]Record, error) {
	output := make([]Record, 0, len(input))
	for _, rec := range input {
		keep, err := r.env.evalBool(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewConfigValidationError(r.nodeID, "condition", err.Error())
		}
		if keep {
			output = append(output, rec)
		}
	}
	return output, nil
}

func (r *transformRunner) runMap(ctx context.Context, input []Record) ([]Record, error) {
	output := make([]Record, 0, len(input))
	for _, rec := range input {
		mapped, err := r.env.evalObject(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewConfigValidationError(r.nodeID, "condition", err.Error())
		}
		output = append(output, mapped)
	}
	return output, nil
}

// aggregateSpec is the parsed form of an aggregate condition, e.g.
// "sum(amount) by region" or "count()".
type aggregateSpec struct {
	Op      string
	Field   string
	GroupBy string
}

var aggregatePattern = regexp.MustCompile(`^\s*(count|sum|avg|min|max)\(([^)]*)\)\s*(?:by\s+(\S+))?\s*$`)

func parseAggregate(condition string) (*aggregateSpec, error) {
	m := aggregatePattern.FindStringSubmatch(condition)
	if m == nil {
		return nil, fmt.Errorf("aggregate condition must look like op(field) or op(field) by group, got %q", condition)
	}
	spec := &aggregateSpec{Op: m[1], Field: strings.TrimSpace(m[2]), GroupBy: m[3]}
	if spec.Op != "count" && spec.Field == "" {
		return nil, fmt.Errorf("%s requires a field", spec.Op)
	}
	return spec, nil
}

// fieldValue extracts a possibly nested field from a record using a dotted
// path.
func fieldValue(rec Record, path string) (gjson.Result, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(raw, path), nil
}

func (r *transformRunner) runAggregate(input []Record) ([]Record, error) {
	spec, err := parseAggregate(r.condition)
	if err != nil {
		return nil, errors.NewConfigValidationError(r.nodeID, "condition", err.Error())
	}

	type bucket struct {
		count int
		sum   float64
		min   float64
		max   float64
	}
	buckets := map[string]*bucket{}
	var groupOrder []string

	for _, rec := range input {
		groupKey := ""
		if spec.GroupBy != "" {
			gv, err := fieldValue(rec, spec.GroupBy)
			if err != nil {
				return nil, errors.NewNodeExecutionError(r.nodeID, err)
			}
			groupKey = gv.String()
		}

		b, ok := buckets[groupKey]
		if !ok {
			b = &bucket{}
			buckets[groupKey] = b
			groupOrder = append(groupOrder, groupKey)
		}

		var value float64
		if spec.Op != "count" {
			fv, err := fieldValue(rec, spec.Field)
			if err != nil {
				return nil, errors.NewNodeExecutionError(r.nodeID, err)
			}
			if !fv.Exists() {
				return nil, errors.NewConfigValidationError(r.nodeID, "condition",
					fmt.Sprintf("field %q missing from record", spec.Field))
			}
			value = fv.Float()
		}

		if b.count == 0 {
			b.min, b.max = value, value
		} else {
			if value < b.min {
				b.min = value
			}
			if value > b.max {
				b.max = value
			}
		}
		b.count++
		b.sum += value
	}

	output := make([]Record, 0, len(buckets))
	for _, key := range groupOrder {
		b := buckets[key]
		var result float64
		switch spec.Op {
		case "count":
			result = float64(b.count)
		case "sum":
			result = b.sum
		case "avg":
			result = b.sum / float64(b.count)
		case "min":
			result = b.min
		case "max":
			result = b.max
		}

		out := "{}"
		if spec.GroupBy != "" {
			out, err = sjson.Set(out, spec.GroupBy, key)
			if err != nil {
				return nil, errors.NewNodeExecutionError(r.nodeID, err)
			}
		}
		out, err = sjson.Set(out, "value", result)
		if err != nil {
			return nil, errors.NewNodeExecutionError(r.nodeID, err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(out), &rec); err != nil {
			return nil, errors.NewNodeExecutionError(r.nodeID, err)
		}
		output = append(output, rec)
	}
	return output, nil
}

// runJoin merges records sharing the same value for the configured key field.
// Later records overwrite earlier fields except the key itself. Records
// missing the key pass through untouched.
func (r *transformRunner) runJoin(input []Record) ([]Record, error) {
	key := strings.TrimSpace(r.condition)

	merged := map[string]Record{}
	var order []string
	var passthrough []Record

	for _, rec := range input {
		kv, err := fieldValue(rec, key)
		if err != nil {
			return nil, errors.NewNodeExecutionError(r.nodeID, err)
		}
		if !kv.Exists() {
			passthrough = append(passthrough, rec)
			continue
		}
		joinKey := kv.String()

		existing, ok := merged[joinKey]
		if !ok {
			copied := make(Record, len(rec))
			for k, v := range rec {
				copied[k] = v
			}
			merged[joinKey] = copied
			order = append(order, joinKey)
			continue
		}
		for k, v := range rec {
			existing[k] = v
		}
	}

	output := make([]Record, 0, len(order)+len(passthrough))
	for _, k := range order {
		output = append(output, merged[k])
	}
	output = append(output, passthrough...)
	return output, nil
}
