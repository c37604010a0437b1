package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

// Argument limits enforced before any backend call.
const (
	minOrderIDLen = 6
	maxOrderIDLen = 64
	minKeyLen     = 8
	maxKeyLen     = 128
	maxItems      = 10
	maxProductLen = 100
	maxQuantity   = 100
)

func orderIDSchema() map[string]any {
	return map[string]any{
		"type":        "string",
		"minLength":   minOrderIDLen,
		"maxLength":   maxOrderIDLen,
		"description": "Order identifier",
	}
}

// inputSchemas are the JSON Schemas advertised for each tool and used to
// validate incoming arguments.
var inputSchemas = map[string]map[string]any{
	domain.ToolGetLatestOrder: {
		"type":       "object",
		"properties": map[string]any{},
	},
	domain.ToolGetOrderStatus: {
		"type":       "object",
		"properties": map[string]any{"order_id": orderIDSchema()},
		"required":   []any{"order_id"},
	},
	domain.ToolRequestOrderCancellation: {
		"type": "object",
		"properties": map[string]any{
			"order_id": orderIDSchema(),
			"confirmed": map[string]any{
				"type":        "boolean",
				"description": "Must be true to execute cancellation",
			},
			"idempotency_key": map[string]any{
				"type":      []any{"string", "null"},
				"minLength": minKeyLen,
				"maxLength": maxKeyLen,
			},
		},
		"required": []any{"order_id"},
	},
	domain.ToolCreateOrder: {
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": maxItems,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"product_name": map[string]any{
							"type":        "string",
							"minLength":   1,
							"maxLength":   maxProductLen,
							"description": "Name of the product",
						},
						"quantity": map[string]any{
							"type":        "integer",
							"minimum":     1,
							"maximum":     maxQuantity,
							"default":     1,
							"description": "Quantity to order",
						},
					},
					"required": []any{"product_name"},
				},
			},
			"confirmed": map[string]any{
				"type":        "boolean",
				"description": "Must be true to place the order",
			},
			"idempotency_key": map[string]any{
				"type":      []any{"string", "null"},
				"minLength": minKeyLen,
				"maxLength": maxKeyLen,
			},
		},
		"required": []any{"items"},
	},
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		out := make(map[string]*jsonschema.Schema, len(inputSchemas))
		for name, doc := range inputSchemas {
			raw, err := json.Marshal(doc)
			if err != nil {
				compileErr = fmt.Errorf("encode %s schema: %w", name, err)
				return
			}
			url := "mem://tools/" + name + ".json"
			if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("load %s schema: %w", name, err)
				return
			}
			s, err := c.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", name, err)
				return
			}
			out[name] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

// validateArgs checks args against the tool's schema and decodes them into dst.
func validateArgs(tool string, args map[string]any, dst any) *domain.ToolError {
	all, err := schemas()
	if err != nil {
		return domain.NewToolError(domain.CodeUpstreamError, "Unexpected error", map[string]any{"exception": err.Error()})
	}
	s, ok := all[tool]
	if !ok {
		return domain.NewToolError(domain.CodeNotFound, "Unknown tool: "+tool, nil)
	}

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return domain.NewToolError(domain.CodeValidationFailed, "Arguments are not valid JSON", map[string]any{"reason": err.Error()})
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.NewToolError(domain.CodeValidationFailed, "Arguments are not valid JSON", map[string]any{"reason": err.Error()})
	}
	if err := s.Validate(doc); err != nil {
		return domain.NewToolError(domain.CodeValidationFailed, "Invalid arguments for "+tool, map[string]any{"reason": err.Error()})
	}

	if dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			return domain.NewToolError(domain.CodeValidationFailed, "Invalid arguments for "+tool, map[string]any{"reason": err.Error()})
		}
	}
	return nil
}
