// Package action defines the closed set of instructions a planner may emit per step.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchema is returned for any action that violates the schema.
var ErrSchema = errors.New("action schema violation")

// Kind tags the variant of an Action.
type Kind string

const (
	KindTool    Kind = "tool"
	KindAskUser Kind = "ask_user"
	KindFinal   Kind = "final"
)

// Action is one of Tool, AskUser or Final. The set is closed.
type Action interface {
	Kind() Kind
	validate() error
}

// Tool requests invocation of a named tool.
type Tool struct {
	Name      string
	Args      map[string]any
	Rationale string
}

// AskUser ends the turn awaiting human input.
type AskUser struct {
	Question string
}

// Final ends the turn with a terminal reply.
type Final struct {
	Message string
}

func (Tool) Kind() Kind    { return KindTool }
func (AskUser) Kind() Kind { return KindAskUser }
func (Final) Kind() Kind   { return KindFinal }

func (t Tool) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: tool name is empty", ErrSchema)
	}
	return nil
}

func (a AskUser) validate() error {
	if strings.TrimSpace(a.Question) == "" {
		return fmt.Errorf("%w: question is empty", ErrSchema)
	}
	return nil
}

func (f Final) validate() error {
	if strings.TrimSpace(f.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrSchema)
	}
	return nil
}

// Validate checks that a is a populated variant.
func Validate(a Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrSchema)
	}
	return a.validate()
}

// Text returns the user-facing text of a terminal action.
func Text(a Action) (string, bool) {
	switch v := a.(type) {
	case AskUser:
		return v.Question, true
	case Final:
		return v.Message, true
	default:
		return "", false
	}
}

type toolWire struct {
	Type Kind           `json:"type"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
	Why  string         `json:"why,omitempty"`
}

type askWire struct {
	Type     Kind   `json:"type"`
	Question string `json:"question"`
}

type finalWire struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Marshal encodes a into its structured wire form.
func Marshal(a Action) ([]byte, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}
	switch v := a.(type) {
	case Tool:
		args := v.Args
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(toolWire{Type: KindTool, Tool: v.Name, Args: args, Why: v.Rationale})
	case AskUser:
		return json.Marshal(askWire{Type: KindAskUser, Question: v.Question})
	case Final:
		return json.Marshal(finalWire{Type: KindFinal, Message: v.Message})
	default:
		return nil, fmt.Errorf("%w: unknown variant %T", ErrSchema, a)
	}
}

const schemaURL = "https://schemas.local/agent/action.schema.json"

const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {
      "type": "object",
      "properties": {
        "type": {"const": "tool"},
        "tool": {"type": "string", "minLength": 1},
        "args": {"type": "object"},
        "why": {"type": ["string", "null"]}
      },
      "required": ["type", "tool"],
      "additionalProperties": false
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "ask_user"},
        "question": {"type": "string", "minLength": 1}
      },
      "required": ["type", "question"],
      "additionalProperties": false
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "final"},
        "message": {"type": "string", "minLength": 1}
      },
      "required": ["type", "message"],
      "additionalProperties": false
    }
  ]
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaDoc)); err != nil {
			compileErr = fmt.Errorf("load action schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Unmarshal decodes a structured action. Anything that is not exactly one
// well-formed variant fails with ErrSchema.
func Unmarshal(data []byte) (Action, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	s, err := schema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	var a Action
	switch head.Type {
	case KindTool:
		var w toolWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		if w.Args == nil {
			w.Args = map[string]any{}
		}
		a = Tool{Name: w.Tool, Args: w.Args, Rationale: w.Why}
	case KindAskUser:
		var w askWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		a = AskUser{Question: w.Question}
	case KindFinal:
		var w finalWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		a = Final{Message: w.Message}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrSchema, head.Type)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}
