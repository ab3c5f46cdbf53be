// Package schema holds the closed allowlist of IPC actions and their
// structural JSON Schema documents. Every document is embedded at build
// time (mirroring Ruriko's //go:embed migrations/*.sql pattern for
// sqlite) and compiled once, at process start, by Load. Adding an action
// to the surface means adding a schema file here and to Actions — there is
// no other way for the surface to grow.
package schema

import (
	"bytes"
	"embed"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Actions is the closed allowlist of IPC action names. The envelope check
// (action must be a member of this set) always runs before the per-action
// schema is looked up.
var Actions = map[string]bool{
	"llm.call": true,

	"memory.write":  true,
	"memory.read":   true,
	"memory.query":  true,
	"memory.delete": true,
	"memory.list":   true,

	"web.fetch":  true,
	"web.search": true,

	"browser.launch":       true,
	"browser.navigate":     true,
	"browser.snapshot":     true,
	"browser.click_by_ref": true,
	"browser.type_by_ref":  true,
	"browser.screenshot":   true,
	"browser.close":        true,

	"skills.read":    true,
	"skills.list":    true,
	"skills.propose": true,

	"audit.query": true,

	"agent.delegate": true,

	"identity.write": true,
	"user.write":     true,

	"scheduler.add":    true,
	"scheduler.remove": true,
	"scheduler.list":   true,
	"scheduler.run_at": true,
}

// ErrUnknownAction is returned when the envelope's action is not a member
// of Actions.
type ErrUnknownAction struct {
	Action string
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("Unknown action: %q", e.Action)
}

// ErrValidationFailed is returned when an action's arguments fail its
// per-action schema.
type ErrValidationFailed struct {
	Action string
	Detail string
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("Validation failed: %s", e.Detail)
}

// Registry holds one compiled *jsonschema.Schema per action.
type Registry struct {
	compiled map[string]*jsonschema.Schema
}

// Load compiles every embedded schema document and returns a ready
// Registry. It fails closed: any schema that does not compile, or any
// action present in Actions without a matching schema file, is an error.
func Load() (*Registry, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("schema: read embedded schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("schema: read %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema: add resource %s: %w", name, err)
		}
	}

	reg := &Registry{compiled: make(map[string]*jsonschema.Schema, len(Actions))}
	for action := range Actions {
		file := action + ".json"
		sch, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", file, err)
		}
		reg.compiled[action] = sch
	}
	return reg, nil
}

// Validate runs the full C2 check for one request: the envelope check
// (action must be a known action) followed by the per-action structural
// schema. args must already be decoded into Go values suitable for
// jsonschema (map[string]interface{}, []interface{}, etc. — the shape
// produced by encoding/json's default unmarshal into interface{}).
func (r *Registry) Validate(action string, args interface{}) error {
	if !Actions[action] {
		return &ErrUnknownAction{Action: action}
	}
	sch, ok := r.compiled[action]
	if !ok {
		// Actions and the embedded schema set are kept in lockstep by
		// Load; reaching here means Load would have already failed.
		return &ErrUnknownAction{Action: action}
	}
	if err := sch.Validate(args); err != nil {
		return &ErrValidationFailed{Action: action, Detail: err.Error()}
	}
	return nil
}
