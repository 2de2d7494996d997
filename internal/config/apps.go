package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/HyphaGroup/airops-go/apperr"
)

// AppDefinition names an AirOps app
type AppDefinition struct {
	ID          string             `json:"id"`
	Version     int                `json:"version,omitempty"`
	Description string             `json:"description,omitempty"`
	Agent       bool               `json:"agent,omitempty"`
	Inputs      *jsonschema.Schema `json:"inputs_schema,omitempty"`
}

// AppRegistry resolves app names and validates execution inputs
type AppRegistry struct {
	apps     map[string]AppDefinition
	resolved map[string]*jsonschema.Resolved // app id -> inputs schema
}

// NewAppRegistry compiles the input schemas of apps
func NewAppRegistry(apps map[string]AppDefinition) (*AppRegistry, error) {
	r := &AppRegistry{
		apps:     make(map[string]AppDefinition, len(apps)),
		resolved: make(map[string]*jsonschema.Resolved),
	}
	for name, app := range apps {
		r.apps[name] = app
		if app.Inputs == nil {
			continue
		}
		rs, err := app.Inputs.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("app %q inputs_schema: %w", name, err)
		}
		r.resolved[app.ID] = rs
	}
	return r, nil
}

// Lookup returns the app with the given name, falling back to a match on id
func (r *AppRegistry) Lookup(nameOrID string) (AppDefinition, bool) {
	if app, ok := r.apps[nameOrID]; ok {
		return app, true
	}
	for _, app := range r.apps {
		if app.ID == nameOrID {
			return app, true
		}
	}
	return AppDefinition{}, false
}

// Resolve returns the app id and version for nameOrID. Unknown names are
// treated as raw app ids.
func (r *AppRegistry) Resolve(nameOrID string) (string, int) {
	if app, ok := r.Lookup(nameOrID); ok {
		return app.ID, app.Version
	}
	return nameOrID, 0
}

// Names returns the configured app names in order
func (r *AppRegistry) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePayload checks payload["inputs"] against the app's inputs schema.
// Apps without a schema accept any payload.
func (r *AppRegistry) ValidatePayload(appID string, payload map[string]any) error {
	rs, ok := r.resolved[appID]
	if !ok {
		return nil
	}

	inputs, err := normalize(payload["inputs"])
	if err != nil {
		return fmt.Errorf("%w: inputs: %v", apperr.ErrInvalidPayload, err)
	}
	if err := rs.Validate(inputs); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidPayload, err)
	}
	return nil
}

// normalize converts v to the generic JSON form the validator expects
func normalize(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
