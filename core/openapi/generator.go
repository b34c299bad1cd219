// Package openapi generates an OpenAPI 3.0 document describing the HTTP
// channel of a runtime. Action payload formats become request schemas and
// store fields become response schemas.
package openapi

import (
	"encoding/json"
	"sort"

	"github.com/artpar/conveyr/core/action"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/store"
	"github.com/artpar/conveyr/core/types"
)

// Spec represents an OpenAPI 3.0 specification.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
	Tags       []Tag               `json:"tags,omitempty"`
}

// Info provides API metadata.
type Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Server represents a server URL.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem contains operations for a path.
type PathItem struct {
	Get  *Operation `json:"get,omitempty"`
	Post *Operation `json:"post,omitempty"`
}

// Operation represents an API operation.
type Operation struct {
	Tags        []string              `json:"tags,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	Description string                `json:"description,omitempty"`
	OperationID string                `json:"operationId,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]Response   `json:"responses"`
	Security    []SecurityRequirement `json:"security,omitempty"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content"`
}

// Response represents an API response.
type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// MediaType represents a media type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Schema represents a JSON Schema.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Format      string             `json:"format,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
	Default     any                `json:"default,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// Components contains reusable schemas.
type Components struct {
	Schemas         map[string]*Schema        `json:"schemas,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

// SecurityScheme defines an authentication method.
type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
	Description  string `json:"description,omitempty"`
}

// SecurityRequirement specifies required security schemes.
type SecurityRequirement map[string][]string

// Tag provides metadata for a group of operations.
type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const (
	tagActions = "actions"
	tagStores  = "stores"

	bearerScheme = "bearerAuth"
)

// Generator generates OpenAPI specs from a runtime's declarations.
type Generator struct {
	runtime    *runtime.Runtime
	info       Info
	servers    []Server
	bearerAuth bool
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(rt *runtime.Runtime) *Generator {
	return &Generator{
		runtime: rt,
		info: Info{
			Title:       "conveyr",
			Version:     "1.0.0",
			Description: "Actions and stores served by the conveyr HTTP channel",
		},
	}
}

// SetInfo sets the API info.
func (g *Generator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{URL: url, Description: description})
}

// RequireBearerAuth marks action and store operations as requiring a
// bearer JWT.
func (g *Generator) RequireBearerAuth() {
	g.bearerAuth = true
}

// Generate creates the OpenAPI specification.
func (g *Generator) Generate() *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: baseSchemas(),
		},
		Tags: []Tag{
			{Name: tagActions, Description: "Invoke actions"},
			{Name: tagStores, Description: "Read store state"},
		},
	}

	var security []SecurityRequirement
	if g.bearerAuth {
		spec.Components.SecuritySchemes = map[string]SecurityScheme{
			bearerScheme: {
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Token issued by `conveyr token`",
			},
		}
		security = []SecurityRequirement{{bearerScheme: {}}}
	}

	spec.Paths["/health"] = PathItem{Get: &Operation{
		Summary:     "Health check",
		OperationID: "health",
		Responses: map[string]Response{
			"200": jsonResponse("Service is healthy", ref("Health")),
		},
	}}

	spec.Paths["/actions"] = PathItem{Get: &Operation{
		Tags:        []string{tagActions},
		Summary:     "List actions",
		OperationID: "listActions",
		Security:    security,
		Responses: withAuthResponses(g.bearerAuth, map[string]Response{
			"200": jsonResponse("Action ids", ref("ActionList")),
		}),
	}}

	if g.runtime != nil {
		actions := g.runtime.Actions()
		sort.Slice(actions, func(i, j int) bool { return actions[i].ID() < actions[j].ID() })
		for _, a := range actions {
			spec.Paths["/actions/"+a.ID()] = PathItem{Post: g.actionOperation(a, security)}
		}
	}

	spec.Paths["/stores"] = PathItem{Get: &Operation{
		Tags:        []string{tagStores},
		Summary:     "List stores",
		OperationID: "listStores",
		Security:    security,
		Responses: withAuthResponses(g.bearerAuth, map[string]Response{
			"200": jsonResponse("Stores with their fields", &Schema{Type: "array", Items: ref("Store")}),
		}),
	}}

	if g.runtime != nil {
		stores := g.runtime.Stores()
		sort.Slice(stores, func(i, j int) bool { return stores[i].ID() < stores[j].ID() })
		for _, st := range stores {
			g.addStore(spec, st, security)
		}
	}

	return spec
}

// JSON renders the specification.
func (g *Generator) JSON() ([]byte, error) {
	return json.MarshalIndent(g.Generate(), "", "  ")
}

// actionOperation describes POST /actions/{id}.
func (g *Generator) actionOperation(a *action.Action, security []SecurityRequirement) *Operation {
	op := &Operation{
		Tags:        []string{tagActions},
		Summary:     "Invoke " + a.ID(),
		Description: describeTargets(a),
		OperationID: "invoke_" + a.ID(),
		Security:    security,
		Responses: withAuthResponses(g.bearerAuth, map[string]Response{
			"200": jsonResponse("Invocation settled", ref("Invocation")),
			"400": jsonResponse("Payload rejected", ref("Error")),
			"404": jsonResponse("Unknown action", ref("Error")),
			"500": jsonResponse("Handler failed", ref("Error")),
			"504": jsonResponse("Handler timed out", ref("Error")),
		}),
	}

	if payload := FormatSchema(a.Format()); payload != nil {
		op.RequestBody = &RequestBody{
			Required: true,
			Content:  map[string]MediaType{"application/json": {Schema: payload}},
		}
	}
	return op
}

func (g *Generator) addStore(spec *Spec, st *store.Store, security []SecurityRequirement) {
	spec.Paths["/stores/"+st.ID()] = PathItem{Get: &Operation{
		Tags:        []string{tagStores},
		Summary:     "Read store " + st.ID(),
		OperationID: "getStore_" + st.ID(),
		Security:    security,
		Responses: withAuthResponses(g.bearerAuth, map[string]Response{
			"200": jsonResponse("Every field with its revision", ref("Store")),
		}),
	}}

	for _, f := range st.Fields() {
		value := &Schema{Description: "untyped"}
		if v := f.Validator(); v != nil {
			value = typeSchema(v.Type)
		}

		spec.Paths["/stores/"+st.ID()+"/fields/"+f.Name()] = PathItem{Get: &Operation{
			Tags:        []string{tagStores},
			Summary:     "Read " + st.ID() + "." + f.Name(),
			OperationID: "getField_" + st.ID() + "_" + f.Name(),
			Security:    security,
			Responses: withAuthResponses(g.bearerAuth, map[string]Response{
				"200": jsonResponse("Field value and revision", &Schema{
					Type: "object",
					Properties: map[string]*Schema{
						"name":     {Type: "string"},
						"value":    value,
						"revision": {Type: "integer", Format: "int64"},
					},
					Required: []string{"name", "value", "revision"},
				}),
			}),
		}}
	}
}

// FormatSchema converts a compiled payload format to a JSON Schema. An
// empty format accepts any payload and yields nil.
func FormatSchema(f schema.Format) *Schema {
	if f.IsEmpty() {
		return nil
	}

	if len(f) == 1 && f[0].IsRoot() {
		return typeSchema(f[0].Type)
	}

	s := &Schema{
		Type:       "object",
		Properties: make(map[string]*Schema, len(f)),
	}
	for _, v := range f {
		prop := typeSchema(v.Type)
		if v.Optional {
			if v.Default == nil {
				prop.Nullable = true
			} else {
				prop.Default = v.Default
			}
		} else {
			s.Required = append(s.Required, v.Name)
		}
		s.Properties[v.Name] = prop
	}
	return s
}

// typeSchema maps a runtime type to a JSON Schema.
func typeSchema(t types.Type) *Schema {
	kind, ok := types.KindOf(t)
	if !ok {
		return &Schema{Type: "object", Description: "value of type " + t.Name()}
	}

	switch kind {
	case types.String:
		return &Schema{Type: "string"}
	case types.Number:
		return &Schema{Type: "number"}
	case types.Boolean:
		return &Schema{Type: "boolean"}
	case types.Array:
		return &Schema{Type: "array", Items: &Schema{}}
	case types.Object:
		return &Schema{Type: "object"}
	default:
		return &Schema{Description: kind.String() + " values cannot be sent as JSON"}
	}
}

func describeTargets(a *action.Action) string {
	targets := a.Targets()
	desc := "Calls"
	for i, t := range targets {
		if i > 0 {
			desc += ","
		}
		desc += " " + t.Endpoint.Ref()
	}
	return desc
}

func baseSchemas() map[string]*Schema {
	return map[string]*Schema{
		"Health": {
			Type:       "object",
			Properties: map[string]*Schema{"status": {Type: "string"}},
		},
		"ActionList": {
			Type: "object",
			Properties: map[string]*Schema{
				"actions": {Type: "array", Items: &Schema{Type: "string"}},
			},
		},
		"Invocation": {
			Type: "object",
			Properties: map[string]*Schema{
				"action":   {Type: "string"},
				"instance": {Type: "integer", Format: "int64"},
			},
			Required: []string{"action", "instance"},
		},
		"Field": {
			Type: "object",
			Properties: map[string]*Schema{
				"name":     {Type: "string"},
				"value":    {},
				"revision": {Type: "integer", Format: "int64"},
			},
		},
		"Store": {
			Type: "object",
			Properties: map[string]*Schema{
				"id":     {Type: "string"},
				"fields": {Type: "array", Items: ref("Field")},
			},
		},
		"Error": {
			Type: "object",
			Properties: map[string]*Schema{
				"error": {
					Type: "object",
					Properties: map[string]*Schema{
						"code":    {Type: "string"},
						"message": {Type: "string"},
					},
				},
			},
		},
	}
}

func ref(name string) *Schema {
	return &Schema{Ref: "#/components/schemas/" + name}
}

func jsonResponse(description string, s *Schema) Response {
	return Response{
		Description: description,
		Content:     map[string]MediaType{"application/json": {Schema: s}},
	}
}

func withAuthResponses(enabled bool, responses map[string]Response) map[string]Response {
	if enabled {
		responses["401"] = jsonResponse("Missing or invalid bearer token", ref("Error"))
		responses["403"] = jsonResponse("Token does not allow this action", ref("Error"))
	}
	return responses
}
