package llm

import (
	"github.com/google/generative-ai-go/genai"
)

// Type is a JSON schema type name.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the subset of JSON schema every backend understands.
type Schema struct {
	Type        Type
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Nullable    bool
}

// JSONSchema renders s as a plain JSON schema document.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": string(s.Type)}
	if s.Nullable {
		out["type"] = []string{string(s.Type), "null"}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	return out
}

func (s *Schema) toGenai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Nullable:    s.Nullable,
		Items:       s.Items.toGenai(),
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	case TypeInteger:
		out.Type = genai.TypeInteger
	case TypeBoolean:
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = p.toGenai()
		}
	}
	return out
}

func mealSchema() *Schema {
	return &Schema{
		Type:     TypeObject,
		Nullable: true,
		Properties: map[string]*Schema{
			"name":         {Type: TypeString, Description: "Name of the dish."},
			"description":  {Type: TypeString},
			"ingredients":  {Type: TypeArray, Items: &Schema{Type: TypeString}, Description: "Ingredients with quantities."},
			"instructions": {Type: TypeArray, Items: &Schema{Type: TypeString}, Description: "Cooking steps in order."},
			"source":       {Type: TypeString, Description: `"library" for a cookbook recipe, "chef" for a new or modified one.`},
		},
		Required: []string{"name", "ingredients", "instructions"},
	}
}

// PlanSchema describes a multi-day meal plan.
var PlanSchema = &Schema{
	Type: TypeObject,
	Properties: map[string]*Schema{
		"days": {
			Type: TypeArray,
			Items: &Schema{
				Type: TypeObject,
				Properties: map[string]*Schema{
					"date":      {Type: TypeString, Description: "YYYY-MM-DD"},
					"breakfast": mealSchema(),
					"lunch":     mealSchema(),
					"dinner":    mealSchema(),
				},
				Required: []string{"date"},
			},
		},
		"shopping_list":   {Type: TypeArray, Items: &Schema{Type: TypeString}},
		"summary_message": {Type: TypeString, Description: "A friendly paragraph summarizing the plan."},
	},
	Required: []string{"days", "shopping_list", "summary_message"},
}
