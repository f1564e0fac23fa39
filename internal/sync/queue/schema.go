package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/models"
)

const schemaBaseURL = "https://schemas.petstock.dev/actions/"

// actionSchemas holds, per action type, the JSON Schema of a whole
// PendingAction document.
var actionSchemas = map[models.ActionType]string{
	models.ActionProductSet: `{
		"type": "object",
		"required": ["docId", "payload"],
		"properties": {
			"docId": {"type": "string", "minLength": 1},
			"payload": {
				"type": "object",
				"required": ["codigo", "nombre", "cantidad"],
				"properties": {
					"codigo": {"type": "string", "minLength": 1},
					"nombre": {"type": "string"},
					"cantidad": {"type": "integer", "minimum": 0},
					"stockMinimo": {"type": "integer", "minimum": 0},
					"foto": {"type": ["string", "null"]}
				}
			}
		}
	}`,
	models.ActionProductUpdate: `{
		"type": "object",
		"required": ["docId", "payload"],
		"properties": {
			"docId": {"type": "string", "minLength": 1},
			"payload": {
				"type": "object",
				"minProperties": 1,
				"properties": {
					"cantidad": {"type": "integer", "minimum": 0},
					"stockMinimo": {"type": "integer", "minimum": 0}
				}
			}
		}
	}`,
	models.ActionProductDelete: `{
		"type": "object",
		"required": ["docId"],
		"properties": {
			"docId": {"type": "string", "minLength": 1}
		}
	}`,
	models.ActionMovementAdd: `{
		"type": "object",
		"required": ["payload"],
		"properties": {
			"payload": {
				"type": "object",
				"required": ["tipo", "productoId", "cantidad"],
				"properties": {
					"tipo": {"enum": ["entrada", "salida"]},
					"productoId": {"type": "string", "minLength": 1},
					"cantidad": {"type": "integer", "minimum": 1}
				}
			}
		}
	}`,
	models.ActionAddAppointment: `{
		"type": "object",
		"required": ["payload"],
		"properties": {
			"payload": {
				"type": "object",
				"required": ["userId", "specialistId", "petId", "date", "time"],
				"properties": {
					"userId": {"type": "string", "minLength": 1},
					"specialistId": {"type": "string", "minLength": 1},
					"petId": {"type": "string", "minLength": 1},
					"date": {"type": "string"},
					"time": {"type": "string"}
				}
			}
		}
	}`,
	models.ActionUpdateAppointment: `{
		"type": "object",
		"required": ["docId", "payload"],
		"properties": {
			"docId": {"type": "string", "minLength": 1},
			"payload": {"type": "object"}
		}
	}`,
	models.ActionDeleteAppointment: `{
		"type": "object",
		"required": ["docId"],
		"properties": {
			"docId": {"type": "string", "minLength": 1}
		}
	}`,
}

// Validator checks PendingAction documents against their type's schema.
type Validator struct {
	schemas map[models.ActionType]*jsonschema.Schema
}

// NewValidator compiles the action schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for actionType, text := range actionSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s schema: %w", actionType, err)
		}
		if err := c.AddResource(schemaBaseURL+string(actionType)+".json", doc); err != nil {
			return nil, fmt.Errorf("failed to add %s schema: %w", actionType, err)
		}
	}

	v := &Validator{schemas: make(map[models.ActionType]*jsonschema.Schema, len(actionSchemas))}
	for actionType := range actionSchemas {
		sch, err := c.Compile(schemaBaseURL + string(actionType) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", actionType, err)
		}
		v.schemas[actionType] = sch
	}
	return v, nil
}

// Validate returns a VALIDATION_ERROR when action does not match the schema
// of its type. Types without a schema pass.
func (v *Validator) Validate(action models.PendingAction) error {
	sch, ok := v.schemas[action.Type]
	if !ok {
		return nil
	}

	data, err := json.Marshal(action)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "failed to encode action", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "failed to decode action", err)
	}
	if err := sch.Validate(inst); err != nil {
		return errors.Wrap(errors.ErrValidation, fmt.Sprintf("invalid %s action", action.Type), err)
	}
	return nil
}
