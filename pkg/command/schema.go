package command

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createCapsuleSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["title", "seal_level"],
	"additionalProperties": false,
	"properties": {
		"title": {"type": "string", "minLength": 1, "maxLength": 200},
		"payload": {"type": "object"},
		"tags": {
			"type": "array",
			"maxItems": 32,
			"items": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"seal_level": {"type": "integer", "minimum": 1, "maximum": 5}
	}
}`

const sealCapsuleSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"reason": {"type": "string"}
	}
}`

const addCommentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["capsule_id", "body"],
	"additionalProperties": false,
	"properties": {
		"capsule_id": {"type": "string", "minLength": 1},
		"body": {"type": "string", "minLength": 1}
	}
}`

type schemas struct {
	create  *jsonschema.Schema
	seal    *jsonschema.Schema
	comment *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	compile := func(name, schema string) (*jsonschema.Schema, error) {
		url := fmt.Sprintf("https://chronovault.schemas.local/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
			return nil, fmt.Errorf("command: load %s schema: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("command: compile %s schema: %w", name, err)
		}
		return compiled, nil
	}

	s := &schemas{}
	var err error
	if s.create, err = compile("create-capsule", createCapsuleSchema); err != nil {
		return nil, err
	}
	if s.seal, err = compile("seal-capsule", sealCapsuleSchema); err != nil {
		return nil, err
	}
	if s.comment, err = compile("add-comment", addCommentSchema); err != nil {
		return nil, err
	}
	return s, nil
}
