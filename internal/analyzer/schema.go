package analyzer

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const progressSchema = `{
  "type": "object",
  "required": ["percent"],
  "properties": {
    "percent": {"type": "number"}
  }
}`

const completeSchema = `{
  "type": "object",
  "required": ["hands"],
  "properties": {
    "hands": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "handNumber": {"type": ["string", "number", "null"]},
          "pot": {"type": ["number", "null"]},
          "players": {"type": ["array", "null"], "items": {"type": "object"}},
          "actions": {"type": ["array", "null"], "items": {"type": "object"}},
          "winners": {"type": ["array", "null"], "items": {"type": "object"}},
          "board": {"type": ["object", "null"]}
        }
      }
    }
  }
}`

type payloadSchemas struct {
	progress *gojsonschema.Schema
	complete *gojsonschema.Schema
}

func compileSchemas() (*payloadSchemas, error) {
	progress, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(progressSchema))
	if err != nil {
		return nil, fmt.Errorf("compile progress schema: %w", err)
	}
	complete, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(completeSchema))
	if err != nil {
		return nil, fmt.Errorf("compile complete schema: %w", err)
	}
	return &payloadSchemas{progress: progress, complete: complete}, nil
}

func validatePayload(s *gojsonschema.Schema, data string) error {
	res, err := s.Validate(gojsonschema.NewStringLoader(data))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("payload failed validation: %s", strings.Join(msgs, "; "))
}
