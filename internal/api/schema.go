package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request schemas, compiled once at startup. Validation happens on the
// raw document before decoding into the typed request.
var (
	registerSchema = jsonschema.MustCompileString("register.json", `{
		"type": "object",
		"properties": {
			"karma": {"type": "integer", "minimum": 0},
			"x": {"type": "number"},
			"y": {"type": "number"}
		},
		"additionalProperties": false
	}`)

	purchaseSchema = jsonschema.MustCompileString("purchase.json", `{
		"type": "object",
		"required": ["agent", "amount"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"amount": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`)

	defenseSchema = jsonschema.MustCompileString("defense.json", `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"l1": {"type": "integer", "minimum": 0},
			"l2": {"type": "integer", "minimum": 0},
			"l3": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`)

	scanSchema = jsonschema.MustCompileString("scan.json", `{
		"type": "object",
		"required": ["observer", "target"],
		"properties": {
			"observer": {"type": "string", "minLength": 1},
			"target": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	sweepSchema = jsonschema.MustCompileString("sweep.json", `{
		"type": "object",
		"required": ["observer"],
		"properties": {
			"observer": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	battleSchema = jsonschema.MustCompileString("battle.json", `{
		"type": "object",
		"required": ["attacker", "target"],
		"properties": {
			"attacker": {"type": "string", "minLength": 1},
			"target": {"type": "string", "minLength": 1},
			"x1": {"type": "integer", "minimum": 0},
			"x2": {"type": "integer", "minimum": 0},
			"x3": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`)

	ransomSchema = jsonschema.MustCompileString("ransom.json", `{
		"type": "object",
		"required": ["victim"],
		"properties": {
			"victim": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	resistSchema = jsonschema.MustCompileString("resist.json", `{
		"type": "object",
		"required": ["victim", "investment"],
		"properties": {
			"victim": {"type": "string", "minLength": 1},
			"investment": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`)

	harvestSchema = jsonschema.MustCompileString("harvest.json", `{
		"type": "object",
		"required": ["master", "victim"],
		"properties": {
			"master": {"type": "string", "minLength": 1},
			"victim": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)
)

// maxBodySize caps request bodies at 64 KiB; no legitimate request comes
// anywhere near it.
const maxBodySize = 64 << 10

// decodeBody validates the request body against the schema and decodes it
// into dst.
func decodeBody(r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return json.Unmarshal(body, dst)
}
