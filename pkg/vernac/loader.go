package vernac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/program"
	"github.com/proviso-lang/proviso/pkg/term"
)

// programFileSchema validates program definition files before decode.
const programFileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "members"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "recursion": {"enum": ["none", "fixpoint", "cofixpoint"]},
    "members": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type", "skeleton"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "object"},
          "skeleton": {"type": "object"},
          "args": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "obligations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["goal"],
        "properties": {
          "name": {"type": "string"},
          "goal": {"type": "object"},
          "deps": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "opacity": {"enum": ["transparent", "opaque"]},
          "deferred": {"type": "boolean"},
          "auto_tactic": {"type": "string"},
          "loc": {"type": "string"}
        }
      }
    },
    "options": {
      "type": "object",
      "properties": {
        "opaque": {"type": "boolean"},
        "visibility": {"type": "string"},
        "depends_on": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

var compiledProgramSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://proviso.schemas.local/program.schema.json"
	if err := c.AddResource(url, strings.NewReader(programFileSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// ProgramFile is a JSON document describing a program declaration.
type ProgramFile struct {
	Name        string                  `json:"name"`
	Recursion   program.RecursionKind   `json:"recursion,omitempty"`
	Members     []program.Member        `json:"members"`
	Obligations []obligation.Obligation `json:"obligations,omitempty"`
	Options     struct {
		Opaque     bool     `json:"opaque,omitempty"`
		Visibility string   `json:"visibility,omitempty"`
		DependsOn  []string `json:"depends_on,omitempty"`
	} `json:"options"`
}

// RunProgramFile loads a program definition file and starts it in the
// session.
func (s *Session) RunProgramFile(ctx context.Context, path string) (program.Progress, error) {
	pf, err := LoadProgramFile(path)
	if err != nil {
		return program.Progress{}, err
	}
	opts := program.DefinitionOpts{
		Opaque:     pf.Options.Opaque,
		Visibility: pf.Options.Visibility,
		DependsOn:  pf.Options.DependsOn,
	}
	if pf.Recursion == program.RecursionNone && len(pf.Members) == 1 {
		return s.StartProgramDefinition(ctx, pf.Members[0], pf.Obligations, opts)
	}
	return s.StartProgramFixpoint(ctx, pf.Recursion, pf.Members, pf.Obligations, opts)
}

// LoadProgramFile validates and decodes a program definition file.
func LoadProgramFile(path string) (*ProgramFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program file %s: %w", path, err)
	}
	return ParseProgramFile(raw)
}

// ParseProgramFile validates raw against the program-file schema and
// decodes it.
func ParseProgramFile(raw []byte) (*ProgramFile, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("program file is not valid JSON: %w", err)
	}
	if err := compiledProgramSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("program file failed schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var pf ProgramFile
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to decode program file: %w", err)
	}
	if pf.Recursion == "" {
		pf.Recursion = program.RecursionNone
	}
	for i := range pf.Members {
		pf.Members[i].Name = term.NormalizeName(pf.Members[i].Name)
	}
	return &pf, nil
}
