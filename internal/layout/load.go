package layout

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// LoadError is a layout configuration error with its source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// schemaSource returns the CUE definition every layout file must satisfy.
// The definition is closed, so misspelled keys are rejected.
func schemaSource() string {
	var quoted []string
	for _, k := range kinds {
		quoted = append(quoted, fmt.Sprintf("%q", k))
	}
	var slots []string
	for key := range (&Fields{}).slots() {
		slots = append(slots, fmt.Sprintf("\t\t%s?: string & !=\"\"", key))
	}
	return fmt.Sprintf(`#Kind: %s
#Layout: {
	provider?: string
	fields?: {
%s
	}
	aliases?: [string]: #Kind
}
`, strings.Join(quoted, " | "), strings.Join(slots, "\n"))
}

// wireLayout is the decoded form of a layout file.
type wireLayout struct {
	Provider *string           `json:"provider"`
	Fields   map[string]string `json:"fields"`
	Aliases  map[string]string `json:"aliases"`
}

// Load reads a CUE layout file and overlays it on the built-in layout.
// Keys left out of the file keep their defaults.
//
// Example file:
//
//	provider: "hotspot:"
//	fields: {
//		vtid: "ctx.tid"
//		vpid: "ctx.pid"
//	}
//	aliases: {
//		"gc_pool_begin": "pool_gc_begin"
//	}
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return Parse(data, path)
}

// Parse compiles CUE source into a layout. filename is used in error
// positions only.
func Parse(src []byte, filename string) (*Layout, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource(), cue.Filename("layout-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile layout schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Layout")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var w wireLayout
	if err := v.Decode(&w); err != nil {
		return nil, formatCUEError(err)
	}

	l := Default()
	if w.Provider != nil {
		l.Provider = *w.Provider
	}
	slots := l.Fields.slots()
	for key, name := range w.Fields {
		slot, ok := slots[key]
		if !ok {
			return nil, &LoadError{Field: "fields." + key, Message: "unknown field key", Pos: v.Pos()}
		}
		*slot = name
	}
	for alias, kind := range w.Aliases {
		if IsKind(alias) {
			return nil, &LoadError{
				Field:   "aliases." + alias,
				Message: "alias shadows a canonical kind",
				Pos:     v.LookupPath(cue.MakePath(cue.Str("aliases"), cue.Str(alias))).Pos(),
			}
		}
		l.Aliases[alias] = Kind(kind)
	}
	return l, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
