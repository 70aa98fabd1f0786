// Package config loads the dashboard's config.toml.
//
// The file has three optional sections: theme (free-form scalar keys
// served verbatim by the theme endpoint), main (app title and
// description) and welcome (the landing text). A missing file yields empty
// sections. Every loaded file is validated against an embedded CUE schema
// so misspelled keys fail the load with their CUE path.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "config.toml"

// DefaultTitle is used when main.title is not set.
const DefaultTitle = "Mercury"

//go:embed schema.cue
var schemaCUE string

// Main is the [main] section.
type Main struct {
	Title       string `toml:"title" json:"title,omitempty"`
	Description string `toml:"description" json:"description,omitempty"`
	Favicon     string `toml:"favicon" json:"favicon,omitempty"`
}

// Welcome is the [welcome] section.
type Welcome struct {
	Header  string `toml:"header" json:"header,omitempty"`
	Message string `toml:"message" json:"message,omitempty"`
}

// Config is the parsed config.toml.
type Config struct {
	Theme   map[string]any `toml:"theme" json:"theme"`
	Main    Main           `toml:"main" json:"main"`
	Welcome Welcome        `toml:"welcome" json:"welcome"`
}

// Title returns main.title or DefaultTitle.
func (c Config) Title() string {
	if c.Main.Title != "" {
		return c.Main.Title
	}
	return DefaultTitle
}

// Empty returns a config with all sections present and empty.
func Empty() Config {
	return Config{Theme: map[string]any{}}
}

// ValidationError reports a schema violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
}

// Load reads path. A missing file is not an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates TOML config data.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("parse toml at %d:%d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("parse toml: %w", err)
	}
	if err := Validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Empty()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Theme == nil {
		cfg.Theme = map[string]any{}
	}
	return cfg, nil
}

// Validate checks raw (a decoded TOML document) against the schema.
// Missing sections are filled in as empty before unification.
func Validate(raw map[string]any) error {
	doc := map[string]any{
		"theme":   map[string]any{},
		"main":    map[string]any{},
		"welcome": map[string]any{},
	}
	for k, v := range raw {
		doc[k] = v
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError keeps the first CUE error and its path.
func toValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Path:    strings.Join(trimDefinition(first.Path()), "."),
		Message: fmt.Sprintf(format, args...),
	}
}

func trimDefinition(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if strings.HasPrefix(l, "#") {
			continue
		}
		out = append(out, l)
	}
	return out
}
