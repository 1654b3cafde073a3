package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/titanworks/titan/pkg/capability"
)

// Environment variables that override the file.
const (
	EnvStorePath = "TITAN_STORE_PATH"
	EnvListen    = "TITAN_LISTEN"
	EnvJWTSecret = "TITAN_JWT_SECRET"
)

const schemaFile = "schema.cue"

//go:embed schema.cue
var schemaSource string

// Loader reads configuration files against the embedded schema.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
	getenv    func(string) string
	mu        sync.Mutex
}

// NewLoader compiles the embedded schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename(schemaFile))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Config"))
	if !schema.Exists() {
		return nil, fmt.Errorf("config schema has no #Config definition")
	}
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return &Loader{
		ctx:       ctx,
		schema:    schema,
		validator: v,
		getenv:    os.Getenv,
	}, nil
}

// Load reads the configuration at path. An empty path yields the defaults,
// still subject to environment overrides.
func Load(path string) (*Config, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// Load reads the configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		return l.Parse(nil, "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return l.Parse(data, path)
}

// Parse unifies src with the schema, decodes it, applies environment
// overrides and validates the result. Schema and validation failures are
// returned as ValidationErrors.
func (l *Loader) Parse(src []byte, filename string) (*Config, error) {
	// cue.Context is not safe for concurrent use.
	l.mu.Lock()
	data, verrs := l.unify(src, filename)
	l.mu.Unlock()
	if len(verrs) > 0 {
		return nil, verrs
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Source = filename
	l.applyEnv(&cfg)

	if verrs := l.validate(&cfg); len(verrs) > 0 {
		return nil, verrs
	}
	return &cfg, nil
}

func (l *Loader) unify(src []byte, filename string) ([]byte, ValidationErrors) {
	name := filename
	if name == "" {
		name = "defaults"
	}
	user := l.ctx.CompileBytes(src, cue.Filename(name))
	if err := user.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	v := l.schema.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, convertCUEErrors(err)
	}
	return data, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := l.getenv(EnvListen); v != "" {
		cfg.API.Listen = v
	}
	if v := l.getenv(EnvJWTSecret); v != "" {
		cfg.API.JWTSecret = v
	}
}

// validate runs the struct tags and the checks that span sections.
func (l *Loader) validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	if err := l.validator.Struct(cfg); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return ValidationErrors{{File: cfg.Source, Message: err.Error()}}
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				File:    cfg.Source,
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed on %q rule (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}

	if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
		errs = append(errs, ValidationError{File: cfg.Source, Path: "api.listen", Message: err.Error()})
	}

	if cfg.Capability.Mode == "http" {
		for _, group := range capability.Groups() {
			if cfg.Capability.Endpoints[string(group)] == "" {
				errs = append(errs, ValidationError{
					File:    cfg.Source,
					Path:    "capability.endpoints." + string(group),
					Message: "http mode needs an endpoint for every capability group",
				})
			}
		}
	}
	return errs
}

// jsonName reports fields by their file key.
func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// fieldPath drops the root struct name: "Config.store.path" is "store.path".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// convertCUEErrors flattens a CUE error into positioned validation errors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		// Point at the user's file rather than the schema when both apply.
		if pos := errors.Positions(e); len(pos) > 0 {
			p := pos[0]
			for _, candidate := range pos {
				if candidate.Filename() != schemaFile {
					p = candidate
					break
				}
			}
			ve.File = p.Filename()
			ve.Line = p.Line()
			ve.Column = p.Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// ValidationError is one configuration problem, positioned when known.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in one configuration.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
