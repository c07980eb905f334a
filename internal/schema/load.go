package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"aev/internal/domain"
)

// fileSchema is the on-disk YAML layout:
//
//	name: logons
//	fields:
//	  - name: id
//	    source: record_id
//	  - name: eventid
//	    type: uint64
//	    path: Event.System.EventID
//	    alternates: [Event.System.EventID.#text]
//	    nullable: true
//	  - name: user
//	    path: Event.EventData.TargetUserName
type fileSchema struct {
	Name   string      `yaml:"name"`
	Fields []fileField `yaml:"fields"`
}

type fileField struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Source     string   `yaml:"source"`
	Path       string   `yaml:"path"`
	Alternates []string `yaml:"alternates"`
	Nullable   bool     `yaml:"nullable"`
	Default    string   `yaml:"default"`
}

const sourceRecordID = "record_id"

// Parse decodes and validates a YAML schema document.
func Parse(data []byte) (domain.Schema, error) {
	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return domain.Schema{}, fmt.Errorf("parse schema: %w", err)
	}

	s := domain.Schema{Name: fs.Name, Fields: make([]domain.FieldSpec, 0, len(fs.Fields))}
	if s.Name == "" {
		s.Name = "custom"
	}
	for i, ff := range fs.Fields {
		spec, err := ff.spec()
		if err != nil {
			return domain.Schema{}, fmt.Errorf("schema %q: field %d: %w", s.Name, i, err)
		}
		s.Fields = append(s.Fields, spec)
	}

	if err := s.Validate(); err != nil {
		return domain.Schema{}, err
	}
	return s, nil
}

func (ff fileField) spec() (domain.FieldSpec, error) {
	spec := domain.FieldSpec{
		Name:     ff.Name,
		Type:     domain.FieldType(strings.ToLower(ff.Type)),
		Nullable: ff.Nullable,
		Default:  domain.DefaultPolicy(strings.ToLower(ff.Default)),
	}

	switch strings.ToLower(ff.Source) {
	case sourceRecordID:
		spec.RecordID = true
		if spec.Type == "" {
			spec.Type = domain.TypeUint64
		}
		return spec, nil
	case "", "path":
	default:
		return spec, fmt.Errorf("unknown source %q", ff.Source)
	}

	if spec.Type == "" {
		spec.Type = domain.TypeString
	}
	spec.Path = domain.ParsePath(ff.Path)
	for _, alt := range ff.Alternates {
		spec.Alternates = append(spec.Alternates, domain.ParsePath(alt))
	}

	if spec.Default == "" || spec.Default == "null" {
		switch {
		case spec.Nullable:
			spec.Default = domain.DefaultNull
		case spec.Type == domain.TypeString:
			spec.Default = domain.DefaultEmptyString
		default:
			// Non-nullable numbers have no usable default; let Validate say so.
			spec.Default = domain.DefaultNull
		}
	}
	return spec, nil
}

// Load reads a YAML schema file.
func Load(path string) (domain.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Resolve accepts a built-in layout name or a path to a YAML file.
func Resolve(nameOrPath string) (domain.Schema, error) {
	if nameOrPath == "" {
		return Default(), nil
	}
	if s, ok := Builtin(nameOrPath); ok {
		return s, nil
	}
	if _, err := os.Stat(nameOrPath); err != nil {
		return domain.Schema{}, fmt.Errorf("schema %q is neither a built-in (%s) nor a readable file: %w",
			nameOrPath, strings.Join(Names(), ", "), err)
	}
	return Load(nameOrPath)
}
