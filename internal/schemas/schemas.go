// Package schemas holds the fixed detail-table schema and prefix table of
// every catalog source. Definitions are embedded YAML; a source may point at
// an override file instead.
package schemas

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"microdata/internal/etl"
)

//go:embed *.yaml
var files embed.FS

// ErrUnknownSchema is returned for a source without an embedded definition.
var ErrUnknownSchema = eris.New("no schema for source")

// Definition is the immutable normalization config of one source.
type Definition struct {
	etl.Schema `yaml:",inline"`
	Prefixes   etl.PrefixTable `yaml:"prefixes"`
}

// Load returns the definition for source. A non-empty overrideFile is read
// instead of the embedded file.
func Load(source, overrideFile string) (Definition, error) {
	var (
		data []byte
		err  error
	)
	if overrideFile != "" {
		data, err = os.ReadFile(overrideFile)
		if err != nil {
			return Definition{}, eris.Wrapf(err, "read schema override %s", overrideFile)
		}
	} else {
		data, err = files.ReadFile(source + ".yaml")
		if errors.Is(err, fs.ErrNotExist) {
			return Definition{}, eris.Wrapf(ErrUnknownSchema, "%s", source)
		}
		if err != nil {
			return Definition{}, eris.Wrapf(err, "read embedded schema %s", source)
		}
	}
	return Parse(source, data)
}

// Parse decodes a YAML definition. Columns without a type are strings.
func Parse(source string, data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, eris.Wrapf(err, "parse schema %s", source)
	}
	if def.Source == "" {
		def.Source = source
	}
	if def.Source != source {
		return Definition{}, eris.Wrapf(etl.ErrInvalidSchema, "schema declares source %q, want %q", def.Source, source)
	}
	for i := range def.Columns {
		def.Columns[i].Name = strings.TrimSpace(def.Columns[i].Name)
		if def.Columns[i].Type == "" {
			def.Columns[i].Type = etl.TypeString
		}
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Embedded lists the sources with a built-in definition.
func Embedded() []string {
	entries, _ := files.ReadDir(".")
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Marshal renders def as YAML.
func Marshal(def Definition) ([]byte, error) {
	return yaml.Marshal(def)
}
