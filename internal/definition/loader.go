// Package definition loads designer definitions from YAML, validates their
// structure, and serves them from a registry with atomic snapshot swap.
package definition

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/designer/model"
)

// Loader scans directories for YAML designer files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a DesignerDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.DesignerDefinition, error) {
	var defs []model.DesignerDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML designer file. Unknown keys are
// rejected so a typo in a panel kind or key option fails loudly.
func (l *Loader) LoadFile(path string) (model.DesignerDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DesignerDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.DesignerDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return model.DesignerDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
