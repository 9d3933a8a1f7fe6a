package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a mappings file.
type File struct {
	Mappings []Mapping `yaml:"mappings"`
}

// LoadFile reads mappings from a YAML file. The mappings are not validated;
// pass them to Table.Replace for that.
func LoadFile(path string) ([]Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mappings file: %w", err)
	}
	return f.Mappings, nil
}

// SaveFile writes mappings to path, replacing it atomically.
func SaveFile(path string, ms []Mapping) error {
	data, err := yaml.Marshal(File{Mappings: ms})
	if err != nil {
		return fmt.Errorf("marshal mappings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create mappings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mappings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write mappings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mappings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace mappings file: %w", err)
	}
	return nil
}
