// Package config loads the connections and the audit settings of an
// application from one YAML file:
//
//	connections:
//	  - name: main
//	    dialect: postgres
//	    data_source: postgres://app@localhost/shop?sslmode=disable
//	audit:
//	  enabled: true
//	  date_time_kind: utc
//	  types:
//	    - entity: Customer
//	      audit: CustomerAudit
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/audit"
)

// File is the decoded configuration file.
type File struct {
	Connections []datakit.Connection `yaml:"connections"`
	Audit       audit.Config         `yaml:"audit"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every connection and the audit section. Connection names
// must be set and unique.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Connections))
	for i, c := range f.Connections {
		if c.Name == "" {
			return fmt.Errorf("config: connection %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("config: connection %q is defined twice", c.Name)
		}
		seen[c.Name] = true
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return f.Audit.Validate()
}

// Connection returns the connection with the given name.
func (f *File) Connection(name string) (datakit.Connection, error) {
	for _, c := range f.Connections {
		if c.Name == name {
			return c, nil
		}
	}
	return datakit.Connection{}, fmt.Errorf("config: connection %q not found", name)
}
