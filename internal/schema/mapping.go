// Package schema turns the external field mapping and device topology into the
// ordered list of wide-table columns a query asks for.
package schema

import (
	"fmt"
	"os"
	"regexp"

	"github.com/pelletier/go-toml/v2"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Field is one per-device measurement. Path is the dotted JSON path inside the
// device payload; it defaults to Name.
type Field struct {
	Name     string `toml:"name" json:"name"`
	Path     string `toml:"path" json:"path"`
	Extended bool   `toml:"extended" json:"extended"`
}

// Command is one command/demand value recorded per device.
type Command struct {
	Name string `toml:"name" json:"name"`
	Path string `toml:"path" json:"path"`
}

// DeviceType lists a device type's fields and commands in declaration order.
type DeviceType struct {
	Fields   []Field   `toml:"fields" json:"fields"`
	Commands []Command `toml:"commands" json:"commands"`
}

// FieldMapping maps device type to its columns. Treat it as read-only once loaded.
//
//	[[device_types.meter.fields]]
//	name = "active_power"
//	path = "data.activePower"
//
//	[[device_types.meter.commands]]
//	name = "power_limit"
type FieldMapping struct {
	DeviceTypes map[string]DeviceType `toml:"device_types" json:"device_types"`
}

// MappingError reports an invalid entry in the field mapping.
type MappingError struct {
	DeviceType string
	Name       string
	Reason     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("field mapping: device type %q: %q: %s", e.DeviceType, e.Name, e.Reason)
}

// LoadFieldMapping reads and validates a TOML field mapping file.
func LoadFieldMapping(path string) (*FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field mapping %s: %w", path, err)
	}
	return ParseFieldMapping(data)
}

// ParseFieldMapping decodes and validates TOML field mapping data.
func ParseFieldMapping(data []byte) (*FieldMapping, error) {
	var m FieldMapping
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode field mapping: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *FieldMapping) normalize() error {
	if m.DeviceTypes == nil {
		m.DeviceTypes = map[string]DeviceType{}
	}
	for typ, dt := range m.DeviceTypes {
		seen := make(map[string]bool, len(dt.Fields)+len(dt.Commands))
		for i, f := range dt.Fields {
			if !identRe.MatchString(f.Name) {
				return &MappingError{DeviceType: typ, Name: f.Name, Reason: "field name is not a valid identifier"}
			}
			if seen[f.Name] {
				return &MappingError{DeviceType: typ, Name: f.Name, Reason: "declared twice"}
			}
			seen[f.Name] = true
			if f.Path == "" {
				dt.Fields[i].Path = f.Name
			}
		}
		for i, c := range dt.Commands {
			if !identRe.MatchString(c.Name) {
				return &MappingError{DeviceType: typ, Name: c.Name, Reason: "command name is not a valid identifier"}
			}
			if seen[c.Name] {
				return &MappingError{DeviceType: typ, Name: c.Name, Reason: "declared twice"}
			}
			seen[c.Name] = true
			if c.Path == "" {
				dt.Commands[i].Path = c.Name
			}
		}
		m.DeviceTypes[typ] = dt
	}
	return nil
}

// Lookup returns the mapping for a device type.
func (m *FieldMapping) Lookup(deviceType string) (DeviceType, bool) {
	if m == nil {
		return DeviceType{}, false
	}
	dt, ok := m.DeviceTypes[deviceType]
	return dt, ok
}
