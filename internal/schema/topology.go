package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Device is one entry of the topology file.
type Device struct {
	Serial string `json:"sn"`
	Type   string `json:"type"`
}

// Topology maps device serial to device type.
type Topology struct {
	types map[string]string
}

// NewTopology builds a topology from a serial -> type map.
func NewTopology(types map[string]string) *Topology {
	t := &Topology{types: make(map[string]string, len(types))}
	for sn, typ := range types {
		t.types[sn] = typ
	}
	return t
}

// LoadTopology reads a JSON topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	return ParseTopology(data)
}

// ParseTopology accepts either {"devices":[{"sn":..,"type":..}]} or a flat {"SN":"type"} object.
func ParseTopology(data []byte) (*Topology, error) {
	var wrapped struct {
		Devices []Device `json:"devices"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Devices != nil {
		types := make(map[string]string, len(wrapped.Devices))
		for _, d := range wrapped.Devices {
			if err := checkSerial(d.Serial); err != nil {
				return nil, err
			}
			if prev, dup := types[d.Serial]; dup && prev != d.Type {
				return nil, fmt.Errorf("topology: serial %q listed with types %q and %q", d.Serial, prev, d.Type)
			}
			types[d.Serial] = d.Type
		}
		return &Topology{types: types}, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	for sn := range flat {
		if err := checkSerial(sn); err != nil {
			return nil, err
		}
	}
	return &Topology{types: flat}, nil
}

func checkSerial(sn string) error {
	if sn == "" {
		return fmt.Errorf("topology: empty device serial")
	}
	if strings.ContainsAny(sn, "\"\x00\n\r") {
		return fmt.Errorf("topology: device serial %q contains forbidden characters", sn)
	}
	return nil
}

// Serials returns every serial in lexicographic order.
func (t *Topology) Serials() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.types))
	for sn := range t.types {
		out = append(out, sn)
	}
	sort.Strings(out)
	return out
}

// TypeOf returns the device type of serial.
func (t *Topology) TypeOf(serial string) (string, bool) {
	if t == nil {
		return "", false
	}
	typ, ok := t.types[serial]
	return typ, ok
}

// Len returns the number of devices.
func (t *Topology) Len() int {
	if t == nil {
		return 0
	}
	return len(t.types)
}
