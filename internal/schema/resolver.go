package schema

import "fmt"

// Kind selects which columns a query asks for.
type Kind string

const (
	KindDevice    Kind = "device"
	KindCommand   Kind = "command"
	KindWideTable Kind = "wide_table"
	KindDemand    Kind = "demand"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDevice, KindCommand, KindWideTable, KindDemand:
		return k, nil
	default:
		return "", fmt.Errorf("unknown query kind %q (want device, command, wide_table or demand)", s)
	}
}

// UnknownDeviceError is returned when a serial filter is not in the topology.
type UnknownDeviceError struct {
	Serial string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("device %q is not in the topology", e.Serial)
}

// ColumnName builds the wide-table column for a device field.
func ColumnName(serial, field string) string {
	return serial + "_" + field
}

// ResolveColumns returns the wide-table columns for the request, ordered by serial
// (lexicographic) and then by declaration order in the mapping. An empty serial
// means every device in the topology. Serials whose type has no mapping are skipped.
func ResolveColumns(topo *Topology, mapping *FieldMapping, serial string, kind Kind, includeExtended bool) ([]string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	serials := topo.Serials()
	if serial != "" {
		if _, ok := topo.TypeOf(serial); !ok {
			return nil, &UnknownDeviceError{Serial: serial}
		}
		serials = []string{serial}
	}

	var cols []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			cols = append(cols, name)
		}
	}

	for _, sn := range serials {
		typ, _ := topo.TypeOf(sn)
		dt, ok := mapping.Lookup(typ)
		if !ok {
			continue
		}

		if kind == KindDevice || kind == KindWideTable {
			for _, f := range dt.Fields {
				if f.Extended && !includeExtended {
					continue
				}
				add(ColumnName(sn, f.Name))
			}
		}
		if kind == KindCommand || kind == KindWideTable || kind == KindDemand {
			for _, c := range dt.Commands {
				add(ColumnName(sn, c.Name))
			}
		}
	}
	return cols, nil
}

// Split partitions requested columns by whether the remote table has them.
type Split struct {
	Present []string `json:"present"`
	Missing []string `json:"missing"`
}

// ValidateAgainstRemote keeps the requested order in both halves. It never fails:
// a device that has not reported yet simply has missing columns.
func ValidateAgainstRemote(columns, available []string) Split {
	have := make(map[string]bool, len(available))
	for _, c := range available {
		have[c] = true
	}
	var s Split
	for _, c := range columns {
		if have[c] {
			s.Present = append(s.Present, c)
		} else {
			s.Missing = append(s.Missing, c)
		}
	}
	return s
}
