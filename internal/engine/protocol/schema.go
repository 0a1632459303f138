package protocol

import (
	"fmt"
	"maps"
	"slices"
)

// Schema describes where the fields of interest sit in a flow log line.
// Field positions are 1-based.
type Schema struct {
	Name          string
	MinFields     int
	DstPortField  int
	ProtocolField int
}

// DefaultSchema is the layout used when none is configured.
const DefaultSchema = "v2"

var schemas = map[string]Schema{
	// Sample layout: destination port is field 6, protocol id is field 8.
	"v2": {Name: "v2", MinFields: 14, DstPortField: 6, ProtocolField: 8},
	// AWS VPC flow log version 2 default format:
	// version account-id interface-id srcaddr dstaddr srcport dstport protocol packets bytes start end action log-status
	"aws-v2": {Name: "aws-v2", MinFields: 14, DstPortField: 7, ProtocolField: 8},
	// Layout written by the first data generator: timestamp srcip srcport dstip 0 dstport proto action value1..value6
	"legacy": {Name: "legacy", MinFields: 14, DstPortField: 6, ProtocolField: 7},
}

// LookupSchema returns the named schema.
func LookupSchema(name string) (Schema, error) {
	s, ok := schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown flow log schema %q (known: %v)", name, SchemaNames())
	}
	return s, nil
}

// SchemaNames lists the known schema names in sorted order.
func SchemaNames() []string {
	return slices.Sorted(maps.Keys(schemas))
}

// Validate checks that the field positions are usable.
func (s Schema) Validate() error {
	if s.DstPortField < 1 || s.ProtocolField < 1 {
		return fmt.Errorf("schema %s: field positions must be >= 1", s.Name)
	}
	if s.DstPortField == s.ProtocolField {
		return fmt.Errorf("schema %s: port and protocol share field %d", s.Name, s.DstPortField)
	}
	if s.MinFields < max(s.DstPortField, s.ProtocolField) {
		return fmt.Errorf("schema %s: min fields %d does not cover fields %d and %d", s.Name, s.MinFields, s.DstPortField, s.ProtocolField)
	}
	return nil
}
