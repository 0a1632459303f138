package protocol

import (
	"errors"
	"fmt"
	"math"

	"FlowTagger/internal/model"

	"github.com/google/gopacket/layers"
)

// UnknownProtocol is the name given to protocol ids missing from the protocol table.
const UnknownProtocol = "unknown"

var (
	// ErrMalformedRecord is the parent of every per-line parse failure.
	ErrMalformedRecord = errors.New("malformed record")
	ErrTooFewFields    = fmt.Errorf("%w: too few fields", ErrMalformedRecord)
	ErrBadNumeric      = fmt.Errorf("%w: non-numeric port or protocol", ErrMalformedRecord)
)

// Malformed reasons as they appear in result diagnostics.
const (
	ReasonTooFewFields = "too_few_fields"
	ReasonBadNumeric   = "bad_numeric"
	ReasonOther        = "other"
)

var protocolNames = map[layers.IPProtocol]string{
	layers.IPProtocolICMPv4: "icmp",
	layers.IPProtocolTCP:    "tcp",
	layers.IPProtocolUDP:    "udp",
}

// ProtocolName resolves a numeric IP protocol id.
func ProtocolName(id uint64) string {
	if id > math.MaxUint8 {
		return UnknownProtocol
	}
	if name, ok := protocolNames[layers.IPProtocol(id)]; ok {
		return name
	}
	return UnknownProtocol
}

// ProtocolNumber is the inverse of ProtocolName for the known protocols.
func ProtocolNumber(name string) (layers.IPProtocol, bool) {
	for id, n := range protocolNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Reason maps a parse error to its diagnostic name.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTooFewFields):
		return ReasonTooFewFields
	case errors.Is(err, ErrBadNumeric):
		return ReasonBadNumeric
	default:
		return ReasonOther
	}
}

// Record is a well-formed flow log line reduced to the fields we count on.
type Record struct {
	DstPort    uint16
	ProtocolID uint64
	Protocol   string
}

// Key returns the (port, protocol) pair of the record.
func (r Record) Key() model.PairKey {
	return model.PairKey{DstPort: r.DstPort, Protocol: r.Protocol}
}

// Parser turns raw flow log lines into records. It holds no mutable state and
// is safe for concurrent use.
type Parser struct {
	schema Schema
}

// NewParser creates a parser for the given schema.
func NewParser(schema Schema) (*Parser, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Parser{schema: schema}, nil
}

// Schema returns the layout the parser reads.
func (p *Parser) Schema() Schema {
	return p.schema
}

// Parse splits line on whitespace and extracts the destination port and protocol.
// The returned error is one of ErrTooFewFields or ErrBadNumeric.
func (p *Parser) Parse(line []byte) (Record, error) {
	var portField, protoField []byte
	n := 0
	for i := 0; i < len(line) && n < p.schema.MinFields; {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i == len(line) {
			break
		}
		start := i
		for i < len(line) && !isSpace(line[i]) {
			i++
		}
		n++
		switch n {
		case p.schema.DstPortField:
			portField = line[start:i]
		case p.schema.ProtocolField:
			protoField = line[start:i]
		}
	}
	if n < p.schema.MinFields {
		return Record{}, ErrTooFewFields
	}

	port, ok := parseUint(portField, math.MaxUint16)
	if !ok {
		return Record{}, ErrBadNumeric
	}
	protoID, ok := parseUint(protoField, math.MaxUint32)
	if !ok {
		return Record{}, ErrBadNumeric
	}

	return Record{
		DstPort:    uint16(port),
		ProtocolID: protoID,
		Protocol:   ProtocolName(protoID),
	}, nil
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	}
	return false
}

// parseUint parses base-10 digits, rejecting empty input and values above limit.
func parseUint(b []byte, limit uint64) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
		if v > limit {
			return 0, false
		}
	}
	return v, true
}
