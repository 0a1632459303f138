package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"FlowTagger/internal/engine/protocol"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// mapping is one generated lookup table row.
type mapping struct {
	Port     uint16
	Protocol string
	Tag      string
}

// flowRecord carries the values written into one flow log line.
type flowRecord struct {
	SrcAddr, DstAddr netip.Addr
	SrcPort, DstPort uint16
	ProtocolID       uint8
	Packets, Bytes   uint64
	Start            time.Time
}

var lookupProtocols = []string{"tcp", "udp", "icmp"}

func main() {
	lookupFile := flag.String("lookup", "lookup_table.csv", "Output lookup table path")
	flowFile := flag.String("flows", "flow_log_file", "Output flow log path")
	mappings := flag.Int("mappings", 10000, "Number of lookup table rows to generate")
	records := flag.Int("records", 1000000, "Number of flow log records to generate")
	tags := flag.Int("tags", 100, "Number of distinct tags")
	malformed := flag.Float64("malformed", 0.05, "Share of malformed lines in the flow log")
	untagged := flag.Float64("untagged", 0.1, "Share of records whose port/protocol has no lookup row")
	schemaName := flag.String("schema", protocol.DefaultSchema, "Flow log layout: "+strings.Join(protocol.SchemaNames(), ", "))
	pcapFile := flag.String("pcap", "", "Derive flow records from the packets of this pcap file instead of generating them")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	flag.Parse()

	schema, err := protocol.LookupSchema(*schemaName)
	if err != nil {
		log.Fatalf("Invalid schema: %v", err)
	}
	rng := rand.New(rand.NewPCG(*seed, *seed>>1))

	// 1. Generate the lookup table
	lf, err := os.Create(*lookupFile)
	if err != nil {
		log.Fatalf("Failed to create lookup table: %v", err)
	}
	table, err := generateLookup(lf, rng, *mappings, *tags)
	if err != nil {
		log.Fatalf("Failed to write lookup table: %v", err)
	}
	if err := lf.Close(); err != nil {
		log.Fatalf("Failed to close lookup table: %v", err)
	}
	log.Printf("Lookup table generated at '%s' with %d mappings.", *lookupFile, len(table))

	// 2. Generate the flow log
	ff, err := os.Create(*flowFile)
	if err != nil {
		log.Fatalf("Failed to create flow log: %v", err)
	}
	bw := bufio.NewWriterSize(ff, 1<<20)

	var written int
	if *pcapFile != "" {
		pf, err := os.Open(*pcapFile)
		if err != nil {
			log.Fatalf("Failed to open pcap file: %v", err)
		}
		written, err = flowsFromPcap(bw, pf, schema)
		pf.Close()
		if err != nil {
			log.Fatalf("Failed to convert pcap: %v", err)
		}
	} else {
		if err := generateFlows(bw, rng, schema, table, *records, *malformed, *untagged); err != nil {
			log.Fatalf("Failed to write flow log: %v", err)
		}
		written = *records
	}
	if err := bw.Flush(); err != nil {
		log.Fatalf("Failed to write flow log: %v", err)
	}
	if err := ff.Close(); err != nil {
		log.Fatalf("Failed to close flow log: %v", err)
	}
	log.Printf("Flow log generated at '%s' with %d lines (schema %s).", *flowFile, written, schema.Name)
}

// generateLookup writes n random rows spread over the tags sv_P1..sv_P<tags>.
func generateLookup(w io.Writer, rng *rand.Rand, n, tags int) ([]mapping, error) {
	if tags < 1 {
		return nil, errors.New("at least one tag is required")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"dstport", "protocol", "tag"}); err != nil {
		return nil, err
	}

	table := make([]mapping, 0, n)
	for i := 0; i < n; i++ {
		m := mapping{
			Port:     uint16(rng.IntN(65535) + 1),
			Protocol: lookupProtocols[rng.IntN(len(lookupProtocols))],
			Tag:      "sv_P" + strconv.Itoa(rng.IntN(tags)+1),
		}
		table = append(table, m)
		if err := cw.Write([]string{strconv.Itoa(int(m.Port)), m.Protocol, m.Tag}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return table, cw.Error()
}

// generateFlows writes n flow log lines. Records reuse lookup rows except
// for an untaggedRatio share, and a malformedRatio share of lines is broken.
func generateFlows(w io.Writer, rng *rand.Rand, schema protocol.Schema, table []mapping, n int, malformedRatio, untaggedRatio float64) error {
	start := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < n; i++ {
		rec := flowRecord{
			SrcAddr: randomAddr(rng),
			DstAddr: randomAddr(rng),
			SrcPort: uint16(rng.IntN(65535-1024) + 1024),
			Packets: uint64(rng.IntN(1000) + 1),
			Start:   start.Add(time.Duration(i) * time.Second),
		}
		rec.Bytes = rec.Packets * uint64(rng.IntN(1400)+50)

		if len(table) > 0 && rng.Float64() >= untaggedRatio {
			m := table[rng.IntN(len(table))]
			id, _ := protocol.ProtocolNumber(m.Protocol)
			rec.DstPort, rec.ProtocolID = m.Port, uint8(id)
		} else {
			// Protocol 47 (GRE) is never in the lookup table.
			rec.DstPort, rec.ProtocolID = uint16(rng.IntN(65536)), 47
		}

		fields := recordFields(schema, rec)
		if rng.Float64() < malformedRatio {
			fields = breakFields(rng, schema, fields)
		}
		if _, err := io.WriteString(w, strings.Join(fields, " ")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// recordFields lays rec out in the order of schema.
func recordFields(schema protocol.Schema, rec flowRecord) []string {
	var fields []string
	if schema.Name == "legacy" {
		fields = []string{
			rec.Start.Format(time.RFC3339), rec.SrcAddr.String(), strconv.Itoa(int(rec.SrcPort)),
			rec.DstAddr.String(), "0", "", "", "allow",
			"value1", "value2", "value3", "value4", "value5", "value6",
		}
	} else {
		fields = []string{
			"2", "123456789012", fmt.Sprintf("eni-%08x", rec.SrcAddr.As4()),
			rec.SrcAddr.String(), rec.DstAddr.String(),
			strconv.Itoa(int(rec.SrcPort)), strconv.Itoa(int(rec.DstPort)), "",
			strconv.FormatUint(rec.Packets, 10), strconv.FormatUint(rec.Bytes, 10),
			strconv.FormatInt(rec.Start.Unix(), 10), strconv.FormatInt(rec.Start.Add(time.Minute).Unix(), 10),
			"ACCEPT", "OK",
		}
	}
	fields[schema.DstPortField-1] = strconv.Itoa(int(rec.DstPort))
	fields[schema.ProtocolField-1] = strconv.Itoa(int(rec.ProtocolID))
	return fields
}

// breakFields either truncates the line below the minimum field count or
// replaces the destination port with a non-numeric value.
func breakFields(rng *rand.Rand, schema protocol.Schema, fields []string) []string {
	if rng.IntN(4) == 0 {
		broken := append([]string(nil), fields...)
		broken[schema.DstPortField-1] = "port"
		return broken
	}
	return fields[:rng.IntN(schema.MinFields-5)+5]
}

func randomAddr(rng *rand.Rand) netip.Addr {
	v := rng.Uint32()
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// flowsFromPcap writes one flow log line per IPv4 TCP, UDP or ICMP packet
// in the capture read from r.
func flowsFromPcap(w io.Writer, r io.Reader, schema protocol.Schema) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read pcap header: %w", err)
	}

	written := 0
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		rec, ok := recordFromPacket(packet)
		if !ok {
			continue
		}
		rec.Start = ci.Timestamp.UTC()
		rec.Bytes = uint64(ci.Length)
		if _, err := io.WriteString(w, strings.Join(recordFields(schema, rec), " ")+"\n"); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func recordFromPacket(packet gopacket.Packet) (flowRecord, bool) {
	ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return flowRecord{}, false
	}
	src, _ := netip.AddrFromSlice(ipLayer.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ipLayer.DstIP.To4())
	rec := flowRecord{SrcAddr: src, DstAddr: dst, ProtocolID: uint8(ipLayer.Protocol), Packets: 1}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		rec.SrcPort, rec.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	case *layers.UDP:
		rec.SrcPort, rec.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	default:
		if ipLayer.Protocol != layers.IPProtocolICMPv4 {
			return flowRecord{}, false
		}
	}
	return rec, true
}
