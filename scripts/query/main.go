package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AnalyzeRequest mirrors the body accepted by POST /api/v1/analyze.
type AnalyzeRequest struct {
	FlowLog     string `json:"flow_log"`
	LookupTable string `json:"lookup_table"`
}

func main() {
	mode := flag.String("mode", "latest", "Query mode: 'analyze', 'latest', 'run', 'direct' or 'health'.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the flowlog API.")
	grpcAddr := flag.String("grpc", "localhost:9090", "Address of the gRPC health service.")
	flowLog := flag.String("flows", "", "Flow log path for analyze mode (as seen by the server).")
	lookupTable := flag.String("lookup", "", "Lookup table path for analyze mode (as seen by the server).")
	runID := flag.Int("id", 0, "Run id for run mode.")
	chAddr := flag.String("clickhouse", "localhost:19000", "ClickHouse address for direct mode.")
	limit := flag.Int("limit", 10, "Number of tags to print in direct mode.")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "analyze":
		if *flowLog == "" || *lookupTable == "" {
			log.Fatal("Error: -flows and -lookup are required for analyze mode")
		}
		body, err := json.Marshal(AnalyzeRequest{FlowLog: *flowLog, LookupTable: *lookupTable})
		if err != nil {
			log.Fatalf("Error marshalling request body: %v", err)
		}
		queryAPI(http.MethodPost, *apiAddr+"/api/v1/analyze", body)
	case "latest":
		queryAPI(http.MethodGet, *apiAddr+"/api/v1/runs/latest", nil)
	case "run":
		queryAPI(http.MethodGet, fmt.Sprintf("%s/api/v1/runs/%d", *apiAddr, *runID), nil)
	case "direct":
		directQueryClickHouse(*chAddr, *limit)
	case "health":
		checkHealth(*grpcAddr)
	default:
		log.Fatalf("Invalid mode: %s.", *mode)
	}
}

func queryAPI(method, url string, body []byte) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		log.Printf("Sending request to %s with body:\n%s\n", url, string(body))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	log.Println("---")
	fmt.Println(prettyJSON.String())
}

// directQueryClickHouse prints the tag counts of the most recent run stored in ClickHouse.
func directQueryClickHouse(addr string, limit int) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: "default", Username: "default"},
	})
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const query = `
		SELECT Tag, Count, Incomplete, Timestamp
		FROM flowlog_tag_counts
		WHERE Timestamp = (SELECT max(Timestamp) FROM flowlog_tag_counts)
		ORDER BY Count DESC, Tag ASC
		LIMIT ?`
	rows, err := conn.Query(ctx, query, limit)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	defer rows.Close()

	log.Println("--- Latest Tag Counts (Direct) ---")
	var found bool
	for rows.Next() {
		var (
			tag        string
			count      uint64
			incomplete bool
			ts         time.Time
		)
		if err := rows.Scan(&tag, &count, &incomplete, &ts); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		if !found {
			fmt.Printf("Run at %s (incomplete: %v)\n", ts.Format(time.RFC3339), incomplete)
			found = true
		}
		fmt.Printf("  %-20s %d\n", tag, count)
	}
	if !found {
		log.Println("No runs stored in ClickHouse.")
	}
	if err := rows.Err(); err != nil {
		log.Printf("An error occurred during row iteration: %v", err)
	}
}

func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("health check failed: %v", err)
	}
	fmt.Printf("Serving status: %s\n", resp.GetStatus())
}
