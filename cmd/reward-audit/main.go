package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// journalEntry mirrors the rewards_journal RPC result rows.
type journalEntry struct {
	Seq        uint64   `json:"seq"`
	Op         string   `json:"op"`
	Caller     string   `json:"caller"`
	Recipient  string   `json:"recipient"`
	IDs        []uint64 `json:"ids"`
	Points     []uint64 `json:"points"`
	Annotation string   `json:"annotation"`
	StateRoot  string   `json:"stateRoot"`
	CreatedAt  int64    `json:"createdAt"`
}

func main() {
	rpcFlag := flag.String("rpc", defaultRPCEndpoint(), "Reward ledger JSON-RPC endpoint")
	outFlag := flag.String("out", "rewards_journal", "Output path without extension")
	formatFlag := flag.String("format", "csv", "Output format: csv, parquet, or both")
	afterFlag := flag.Uint64("after", 0, "Export entries with sequence greater than this")
	pageFlag := flag.Int("page", 100, "Journal entries fetched per RPC call")
	flag.Parse()

	format := strings.ToLower(strings.TrimSpace(*formatFlag))
	switch format {
	case "csv", "parquet", "both":
	default:
		fmt.Fprintf(os.Stderr, "unsupported format %q (want csv, parquet, or both)\n", *formatFlag)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	entries, err := fetchJournal(client, *rpcFlag, *afterFlag, *pageFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch journal: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty in the requested range; nothing exported.")
		return
	}

	if format == "csv" || format == "both" {
		path := *outFlag + ".csv"
		if err := writeCSV(path, entries); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (%d rows)\n", path, len(entries))
	}
	if format == "parquet" || format == "both" {
		path := *outFlag + ".parquet"
		if err := writeParquet(path, entries); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write parquet: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s (%d rows)\n", path, len(entries))
	}
	fmt.Printf("Exported sequences %d through %d.\n", entries[0].Seq, entries[len(entries)-1].Seq)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("REWARD_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func fetchJournal(client *http.Client, endpoint string, afterSeq uint64, page int) ([]journalEntry, error) {
	all := make([]journalEntry, 0, page)
	cursor := afterSeq
	for {
		entries, lastSeq, err := fetchPage(client, endpoint, cursor, page)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return all, nil
		}
		all = append(all, entries...)
		cursor = entries[len(entries)-1].Seq
		if cursor >= lastSeq {
			return all, nil
		}
	}
}

func fetchPage(client *http.Client, endpoint string, afterSeq uint64, limit int) ([]journalEntry, uint64, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "rewards_journal",
		"params": []interface{}{map[string]interface{}{
			"afterSeq": afterSeq,
			"limit":    limit,
		}},
	})
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result struct {
			Entries []journalEntry `json:"entries"`
			LastSeq uint64         `json:"lastSeq"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, 0, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result.Entries, rpcResp.Result.LastSeq, nil
}

func writeCSV(path string, entries []journalEntry) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{"seq", "op", "caller", "recipient", "ids", "points", "annotation", "state_root", "created_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, entry := range entries {
		record := []string{
			strconv.FormatUint(entry.Seq, 10),
			entry.Op,
			entry.Caller,
			entry.Recipient,
			joinUints(entry.IDs),
			joinUints(entry.Points),
			entry.Annotation,
			entry.StateRoot,
			time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

type parquetEntry struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Op         string `parquet:"name=op, type=BYTE_ARRAY, convertedtype=UTF8"`
	Caller     string `parquet:"name=caller, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient  string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	IDs        string `parquet:"name=ids, type=BYTE_ARRAY, convertedtype=UTF8"`
	Points     string `parquet:"name=points, type=BYTE_ARRAY, convertedtype=UTF8"`
	Annotation string `parquet:"name=annotation, type=BYTE_ARRAY, convertedtype=UTF8"`
	StateRoot  string `parquet:"name=state_root, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, entries []journalEntry) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetEntry), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		row := &parquetEntry{
			Seq:        int64(entry.Seq),
			Op:         entry.Op,
			Caller:     entry.Caller,
			Recipient:  entry.Recipient,
			IDs:        joinUints(entry.IDs),
			Points:     joinUints(entry.Points),
			Annotation: entry.Annotation,
			StateRoot:  entry.StateRoot,
			CreatedAt:  time.Unix(entry.CreatedAt, 0).UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}

func joinUints(values []uint64) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}
