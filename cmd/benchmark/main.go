// Benchmark tool for checking Arbiter against labelled evaluation cases.
//
// Usage:
//
//	go run ./cmd/benchmark -cases /path/to/cases.jsonl -url http://localhost:8080
//
// Each line of the cases file is a JSON object:
//
//	{"ruleId": "late-invoice", "facts": {"daysOverdue": 45}, "expectMatched": true}
//
// This tool:
//  1. Reads the labelled cases
//  2. Sends each case to POST /evaluate
//  3. Compares Arbiter's matched flag with the expected label
//  4. Reports agreement, a confusion matrix and latency
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Case is one labelled evaluation.
type Case struct {
	RuleID        string         `json:"ruleId"`
	Facts         map[string]any `json:"facts"`
	ExpectMatched bool           `json:"expectMatched"`
}

// EvaluateRequest is the Arbiter API request format
type EvaluateRequest struct {
	RuleID string         `json:"ruleId"`
	Facts  map[string]any `json:"facts"`
}

// EvaluateResponse is the Arbiter API response format
type EvaluateResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Matched      bool     `json:"matched"`
	Log          []string `json:"log"`
	Failure      string   `json:"failure"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Expected match, matched
	FalsePositives int64 // Expected no match, matched
	TrueNegatives  int64 // Expected no match, not matched
	FalseNegatives int64 // Expected match, not matched

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func (m *Metrics) record(expected, matched bool) {
	switch {
	case matched && expected:
		atomic.AddInt64(&m.TruePositives, 1)
	case matched && !expected:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !matched && !expected:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Agreement is the share of cases where Arbiter agreed with the label.
func (m *Metrics) Agreement() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

func main() {
	casesPath := flag.String("cases", "", "Path to a JSON lines file of labelled cases")
	baseURL := flag.String("url", "http://localhost:8080", "Arbiter base URL")
	limit := flag.Int("limit", 0, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: benchmark -cases /path/to/cases.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("ARBITER BENCHMARK")
	fmt.Printf("\nCases File:  %s\n", *casesPath)
	fmt.Printf("Arbiter URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Arbiter not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Arbiter is running:")
		fmt.Println("  go run ./cmd/arbiter serve")
		os.Exit(1)
	}
	fmt.Println("Arbiter is healthy")

	f, err := os.Open(*casesPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open cases: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d cases\n", len(cases))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCases parses one case per non-blank line. Lines starting with # are
// comments.
func readCases(r io.Reader, limit int) ([]Case, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var cases []Case
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.RuleID == "" {
			return nil, fmt.Errorf("line %d: ruleId is required", line)
		}
		cases = append(cases, c)

		if limit > 0 && len(cases) >= limit {
			break
		}
	}
	return cases, scanner.Err()
}

func runBenchmark(cases []Case, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Case, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := evaluateCase(client, baseURL, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.RuleID, err)
					}
					continue
				}

				metrics.record(c.ExpectMatched, result.Matched)

				if verbose {
					status := "ok"
					if result.Matched != c.ExpectMatched {
						status = "MISMATCH"
					}
					fmt.Printf("%-8s %-24s | expected: %-5v | matched: %-5v | %s\n",
						status, c.RuleID, c.ExpectMatched, result.Matched, result.Failure)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateCase(client *http.Client, baseURL string, c Case) (*EvaluateResponse, error) {
	body, err := json.Marshal(EvaluateRequest{RuleID: c.RuleID, Facts: c.Facts})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                          Arbiter")
	fmt.Println("                    matched   not matched")
	fmt.Printf("   Expected  match   %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          no match   %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Printf("\nAGREEMENT\n")
	fmt.Printf("   Agreement:  %.4f\n", m.Agreement())
	if mismatches := m.FalsePositives + m.FalseNegatives; mismatches > 0 {
		fmt.Printf("   Mismatches: %d\n", mismatches)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f evals/sec\n", rps)
	}

	fmt.Println()
}
