// Benchmark tool for measuring PhishGuard against a labelled URL corpus.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/urls.csv -url http://localhost:8080
//
// The CSV has a header row and the columns url,is_phishing (1/0 or
// true/false). Each URL is posted to /analyze and the verdict is compared
// with the label to produce precision, recall, F1-score and a confusion
// matrix.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one labelled URL.
type Sample struct {
	URL        string
	IsPhishing bool
}

// AnalyzeResponse is the subset of the /analyze response the benchmark reads.
type AnalyzeResponse struct {
	SafetyScore int    `json:"safetyScore"`
	IsPhishing  bool   `json:"isPhishing"`
	Verdict     string `json:"verdict"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // phishing flagged
	FalsePositives int64 // benign flagged
	TrueNegatives  int64 // benign passed
	FalseNegatives int64 // phishing missed

	TotalProcessed int64
	TotalPhishing  int64
	TotalBenign    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// Record adds one prediction to the confusion matrix.
func (m *Metrics) Record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalPhishing, 1)
	} else {
		atomic.AddInt64(&m.TotalBenign, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision is TP / (TP + FP), 0 when nothing was flagged.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), 0 when the corpus has no phishing URLs.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled URL CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "PhishGuard base URL")
	userID := flag.String("user", "benchmark", "X-User-ID for requests")
	limit := flag.Int("limit", 0, "Maximum URLs to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each URL result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/urls.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          PHISHGUARD BENCHMARK - Labelled URL Corpus           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:        %s\n", *csvPath)
	fmt.Printf("PhishGuard URL:  %s\n", *baseURL)
	fmt.Printf("Workers:         %d\n", *workers)
	fmt.Printf("Limit:           %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: PhishGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure PhishGuard is running:")
		fmt.Println("  go run ./cmd/phishguard")
		os.Exit(1)
	}
	fmt.Println("✓ PhishGuard is healthy")

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	samples, err := readSamples(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(samples) == 0 {
		fmt.Println("ERROR: CSV contains no samples")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d URLs\n", len(samples))

	phishing := 0
	for _, s := range samples {
		if s.IsPhishing {
			phishing++
		}
	}
	fmt.Printf("  - Phishing: %d (%.2f%%)\n", phishing, 100*float64(phishing)/float64(len(samples)))
	fmt.Printf("  - Benign:   %d (%.2f%%)\n", len(samples)-phishing, 100*float64(len(samples)-phishing)/float64(len(samples)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *userID, *workers, *verbose)
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

// readSamples parses the url,is_phishing CSV. Column order is taken from
// the header; malformed rows are skipped.
func readSamples(r io.Reader, limit int) ([]Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	urlCol, ok := colIndex["url"]
	if !ok {
		return nil, errors.New("missing url column")
	}
	labelCol, ok := colIndex["is_phishing"]
	if !ok {
		return nil, errors.New("missing is_phishing column")
	}

	var samples []Sample
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) <= max(urlCol, labelCol) {
			continue
		}

		label, err := strconv.ParseBool(strings.TrimSpace(record[labelCol]))
		if err != nil {
			continue
		}

		samples = append(samples, Sample{
			URL:        strings.TrimSpace(record[urlCol]),
			IsPhishing: label,
		})

		if limit > 0 && len(samples) >= limit {
			break
		}
	}

	return samples, nil
}

func runBenchmark(samples []Sample, baseURL, userID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := analyzeURL(client, baseURL, userID, s.URL)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.URL, err)
					}
					continue
				}

				metrics.Record(result.IsPhishing, s.IsPhishing)

				if verbose {
					status := "✓"
					if result.IsPhishing != s.IsPhishing {
						status = "✗"
					}
					fmt.Printf("%s %3d %-10s | Phishing: %-5v | %s\n",
						status,
						result.SafetyScore,
						result.Verdict,
						s.IsPhishing,
						s.URL,
					)
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeURL(client *http.Client, baseURL, userID, raw string) (*AnalyzeResponse, error) {
	body, err := json.Marshal(map[string]string{"url": raw})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-User-ID", userID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Phishing:   %d\n", m.TotalPhishing)
	fmt.Printf("   Total Benign:     %d\n", m.TotalBenign)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  PHISHING      BENIGN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  P  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           B  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged URLs, how many were phishing)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of phishing URLs, how many were flagged)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f urls/sec\n", rps)
	}

	fmt.Println()
}
