// Command compare sends a fixed prompt set to every model in the catalog and
// writes the answers, latencies and errors side by side as JSON and CSV.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/config"
	"PolyChat/pkg/logger"
	svc "PolyChat/pkg/services"

	"go.uber.org/zap"
)

type ResultItem struct {
	Prompt          string `json:"prompt"`
	Model           string `json:"model"`
	Provider        string `json:"provider"`
	Response        string `json:"response"`
	Error           string `json:"error,omitempty"`
	Snapshots       int    `json:"snapshots"`
	FirstSnapshotMs int64  `json:"first_snapshot_ms"`
	DurationMs      int64  `json:"duration_ms"`
	Timestamp       string `json:"timestamp"`
}

type RunSummary struct {
	RunID        string       `json:"run_id"`
	StartedAt    string       `json:"started_at"`
	EndedAt      string       `json:"ended_at"`
	Env          string       `json:"env"`
	Temperature  float64      `json:"temperature"`
	MaxTokens    int          `json:"max_tokens"`
	Models       []string     `json:"models"`
	Only         string       `json:"only,omitempty"`
	TotalPrompts int          `json:"total_prompts"`
	Results      []ResultItem `json:"results"`
}

func readPrompts() ([]string, error) {
	candidates := []string{
		"cmd/compare/prompts.json",
		"prompts.json",
		filepath.Join(filepath.Dir(os.Args[0]), "prompts.json"),
	}
	if p := strings.TrimSpace(os.Getenv("COMPARE_PROMPTS_FILE")); p != "" {
		candidates = []string{p}
	}

	var data []byte
	var err error
	for _, p := range candidates {
		if b, e := os.ReadFile(p); e == nil {
			data = b
			err = nil
			break
		} else {
			err = e
		}
	}
	if data == nil {
		return nil, fmt.Errorf("cannot read prompts.json: %w", err)
	}
	return parsePrompts(data)
}

// parsePrompts accepts either ["p1", "p2", ...] or [{"q": "..."}, ...].
func parsePrompts(data []byte) ([]string, error) {
	var arrAny []any
	if e := json.Unmarshal(data, &arrAny); e != nil {
		return nil, fmt.Errorf("invalid prompts.json: %w", e)
	}
	out := make([]string, 0, len(arrAny))
	for _, v := range arrAny {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if qv, ok := t["q"].(string); ok && strings.TrimSpace(qv) != "" {
				out = append(out, strings.TrimSpace(qv))
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("prompts.json is empty or malformed")
	}
	return out, nil
}

// selectModels narrows the catalog to the comma separated ids or providers
// in only. An empty filter keeps every model.
func selectModels(catalog []models.ModelDescriptor, only string) []models.ModelDescriptor {
	only = strings.TrimSpace(only)
	if only == "" {
		return catalog
	}
	want := map[string]bool{}
	for _, t := range strings.Split(only, ",") {
		if v := strings.ToLower(strings.TrimSpace(t)); v != "" {
			want[v] = true
		}
	}
	out := make([]models.ModelDescriptor, 0, len(catalog))
	for _, m := range catalog {
		if want[strings.ToLower(m.ID)] || want[string(m.Provider)] {
			out = append(out, m)
		}
	}
	return out
}

func ensureDir(p string) error {
	return os.MkdirAll(p, 0o755)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeCSV(path string, items []ResultItem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	_ = w.Write([]string{"prompt", "model", "provider", "snapshots", "first_snapshot_ms", "duration_ms", "error", "response"})
	for _, it := range items {
		_ = w.Write([]string{
			it.Prompt,
			it.Model,
			it.Provider,
			strconv.Itoa(it.Snapshots),
			strconv.FormatInt(it.FirstSnapshotMs, 10),
			strconv.FormatInt(it.DurationMs, 10),
			it.Error,
			it.Response,
		})
	}
	w.Flush()
	return w.Error()
}

func main() {
	config.Load()
	zl, err := logger.Init(config.IsProduction)
	if err != nil {
		fmt.Println("logger:", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := logger.Named("compare")

	prompts, err := readPrompts()
	if err != nil {
		log.Fatal("prompts", zap.Error(err))
	}

	only := os.Getenv("COMPARE_ONLY")
	targets := selectModels(models.Catalog(), only)
	if len(targets) == 0 {
		log.Fatal("no models selected", zap.String("only", only))
	}

	timeoutSec := 60
	if v, e := strconv.Atoi(strings.TrimSpace(os.Getenv("COMPARE_TIMEOUT_SEC"))); e == nil && v > 0 {
		timeoutSec = v
	}
	// pause between calls to stay under provider rate limits
	sleepMs := 600
	if v, e := strconv.Atoi(strings.TrimSpace(os.Getenv("COMPARE_SLEEP_MS"))); e == nil && v >= 0 {
		sleepMs = v
	}

	adapter := svc.NewAdapterFromConfig()
	started := time.Now()
	runID := fmt.Sprintf("compare-%s-%06d", started.Format("20060102-150405"), rand.Intn(1000000))

	ids := make([]string, 0, len(targets))
	for _, m := range targets {
		ids = append(ids, m.ID)
	}
	log.Info("starting run", zap.String("run_id", runID), zap.Int("prompts", len(prompts)), zap.Strings("models", ids))

	results := make([]ResultItem, 0, len(prompts)*len(targets))
	for _, p := range prompts {
		for _, m := range targets {
			r := runOnce(adapter, m, p, time.Duration(timeoutSec)*time.Second)
			if isQuotaError(r.Error) {
				delay := parseRetryDelay(r.Error)
				log.Warn("quota hit, retrying", zap.String("model", m.ID), zap.Int("delay_sec", delay))
				time.Sleep(time.Duration(delay) * time.Second)
				r = runOnce(adapter, m, p, time.Duration(timeoutSec)*time.Second)
			}
			results = append(results, r)
			fmt.Printf("[%s] %s -> %dms error=%v\n", m.ID, truncate(p, 64), r.DurationMs, r.Error != "")
			time.Sleep(time.Duration(sleepMs) * time.Millisecond)
		}
	}

	outDir := strings.TrimSpace(os.Getenv("COMPARE_OUT_DIR"))
	if outDir == "" {
		outDir = filepath.Join("cmd", "compare", "results")
	}
	if err := ensureDir(outDir); err != nil {
		log.Fatal("results dir", zap.Error(err))
	}
	stamp := time.Now().Format("20060102-150405")
	jsonPath := filepath.Join(outDir, fmt.Sprintf("compare-%s.json", stamp))
	csvPath := filepath.Join(outDir, fmt.Sprintf("compare-%s.csv", stamp))

	summary := RunSummary{
		RunID:        runID,
		StartedAt:    started.Format(time.RFC3339),
		EndedAt:      time.Now().Format(time.RFC3339),
		Env:          config.AppEnv,
		Temperature:  svc.Temperature,
		MaxTokens:    svc.MaxTokens,
		Models:       ids,
		Only:         strings.TrimSpace(only),
		TotalPrompts: len(prompts),
		Results:      results,
	}
	if err := writeJSON(jsonPath, summary); err != nil {
		log.Fatal("write json", zap.Error(err))
	}
	if err := writeCSV(csvPath, results); err != nil {
		log.Fatal("write csv", zap.Error(err))
	}

	fmt.Println("\nSaved:")
	fmt.Println(" -", jsonPath)
	fmt.Println(" -", csvPath)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// runOnce streams one answer so latency to the first snapshot is visible
// for streaming providers as well as the total.
func runOnce(adapter *svc.Adapter, m models.ModelDescriptor, prompt string, timeout time.Duration) ResultItem {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	t0 := time.Now()
	var first time.Duration
	var last svc.Snapshot
	n := 0
	for snap := range adapter.Stream(ctx, svc.Request{Model: m.ID, Prompt: prompt}) {
		if n == 0 {
			first = time.Since(t0)
		}
		n++
		last = snap
	}
	return ResultItem{
		Prompt:          prompt,
		Model:           m.ID,
		Provider:        string(m.Provider),
		Response:        strings.TrimSpace(last.Content),
		Error:           last.Error,
		Snapshots:       n,
		FirstSnapshotMs: first.Milliseconds(),
		DurationMs:      time.Since(t0).Milliseconds(),
		Timestamp:       time.Now().Format(time.RFC3339),
	}
}

func isQuotaError(errStr string) bool {
	if errStr == "" {
		return false
	}
	s := strings.ToLower(errStr)
	return strings.Contains(s, "resource_exhausted") || strings.Contains(s, "quota exceeded") ||
		strings.Contains(s, "status 429") || strings.Contains(s, "rate limit")
}

// parseRetryDelay reads the seconds out of a '"retryDelay": "43s"' hint and
// falls back to 45.
func parseRetryDelay(errStr string) int {
	idx := strings.Index(errStr, "retryDelay")
	if idx < 0 {
		return 45
	}
	sub := errStr[idx:]
	start := strings.IndexAny(sub, "0123456789")
	if start < 0 {
		return 45
	}
	end := start
	for end < len(sub) && sub[end] >= '0' && sub[end] <= '9' {
		end++
	}
	if v, e := strconv.Atoi(sub[start:end]); e == nil && v > 0 {
		return v
	}
	return 45
}
