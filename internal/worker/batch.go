package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/policheck/internal/model"
)

// Analyzer analyzes one app
type Analyzer interface {
	AnalyzeApp(ctx context.Context, appID string) (*model.AppReport, error)
}

// AppJob analyzes one app
type AppJob struct {
	Index    int
	AppID    string
	Analyzer Analyzer
}

// Execute executes the analysis job
func (j *AppJob) Execute(ctx context.Context) Result {
	start := time.Now()
	res := &AppResult{Index: j.Index, AppID: j.AppID}

	if err := ctx.Err(); err != nil {
		res.Error = err
		return res
	}

	res.Report, res.Error = j.Analyzer.AnalyzeApp(ctx, j.AppID)
	res.Duration = time.Since(start)
	return res
}

// AppResult represents the result of an analysis job
type AppResult struct {
	Index    int
	AppID    string
	Report   *model.AppReport
	Duration time.Duration
	Error    error
}

// GetError returns the error from the analysis result
func (r *AppResult) GetError() error {
	return r.Error
}

// BatchProcessor analyzes many apps concurrently
type BatchProcessor struct {
	analyzer    Analyzer
	concurrency int
	progress    func(*AppResult)
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(analyzer Analyzer, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

// OnProgress registers fn to be called as each app finishes.
func (b *BatchProcessor) OnProgress(fn func(*AppResult)) {
	b.progress = fn
}

// ProcessApps analyzes apps concurrently and returns results in input order.
// Apps not started before ctx is cancelled are reported with ctx's error.
func (b *BatchProcessor) ProcessApps(ctx context.Context, apps []string) []*AppResult {
	if len(apps) == 0 {
		return []*AppResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	if b.progress != nil {
		pool.OnResult(func(r Result) {
			b.progress(r.(*AppResult))
		})
	}
	pool.Start()

	submitted := 0
	for i, app := range apps {
		if !pool.Submit(&AppJob{Index: i, AppID: app, Analyzer: b.analyzer}) {
			break
		}
		submitted++
	}

	results := pool.Wait()

	out := make([]*AppResult, 0, len(apps))
	done := make(map[int]bool, len(results))
	for _, r := range results {
		ar := r.(*AppResult)
		done[ar.Index] = true
		out = append(out, ar)
	}
	for i, app := range apps {
		if !done[i] {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out = append(out, &AppResult{Index: i, AppID: app, Error: err})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ProcessFile reads app ids from a file and analyzes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*AppResult, error) {
	apps, err := ReadAppIDsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read app ids: %w", err)
	}

	return b.ProcessApps(ctx, apps), nil
}

// ReadAppIDsFromFile reads app ids from a file (one per line)
func ReadAppIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var apps []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			apps = append(apps, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return apps, nil
}
