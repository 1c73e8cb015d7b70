// Package scanner walks a source tree and extracts SQL segments from its
// files with a pool of workers.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"sql-guard/internal/logging"
	"sql-guard/internal/metrics"
	"sql-guard/internal/model"

	"go.uber.org/zap"
)

// FileWalker is responsible for traversing directories and feeding files to a channel
type FileWalker struct {
	Extensions map[string]struct{}
	Excludes   []string
}

func NewFileWalker(exts []string, excludes []string) *FileWalker {
	e := make(map[string]struct{})
	for _, ext := range exts {
		e[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &FileWalker{
		Extensions: e,
		Excludes:   excludes,
	}
}

// Walk starts the traversal and returns a channel of file paths.
// It runs in a separate goroutine and closes both channels when done.
func (fw *FileWalker) Walk(ctx context.Context, root string) (<-chan string, <-chan error) {
	paths := make(chan string, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(paths)
		defer close(errs)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			// TODO: honour .gitignore files in the walked tree.

			if path == root && d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			if d.IsDir() {
				if fw.excluded(rel, d.Name()) {
					return filepath.SkipDir
				}
				if strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir // hidden directories such as .git
				}
				return nil
			}

			if fw.excluded(rel, d.Name()) {
				return nil
			}
			if _, ok := fw.Extensions[extension(path)]; !ok {
				return nil
			}
			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})

		if err != nil {
			errs <- err
		}
	}()

	return paths, errs
}

// excluded matches an exclude as a glob on the base name or a substring of
// the path relative to the walk root.
func (fw *FileWalker) excluded(rel, name string) bool {
	for _, exclude := range fw.Excludes {
		if matched, _ := filepath.Match(exclude, name); matched {
			return true
		}
		if strings.Contains(filepath.ToSlash(rel), exclude) {
			return true
		}
	}
	return false
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

type ScanResult struct {
	File     string
	Segments []model.SQLSegment
	Error    error
}

// Processor extracts the segments of one file.
type Processor func(path string) ([]model.SQLSegment, error)

// WorkerPool manages concurrent processing
type WorkerPool struct {
	Concurrency int
	Processor   Processor
}

func NewWorkerPool(concurrency int, proc Processor) *WorkerPool {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		Concurrency: concurrency,
		Processor:   proc,
	}
}

// Start processes paths until the channel closes or ctx is done. The result
// channel closes once every worker has returned.
func (wp *WorkerPool) Start(ctx context.Context, paths <-chan string) <-chan ScanResult {
	results := make(chan ScanResult)
	var wg sync.WaitGroup

	for i := 0; i < wp.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if ctx.Err() != nil {
					return
				}
				segs, err := wp.Processor(path)
				// Extraction errors are sent too so they can be reported.
				select {
				case results <- ScanResult{File: path, Segments: segs, Error: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Options configures Scan.
type Options struct {
	Extensions  []string
	Excludes    []string
	Concurrency int
	Logger      *zap.Logger
	Metrics     metrics.Collector
}

// Report is the outcome of a scan.
type Report struct {
	Files    int
	Segments []model.SQLSegment
	// FileErrors holds extraction failures by path. They do not stop the scan.
	FileErrors map[string]error
}

// Scan walks root and extracts segments from every matching file. Segments
// are ordered by file and line. The error is a walk failure or ctx's error.
func Scan(ctx context.Context, root string, proc Processor, opts Options) (*Report, error) {
	logger := logging.OrNop(opts.Logger)
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	walker := NewFileWalker(opts.Extensions, opts.Excludes)
	paths, walkErrs := walker.Walk(ctx, root)
	results := NewWorkerPool(opts.Concurrency, proc).Start(ctx, paths)

	report := &Report{FileErrors: make(map[string]error)}
	for res := range results {
		report.Files++
		if res.Error != nil {
			logger.Debug("extraction failed", zap.String("file", res.File), zap.Error(res.Error))
			report.FileErrors[res.File] = res.Error
			continue
		}
		report.Segments = append(report.Segments, res.Segments...)
		for _, seg := range res.Segments {
			collector.IncrementCounter(metrics.ScannedSegmentsTotal, "language", seg.Language)
		}
	}

	if err := <-walkErrs; err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	sort.SliceStable(report.Segments, func(i, j int) bool {
		a, b := report.Segments[i].Location, report.Segments[j].Location
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Line < b.Line
	})
	logger.Debug("scan complete",
		zap.String("root", root),
		zap.Int("files", report.Files),
		zap.Int("segments", len(report.Segments)),
		zap.Int("file_errors", len(report.FileErrors)))
	return report, nil
}
