package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/thiagokokada/bundle-blame/internal/stats"
)

const maxWorkers = 8

// Sizer returns the measured size of one output file.
type Sizer func(path string) (int64, error)

// GzipSize is the length of the file compressed with gzip at the default
// level.
func GzipSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return gzipLen(f)
}

func gzipLen(r io.Reader) (int64, error) {
	var cw countingWriter
	zw := gzip.NewWriter(&cw)
	if _, err := io.Copy(zw, r); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type MeasureOptions struct {
	Extensions []string
	// Workers bounds concurrent pages. Zero picks min(NumCPU, 8).
	Workers int
	Sizer   Sizer
}

// memo holds one sizing result per file for a single Measure call. A file
// shared by several pages is sized once even when those pages run in
// parallel.
type memo struct {
	mu    sync.Mutex
	files map[string]*memoEntry
	sizer Sizer
}

type memoEntry struct {
	once sync.Once
	size int64
	err  error
}

func (m *memo) size(path string) (int64, error) {
	m.mu.Lock()
	e, ok := m.files[path]
	if !ok {
		e = &memoEntry{}
		m.files[path] = e
	}
	m.mu.Unlock()

	e.once.Do(func() { e.size, e.err = m.sizer(path) })
	return e.size, e.err
}

type pageJob struct {
	page  string
	files []string
}

type pageResult struct {
	page string
	size int64
	err  error
}

// Measure sums the sizes of each page's files under root. Files whose
// extension is not listed are skipped. The first error cancels the rest and
// is the one returned.
func Measure(ctx context.Context, root string, pages map[string][]string, opts MeasureOptions) (stats.Stats, error) {
	if opts.Sizer == nil {
		opts.Sizer = GzipSize
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), maxWorkers)
	}
	workers = min(workers, max(len(pages), 1))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	m := &memo{files: make(map[string]*memoEntry), sizer: opts.Sizer}
	jobs := make(chan pageJob)
	results := make(chan pageResult, len(pages))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				size, err := measurePage(ctx, m, root, job.files, opts.Extensions)
				if err != nil {
					cancel(fmt.Errorf("page %s: %w", job.page, err))
				}
				results <- pageResult{page: job.page, size: size, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, page := range sortedKeys(pages) {
			select {
			case jobs <- pageJob{page: page, files: pages[page]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(stats.Stats, len(pages))
	for r := range results {
		if r.err == nil {
			out[r.page] = r.size
		}
	}
	// The first failing page cancels with its own error as the cause.
	if ctx.Err() != nil && len(out) < len(pages) {
		return nil, context.Cause(ctx)
	}
	return out, nil
}

func measurePage(ctx context.Context, m *memo, root string, files, exts []string) (int64, error) {
	var total int64
	for _, file := range files {
		if !hasExtension(file, exts) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		path, err := resolve(root, file)
		if err != nil {
			return 0, err
		}
		size, err := m.size(path)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// resolve joins a manifest path onto root and refuses paths that escape it.
func resolve(root, file string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(file))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output file %q is outside %s", file, root)
	}
	return filepath.Join(root, rel), nil
}

func hasExtension(file string, exts []string) bool {
	return slices.ContainsFunc(exts, func(ext string) bool { return strings.HasSuffix(file, ext) })
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
