// Package codeindex is a bloom filter of known coupon codes, built from
// gzip-compressed code dumps and consulted before the campaign lookup.
package codeindex

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

const (
	DefaultCapacity = 1_000_000
	DefaultFPR      = 0.001
	DefaultMinLen   = 4
	DefaultMaxLen   = 32
	progressEvery   = 10_000_000
)

// Options tune Build.
type Options struct {
	// Capacity is the expected number of codes per source.
	Capacity uint
	// FPR is the target false positive rate.
	FPR float64
	// MinLen and MaxLen bound accepted code lengths.
	MinLen int
	MaxLen int
	// Quorum is how many sources must list a code for it to be indexed.
	// Zero means 2 when there are several sources and 1 otherwise.
	Quorum int
	Logger *zap.Logger
}

func (o *Options) setDefaults(sources int) {
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.FPR <= 0 || o.FPR >= 1 {
		o.FPR = DefaultFPR
	}
	if o.MinLen <= 0 {
		o.MinLen = DefaultMinLen
	}
	if o.MaxLen <= 0 {
		o.MaxLen = DefaultMaxLen
	}
	if o.Quorum <= 0 {
		o.Quorum = 2
		if sources < 2 {
			o.Quorum = 1
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Index answers whether a code may exist. A negative answer is definitive.
type Index struct {
	filter *bloom.BloomFilter
	count  int
}

var _ coupon.Prefilter = (*Index)(nil)

// MayContain reports whether code may be a known code.
func (idx *Index) MayContain(code string) bool {
	return idx.filter.TestString(coupon.NormalizeCode(code))
}

// Count returns the number of codes added at build time, zero for a loaded
// index.
func (idx *Index) Count() int {
	return idx.count
}

// fileResult holds candidate codes found in a single source during pass 2.
type fileResult struct {
	candidates map[string]uint
}

// Build indexes the codes listed by at least Quorum of the sources. Each
// source is a gzip file with one code per line. Sources are scanned
// concurrently in two passes: the first builds one filter per source, the
// second collects codes seen by the other sources' filters.
func Build(ctx context.Context, sources []string, opts Options) (*Index, error) {
	if len(sources) == 0 {
		return nil, errors.New("no sources")
	}
	if len(sources) > bits.UintSize {
		return nil, errors.Errorf("too many sources: %d", len(sources))
	}
	opts.setDefaults(len(sources))

	var codes []string
	if opts.Quorum == 1 && len(sources) == 1 {
		set, err := collect(ctx, sources[0], opts)
		if err != nil {
			return nil, err
		}
		codes = set
	} else {
		filters, err := buildFilters(ctx, sources, opts)
		if err != nil {
			return nil, errors.Wrap(err, "build source filters")
		}
		codes, err = findQuorum(ctx, sources, filters, opts)
		if err != nil {
			return nil, errors.Wrap(err, "find quorum codes")
		}
	}

	filter := bloom.NewWithEstimates(uint(max(len(codes), 1)), opts.FPR)
	for _, c := range codes {
		filter.AddString(c)
	}
	opts.Logger.Info("Code index built",
		zap.Int("sources", len(sources)),
		zap.Int("codes", len(codes)),
		zap.Int("quorum", opts.Quorum),
	)
	return &Index{filter: filter, count: len(codes)}, nil
}

func collect(ctx context.Context, path string, opts Options) ([]string, error) {
	seen := make(map[string]struct{})
	if err := streamGzFile(ctx, path, func(code string) {
		if code, ok := accept(code, opts); ok {
			seen[code] = struct{}{}
		}
	}); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	return codes, nil
}

func buildFilters(ctx context.Context, sources []string, opts Options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range sources {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.Capacity, opts.FPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				code, ok := accept(code, opts)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					opts.Logger.Info("Pass 1 progress", zap.Int("source", i+1), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "source %d", i+1)
			}
			opts.Logger.Debug("Pass 1 complete", zap.Int("source", i+1), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findQuorum re-streams each source and marks the codes that appear in other
// sources' filters. A code is kept when its source bitmask reaches the quorum.
func findQuorum(ctx context.Context, sources []string, filters []*bloom.BloomFilter, opts Options) ([]string, error) {
	results := make([]fileResult, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range sources {
		g.Go(func() error {
			candidates := make(map[string]uint)
			if err := streamGzFile(ctx, path, func(code string) {
				code, ok := accept(code, opts)
				if !ok {
					return
				}
				mask := uint(1) << uint(i)
				for j, f := range filters {
					if j != i && f.TestString(code) {
						mask |= uint(1) << uint(j)
					}
				}
				if bits.OnesCount(mask) >= opts.Quorum {
					candidates[code] |= mask
				}
			}); err != nil {
				return errors.Wrapf(err, "source %d", i+1)
			}
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]struct{})
	for _, r := range results {
		for code := range r.candidates {
			merged[code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(merged))
	for c := range merged {
		codes = append(codes, c)
	}
	return codes, nil
}

func accept(code string, opts Options) (string, bool) {
	code = coupon.NormalizeCode(code)
	if len(code) < opts.MinLen || len(code) > opts.MaxLen {
		return "", false
	}
	return code, true
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
