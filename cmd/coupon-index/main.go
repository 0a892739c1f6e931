package main

import (
	"context"
	"flag"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/codeindex"
)

func main() {
	var (
		dataDir  string
		pattern  string
		out      string
		quorum   int
		capacity uint
		fpr      float64
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip code dumps")
	flag.StringVar(&pattern, "pattern", "*.gz", "glob of code dumps inside data-dir")
	flag.StringVar(&out, "out", "coupon-index.bloom.gz", "output index file")
	flag.IntVar(&quorum, "quorum", 0, "number of dumps that must list a code (0: 2 for several dumps, else 1)")
	flag.UintVar(&capacity, "capacity", codeindex.DefaultCapacity, "expected codes per dump")
	flag.Float64Var(&fpr, "fpr", codeindex.DefaultFPR, "bloom filter false positive rate")
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		sources, err := filepath.Glob(filepath.Join(dataDir, pattern))
		if err != nil {
			return errors.Wrap(err, "glob sources")
		}
		if len(sources) == 0 {
			return errors.Errorf("no files match %s in %s", pattern, dataDir)
		}
		sort.Strings(sources)
		lg.Info("Building coupon index", zap.Strings("sources", sources))

		idx, err := codeindex.Build(ctx, sources, codeindex.Options{
			Capacity: capacity,
			FPR:      fpr,
			Quorum:   quorum,
			Logger:   lg,
		})
		if err != nil {
			return errors.Wrap(err, "build index")
		}
		if err := idx.WriteFile(out); err != nil {
			return errors.Wrap(err, "write index")
		}

		lg.Info("Coupon index written", zap.String("path", out), zap.Int("codes", idx.Count()))
		return nil
	})
}
