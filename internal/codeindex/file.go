package codeindex

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

// WriteFile stores the index as a gzip-compressed bloom filter.
func (idx *Index) WriteFile(path string) (rerr error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "create index file")
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close index file")
		}
	}()

	gz := pgzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	if _, err := idx.filter.WriteTo(w); err != nil {
		return errors.Wrap(err, "write filter")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush filter")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return nil
}

// Load reads an index written by WriteFile.
func Load(path string) (*Index, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "open index file")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var filter bloom.BloomFilter
	if _, err := filter.ReadFrom(bufio.NewReader(gz)); err != nil {
		return nil, errors.Wrap(err, "read filter")
	}
	return &Index{filter: &filter}, nil
}
