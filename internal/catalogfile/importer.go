package catalogfile

import (
	"context"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

const (
	defaultExpectedSKUs = 1_000_000
	bloomFPR            = 0.001
	progressEvery       = 10_000
)

// ImportStats summarises an import run.
type ImportStats struct {
	Read       int
	Written    int
	Duplicates int
}

// Importer loads gzip-compressed NDJSON catalog files into a product.Writer.
// Files are decompressed concurrently; the first entry seen for a SKU wins
// and later ones are counted as duplicates.
type Importer struct {
	writer  product.Writer
	workers int

	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
	stats  ImportStats
}

// NewImporter creates an Importer writing with the given concurrency.
// expectedSKUs sizes the duplicate filter.
func NewImporter(w product.Writer, workers, expectedSKUs int) *Importer {
	if workers < 1 {
		workers = 1
	}
	if expectedSKUs < 1 {
		expectedSKUs = defaultExpectedSKUs
	}
	return &Importer{
		writer:  w,
		workers: workers,
		filter:  bloom.NewWithEstimates(uint(expectedSKUs), bloomFPR),
		seen:    make(map[string]struct{}),
	}
}

// Import streams every file and upserts the products.
func (im *Importer) Import(ctx context.Context, files []string) (ImportStats, error) {
	lg := zctx.From(ctx)
	products := make(chan product.Product, im.workers*4)

	g, gctx := errgroup.WithContext(ctx)
	var readers sync.WaitGroup
	for _, path := range files {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			n, err := readFile(gctx, path, products)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("File read", zap.String("path", path), zap.Int("entries", n))
			return nil
		})
	}
	g.Go(func() error {
		readers.Wait()
		close(products)
		return nil
	})
	for range im.workers {
		g.Go(func() error {
			for p := range products {
				if !im.claim(p) {
					continue
				}
				if err := im.writer.Upsert(gctx, &p); err != nil {
					return errors.Wrapf(err, "upsert %s", p.ID)
				}
				im.written(lg)
			}
			return nil
		})
	}
	err := g.Wait()

	im.mu.Lock()
	defer im.mu.Unlock()
	return im.stats, err
}

// claim reports whether p is the first entry with its SKU. Entries without
// a SKU are keyed by id. The bloom filter answers most misses without
// touching the exact set.
func (im *Importer) claim(p product.Product) bool {
	key := p.SKU
	if key == "" {
		key = "id:" + p.ID
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	im.stats.Read++
	if im.filter.TestOrAddString(key) {
		if _, dup := im.seen[key]; dup {
			im.stats.Duplicates++
			return false
		}
	}
	im.seen[key] = struct{}{}
	return true
}

func (im *Importer) written(lg *zap.Logger) {
	im.mu.Lock()
	im.stats.Written++
	n := im.stats.Written
	im.mu.Unlock()
	if n%progressEvery == 0 {
		lg.Info("Import progress", zap.Int("written", n))
	}
}

func readFile(ctx context.Context, path string, out chan<- product.Product) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	n := 0
	err = Stream(ctx, gz, func(p product.Product) error {
		select {
		case out <- p:
			n++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return n, err
}
