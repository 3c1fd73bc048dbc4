package catalogfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

const sampleCatalog = `[
  {"id":"p1","sku":"W-1","title":"Widget","basePrice":"12.00","salePrice":null,
   "tiers":[{"minQuantity":10,"discountPrice":9},{"minQuantity":25,"discountPercentage":"15"}],
   "groupPrices":[{"customerGroup":"dealer","price":"7.5"}]},
  {"id":"g1","title":"Bundle","mode":"grouped","children":[
    {"product":{"id":"a","title":"A","basePrice":10},"sortOrder":2},
    {"product":{"id":"b","title":"B","basePrice":12},"isDefault":true,"sortOrder":1}]},
  {"id":"mag","title":"Magazine","mode":"variable","isSubscription":true,"basePrice":"55",
   "options":[{"name":"Plan","values":[{"label":"Yearly","value":"yearly","priceModifier":"0",
     "subscription":{"type":"yearly","issues":12,"discountPercentage":"20","autoRenew":true}}]}]},
  {"id":"box","title":"Cookie box","mode":"mix_and_match","boxes":[{"size":6,"price":"30"}]}
]`

func TestReadAll(t *testing.T) {
	products, err := ReadAll(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, products, 4)

	widget := products[0]
	assert.Equal(t, product.ModeSimple, widget.Mode)
	assert.Equal(t, 1, widget.MinOrderQuantity)
	assert.Equal(t, 1, widget.OrderMultiple)
	assert.True(t, decimal.NewFromInt(12).Equal(widget.BasePrice.Decimal))
	assert.False(t, widget.SalePrice.Valid)
	require.Len(t, widget.Tiers, 2)
	assert.True(t, decimal.NewFromInt(9).Equal(widget.Tiers[0].DiscountPrice.Decimal))
	assert.False(t, widget.Tiers[0].DiscountPercentage.Valid)
	require.Len(t, widget.GroupPrices, 1)
	assert.Equal(t, 1, widget.GroupPrices[0].MinQuantity)

	bundle := products[1]
	assert.False(t, bundle.BasePrice.Valid)
	require.Len(t, bundle.Children, 2)
	assert.Equal(t, "b", bundle.SortedChildren()[0].Product.ID)

	mag := products[2]
	require.NotNil(t, mag.Options[0].Values[0].Plan)
	assert.Equal(t, 12, mag.Options[0].Values[0].Plan.Issues)

	require.Len(t, products[3].Boxes, 1)
	assert.Equal(t, 6, products[3].Boxes[0].Size)
	assert.True(t, decimal.NewFromInt(30).Equal(products[3].Boxes[0].Price))
}

func TestEntryProduct_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		msg   string
	}{
		{name: "no id", entry: Entry{Title: "x"}, msg: "without id"},
		{name: "unknown mode", entry: Entry{ID: "p", Mode: "bundle"}, msg: "unknown mode"},
		{name: "negative price", entry: Entry{ID: "p", BasePrice: decimal.NewNullDecimal(decimal.NewFromInt(-1))}, msg: "negative price"},
		{name: "tier below one", entry: Entry{ID: "p", Tiers: []Tier{{MinQuantity: 0}}}, msg: "tier min quantity"},
		{name: "empty box", entry: Entry{ID: "p", Boxes: []Box{{Size: 0}}}, msg: "box size"},
		{name: "bad child", entry: Entry{ID: "p", Children: []Child{{Product: Entry{ID: "c", Mode: "?"}}}}, msg: "child of p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.entry.Product()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestStream(t *testing.T) {
	doc := `{"id":"p1","title":"A","basePrice":1}

{"id":"p2","title":"B","basePrice":2}
`
	var ids []string
	err := Stream(context.Background(), strings.NewReader(doc), func(p product.Product) error {
		ids = append(ids, p.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	err = Stream(context.Background(), strings.NewReader("{\"id\":\"p1\"}\n{oops"), func(product.Product) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

// --- Importer ---

type recordingWriter struct {
	mu      sync.Mutex
	written map[string]product.Product
	failOn  string
}

func (w *recordingWriter) Upsert(_ context.Context, p *product.Product) error {
	if p.ID == w.failOn {
		return errors.New("constraint violation")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written[p.ID] = *p
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter(t *testing.T) {
	dir := t.TempDir()
	first := writeGz(t, dir, "a.ndjson.gz",
		`{"id":"p1","sku":"S-1","title":"One","basePrice":1}`,
		`{"id":"p2","sku":"S-2","title":"Two","basePrice":2}`,
	)
	second := writeGz(t, dir, "b.ndjson.gz",
		`{"id":"p3","sku":"S-1","title":"One again","basePrice":1}`,
		`{"id":"p4","title":"No sku","basePrice":4}`,
	)

	w := &recordingWriter{written: map[string]product.Product{}}
	stats, err := NewImporter(w, 3, 100).Import(context.Background(), []string{first, second})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Read)
	assert.Equal(t, 3, stats.Written)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Contains(t, w.written, "p2")
	assert.Contains(t, w.written, "p4")
	// Exactly one of the two S-1 entries is kept.
	_, has1 := w.written["p1"]
	_, has3 := w.written["p3"]
	assert.True(t, has1 != has3)
}

func TestImporter_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeGz(t, dir, "good.ndjson.gz", `{"id":"p1","title":"One","basePrice":1}`)

	t.Run("missing file", func(t *testing.T) {
		w := &recordingWriter{written: map[string]product.Product{}}
		_, err := NewImporter(w, 1, 0).Import(context.Background(), []string{good, filepath.Join(dir, "nope.gz")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope.gz")
	})
	t.Run("writer failure", func(t *testing.T) {
		w := &recordingWriter{written: map[string]product.Product{}, failOn: "p1"}
		_, err := NewImporter(w, 2, 0).Import(context.Background(), []string{good})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upsert p1")
	})
	t.Run("not gzip", func(t *testing.T) {
		plain := filepath.Join(dir, "plain.ndjson.gz")
		require.NoError(t, os.WriteFile(plain, []byte(`{"id":"p1"}`), 0o600))
		w := &recordingWriter{written: map[string]product.Product{}}
		_, err := NewImporter(w, 1, 0).Import(context.Background(), []string{plain})
		require.Error(t, err)
	})
}
