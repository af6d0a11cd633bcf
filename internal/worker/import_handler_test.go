package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorops/backend/internal/domain"
)

type stubImporter struct {
	summary *ImportSummary
	err     error

	gotVendor string
	gotKind   string
	gotParams *domain.ImportParams
}

func (s *stubImporter) Import(_ context.Context, vendorID, kind string, params *domain.ImportParams, _ ProgressFunc) (*ImportSummary, error) {
	s.gotVendor = vendorID
	s.gotKind = kind
	s.gotParams = params
	return s.summary, s.err
}

func TestImportHandler_Success(t *testing.T) {
	importer := &stubImporter{summary: &ImportSummary{RowsTotal: 10, RowsImported: 9, RowsSkipped: 1}}
	handler := NewImportHandler(importer)

	job := testJob("job-1", domain.KindProductsImport)
	result, err := handler(context.Background(), job, func(int, json.RawMessage) {})

	require.NoError(t, err)

	var summary ImportSummary
	require.NoError(t, json.Unmarshal(result, &summary))
	assert.Equal(t, 10, summary.RowsTotal)
	assert.Equal(t, 9, summary.RowsImported)
	assert.Equal(t, 1, summary.RowsSkipped)

	assert.Equal(t, "acme", importer.gotVendor)
	assert.Equal(t, domain.KindProductsImport, importer.gotKind)
	require.NotNil(t, importer.gotParams)
	assert.Equal(t, "a.csv", importer.gotParams.Path)
}

func TestImportHandler_CorruptParamsAreFatal(t *testing.T) {
	handler := NewImportHandler(&stubImporter{})

	job := testJob("job-1", domain.KindProductsImport)
	job.Params = json.RawMessage(`{"source":"csv"}`)

	_, err := handler(context.Background(), job, func(int, json.RawMessage) {})

	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestImportHandler_ImporterErrors(t *testing.T) {
	t.Run("plain error becomes retryable", func(t *testing.T) {
		importer := &stubImporter{err: errors.New("disk io stall")}
		handler := NewImportHandler(importer)

		_, err := handler(context.Background(), testJob("job-1", domain.KindCustomersImport), func(int, json.RawMessage) {})

		require.Error(t, err)
		assert.False(t, domain.IsFatal(err))
		assert.Contains(t, err.Error(), "disk io stall")
	})

	t.Run("fatal error passes through", func(t *testing.T) {
		importer := &stubImporter{err: domain.NewFatalError(errors.New("upload not found"))}
		handler := NewImportHandler(importer)

		_, err := handler(context.Background(), testJob("job-1", domain.KindCustomersImport), func(int, json.RawMessage) {})

		require.Error(t, err)
		assert.True(t, domain.IsFatal(err))
	})
}

func writeUpload(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCSVImporter_Import(t *testing.T) {
	dir := t.TempDir()
	// The blank line vanishes inside the csv reader; the ",," row arrives
	// as an all-empty record and counts as skipped.
	writeUpload(t, dir, "products.csv", "sku,name,price\nA-1,Widget,9.99\nA-2,Gadget,19.99\n\n,,\nA-3,Gizmo,4.50\n")

	importer := NewCSVImporter(dir, quietLogger())

	summary, err := importer.Import(context.Background(), "acme", domain.KindProductsImport,
		&domain.ImportParams{Source: "csv", Path: "products.csv"}, func(int, json.RawMessage) {})

	require.NoError(t, err)
	assert.Equal(t, 4, summary.RowsTotal)
	assert.Equal(t, 3, summary.RowsImported)
	assert.Equal(t, 1, summary.RowsSkipped)
}

func TestCSVImporter_CustomDelimiter(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "customers.csv", "email;name\na@x.com;Ann\nb@x.com;Bob\n")

	importer := NewCSVImporter(dir, quietLogger())

	summary, err := importer.Import(context.Background(), "acme", domain.KindCustomersImport,
		&domain.ImportParams{Source: "csv", Path: "customers.csv", Delimiter: ";"}, func(int, json.RawMessage) {})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.RowsImported)
}

func TestCSVImporter_MissingFileIsFatal(t *testing.T) {
	importer := NewCSVImporter(t.TempDir(), quietLogger())

	_, err := importer.Import(context.Background(), "acme", domain.KindProductsImport,
		&domain.ImportParams{Source: "csv", Path: "nope.csv"}, func(int, json.RawMessage) {})

	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestCSVImporter_UnsupportedSourceIsFatal(t *testing.T) {
	importer := NewCSVImporter(t.TempDir(), quietLogger())

	_, err := importer.Import(context.Background(), "acme", domain.KindProductsImport,
		&domain.ImportParams{Source: "sftp", Path: "x.csv"}, func(int, json.RawMessage) {})

	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestCSVImporter_PathCannotEscapeBaseDir(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Dir(dir)
	writeUpload(t, outside, "secret.csv", "a,b\n1,2\n")

	importer := NewCSVImporter(dir, quietLogger())

	_, err := importer.Import(context.Background(), "acme", domain.KindProductsImport,
		&domain.ImportParams{Source: "csv", Path: "../secret.csv"}, func(int, json.RawMessage) {})

	// Traversal is stripped; the importer looks for secret.csv inside the
	// staging dir, where it does not exist.
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestCSVImporter_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "products.csv", "a,b\n1,2\n")

	importer := NewCSVImporter(dir, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := importer.Import(ctx, "acme", domain.KindProductsImport,
		&domain.ImportParams{Source: "csv", Path: "products.csv"}, func(int, json.RawMessage) {})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
