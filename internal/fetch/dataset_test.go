package fetch

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/speclens/internal/model"
)

func testDatasetFetcher() *DatasetFetcher {
	return NewDatasetFetcher(fastHTTPFetcher(), NewFTPFetcher(FTPOptions{Timeout: time.Second}))
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFetchRows_LocalCSVByColumnName(t *testing.T) {
	path := writeTempFile(t, "chats.csv", "user,message\nu1,need 500kg machine\nu2,\nu3,what is motor power\n")

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceLMSChats,
		URL:      path,
		Format:   FormatCSV,
		Column:   "message",
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"need 500kg machine", "what is motor power"}, rows)
}

func TestFetchRows_CSVColumnMissing(t *testing.T) {
	path := writeTempFile(t, "chats.csv", "user,message\nu1,hello\n")

	_, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceLMSChats,
		URL:      path,
		Format:   FormatCSV,
		Column:   "body",
	}, "flour-mill")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "body" not found`)
}

func TestFetchRows_CSVNoHeaderFirstColumn(t *testing.T) {
	path := writeTempFile(t, "keywords.csv", "atta chakki 500kg\nflour mill price\n")

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceSearchKeywords,
		URL:      path,
		Format:   FormatCSV,
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"atta chakki 500kg", "flour mill price"}, rows)
}

func TestFetchRows_HTTPWithCategoryPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/flour-mill/keywords.csv", r.URL.Path)
		w.Write([]byte("query\natta chakki\n")) //nolint:errcheck
	}))
	defer srv.Close()

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceSearchKeywords,
		URL:      srv.URL + "/datasets/{category_id}/keywords.csv",
		Format:   FormatCSV,
		Column:   "query",
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"atta chakki"}, rows)
}

func TestFetchRows_JSONField(t *testing.T) {
	path := writeTempFile(t, "comments.json",
		`[{"text":"price too high for 5hp"},{"text":""},{"other":1},{"text":"need SS body"}]`)

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceRejectionComments,
		URL:      path,
		Format:   FormatJSON,
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"price too high for 5hp", "need SS body"}, rows)
}

func TestFetchRows_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Specs")
	require.NoError(t, err)
	for _, rec := range [][]string{{"user", "message"}, {"u1", "500 kg capacity"}, {"u2", ""}} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "specs.xlsx")
	require.NoError(t, f.Save(path))

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID:  model.SourceWhatsappSpecs,
		URL:       path,
		Format:    FormatXLSX,
		Column:    "message",
		SheetName: "Specs",
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"500 kg capacity"}, rows)
}

func TestFetchRows_ZippedCSV(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "export.zip")

	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("export.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("message\nzipped row\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	rows, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceLMSChats,
		URL:      zipPath,
		Format:   FormatCSV,
		Column:   "message",
	}, "flour-mill")

	require.NoError(t, err)
	assert.Equal(t, []string{"zipped row"}, rows)
}

func TestFetchPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pns/flour-mill", r.URL.Path)
		w.Write([]byte(`{"spec_summary":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	data, err := testDatasetFetcher().FetchPayload(context.Background(), srv.URL+"/pns/{category_id}", "flour-mill")
	require.NoError(t, err)
	assert.JSONEq(t, `{"spec_summary":{}}`, string(data))
}

func TestFetchRows_UnsupportedFormat(t *testing.T) {
	path := writeTempFile(t, "data.bin", "x")

	_, err := testDatasetFetcher().FetchRows(context.Background(), DatasetSpec{
		SourceID: model.SourceLMSChats,
		URL:      path,
		Format:   "parquet",
	}, "flour-mill")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dataset format")
}
