package fetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/model"
)

// Format names the on-the-wire layout of a dataset export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DatasetSpec describes where and how to retrieve one source's dataset for
// a category. The URL may contain a {category_id} placeholder.
type DatasetSpec struct {
	SourceID  model.SourceID `yaml:"source" mapstructure:"source"`
	URL       string         `yaml:"url" mapstructure:"url"`
	Format    Format         `yaml:"format" mapstructure:"format"`
	Column    string         `yaml:"column" mapstructure:"column"`
	Delimiter string         `yaml:"delimiter" mapstructure:"delimiter"`
	SheetName string         `yaml:"sheet" mapstructure:"sheet"`
}

// DatasetFetcher resolves dataset specs into the raw text rows extraction
// consumes. URLs with an ftp scheme go through the FTP downloader, file
// URLs read the local filesystem, everything else goes over HTTP.
type DatasetFetcher struct {
	http Downloader
	ftp  Downloader
}

// NewDatasetFetcher wires the HTTP and FTP downloaders.
func NewDatasetFetcher(httpDL, ftpDL Downloader) *DatasetFetcher {
	return &DatasetFetcher{http: httpDL, ftp: ftpDL}
}

// FetchRows downloads the dataset and returns the values of the configured
// text column, one entry per logical record, empty values dropped.
func (d *DatasetFetcher) FetchRows(ctx context.Context, spec DatasetSpec, categoryID string) ([]string, error) {
	rawURL := strings.ReplaceAll(spec.URL, "{category_id}", url.PathEscape(categoryID))

	local, cleanup, err := d.materialize(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s dataset", spec.SourceID)
	}
	defer cleanup()

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dir, err := os.MkdirTemp("", "speclens-zip-*")
		if err != nil {
			return nil, eris.Wrap(err, "fetch: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		local, err = ExtractZIPSingle(local, dir)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: %s dataset", spec.SourceID)
		}
	}

	var rows []string
	switch spec.Format {
	case FormatCSV, "":
		rows, err = d.readCSVColumn(ctx, local, spec)
	case FormatXLSX:
		rows, err = d.readXLSXColumn(local, spec)
	case FormatJSON:
		rows, err = d.readJSONColumn(ctx, local, spec)
	default:
		return nil, eris.Errorf("fetch: unsupported dataset format %q", spec.Format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s dataset", spec.SourceID)
	}

	zap.L().Info("dataset fetched",
		zap.String("source", string(spec.SourceID)),
		zap.String("category_id", categoryID),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// FetchPayload downloads a URL and returns the whole body. Used for the
// expert specification payload.
func (d *DatasetFetcher) FetchPayload(ctx context.Context, rawURL, categoryID string) ([]byte, error) {
	rawURL = strings.ReplaceAll(rawURL, "{category_id}", url.PathEscape(categoryID))

	rc, err := d.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read payload")
	}
	return data, nil
}

// open returns a streaming reader for the URL.
func (d *DatasetFetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}

	switch u.Scheme {
	case "ftp":
		return d.ftp.Download(ctx, rawURL)
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		f, err := os.Open(path)
		return f, eris.Wrap(err, "fetch: open local file")
	default:
		return d.http.Download(ctx, rawURL)
	}
}

// materialize makes the URL available as a local file and returns its path
// plus a cleanup func. Local paths are returned as-is.
func (d *DatasetFetcher) materialize(ctx context.Context, rawURL string) (string, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}

	if u.Scheme == "" {
		return rawURL, func() {}, nil
	}
	if u.Scheme == "file" {
		return u.Path, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "speclens-dataset-*"+filepath.Ext(u.Path))
	if err != nil {
		return "", nil, eris.Wrap(err, "fetch: temp file")
	}
	tmp.Close() //nolint:errcheck

	dl := d.http
	if u.Scheme == "ftp" {
		dl = d.ftp
	}
	if _, err := dl.DownloadToFile(ctx, rawURL, tmp.Name()); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil //nolint:errcheck
}

func (d *DatasetFetcher) readCSVColumn(ctx context.Context, path string, spec DatasetSpec) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open csv")
	}
	defer f.Close() //nolint:errcheck

	opts := CSVOptions{HasHeader: spec.Column != "", TrimSpace: true}
	if spec.Delimiter != "" {
		opts.Delimiter = rune(spec.Delimiter[0])
	}

	headerCh := make(chan []string, 1)
	if opts.HasHeader {
		opts.HeaderCh = headerCh
	}

	rowCh, errCh := StreamCSV(ctx, f, opts)

	col := 0
	if opts.HasHeader {
		header, ok := <-headerCh
		if ok {
			col, err = columnIndex(header, spec.Column)
			if err != nil {
				// Drain before returning so the goroutine exits.
				for range rowCh {
				}
				<-errCh
				return nil, err
			}
		}
	}

	var rows []string
	for record := range rowCh {
		if col < len(record) && record[col] != "" {
			rows = append(rows, record[col])
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *DatasetFetcher) readXLSXColumn(path string, spec DatasetSpec) ([]string, error) {
	records, err := ReadXLSX(path, XLSXOptions{SheetName: spec.SheetName})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := 0
	start := 0
	if spec.Column != "" {
		col, err = columnIndex(records[0], spec.Column)
		if err != nil {
			return nil, err
		}
		start = 1
	}

	var rows []string
	for _, record := range records[start:] {
		if col < len(record) {
			if v := strings.TrimSpace(record[col]); v != "" {
				rows = append(rows, v)
			}
		}
	}
	return rows, nil
}

func (d *DatasetFetcher) readJSONColumn(ctx context.Context, path string, spec DatasetSpec) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open json")
	}
	defer f.Close() //nolint:errcheck

	field := spec.Column
	if field == "" {
		field = "text"
	}

	outCh, errCh := DecodeJSONArray[map[string]any](ctx, f)

	var rows []string
	for obj := range outCh {
		if v, ok := obj[field].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				rows = append(rows, v)
			}
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, nil
		}
	}
	return 0, eris.Errorf("fetch: column %q not found in header", name)
}
