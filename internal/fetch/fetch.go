// Package fetch downloads category datasets over HTTP and FTP and parses
// CSV, XLSX, JSON, and zipped exports into the row slices extraction
// consumes.
package fetch

import (
	"context"
	"io"
)

// Downloader retrieves remote dataset payloads.
type Downloader interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path.
	// Returns bytes written. Used for formats that need a seekable file.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
