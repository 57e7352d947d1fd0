package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/fsutil"
	"github.com/agentworkforce/pagekeeper/internal/pagedoc"
)

// Downloader hands a document to the user when it could not reach the
// remote store. It returns where the document was written.
type Downloader interface {
	Offer(ctx context.Context, filename string, doc *pagedoc.Document) (string, error)
}

// FileDownloader writes offered documents into Dir.
type FileDownloader struct {
	Dir string
	// PagesDir is where the remote store reads pages from, mentioned in the
	// relocation hint when known.
	PagesDir string
	Logger   *zap.SugaredLogger
}

func (d FileDownloader) Offer(ctx context.Context, filename string, doc *pagedoc.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if !pagedoc.IsFilename(filename) {
		filename = pagedoc.Filename(doc.Title())
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("download: encode %s: %w", filename, err)
	}
	path := filepath.Join(d.Dir, filename)
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("download: write %s: %w", path, err)
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	target := d.PagesDir
	if target == "" {
		target = "the page server's pages directory"
	}
	logger.Infow("page saved as file; move it to "+target+" to publish it", "path", path)
	return path, nil
}
