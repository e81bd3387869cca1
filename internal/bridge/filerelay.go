package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"dealrelay/service/internal/crm"
)

// FileRef points at a Slack file to copy.
type FileRef struct {
	ID          string
	DownloadURL string
}

// FileDownloader fetches private Slack file content. *slack.Client
// implements it with the bot token.
type FileDownloader interface {
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// FileUploader stores a file under a CRM deal.
type FileUploader interface {
	CreateFile(ctx context.Context, dealID, name string, content io.Reader) (*crm.File, error)
}

// FileRelay copies a Slack file into a CRM deal through a temporary file.
type FileRelay struct {
	slack   FileDownloader
	crm     FileUploader
	tempDir string // "" = os.TempDir()
	logger  *slog.Logger
}

// NewFileRelay creates a file relay.
func NewFileRelay(slack FileDownloader, crm FileUploader, logger *slog.Logger) *FileRelay {
	return &FileRelay{slack: slack, crm: crm, logger: logger}
}

// Relay downloads ref and uploads it to dealID as displayName. The temporary
// copy is removed whether or not the upload succeeds.
func (r *FileRelay) Relay(ctx context.Context, ref FileRef, dealID, displayName string) (*crm.File, error) {
	if ref.DownloadURL == "" {
		return nil, fmt.Errorf("file %s has no download URL", ref.ID)
	}

	tmp, err := os.CreateTemp(r.tempDir, "dealrelay-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer r.cleanup(tmp)

	if err := r.slack.GetFileContext(ctx, ref.DownloadURL, tmp); err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", ref.ID, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding temp file: %w", err)
	}

	receipt, err := r.crm.CreateFile(ctx, dealID, displayName, tmp)
	if err != nil {
		return nil, err
	}
	r.logger.Info("relayed file to CRM",
		"file", ref.ID, "deal", dealID, "name", displayName, "crm_file", receipt.ID)
	return receipt, nil
}

func (r *FileRelay) cleanup(f *os.File) {
	name := f.Name()
	bestEffort(r.logger, "close temp file", f.Close)
	bestEffort(r.logger, "remove temp file", func() error { return os.Remove(name) })
}
