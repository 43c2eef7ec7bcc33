package repo

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/grab/v3"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/parMaster/meetsync/config"
	"github.com/parMaster/meetsync/storage/model"
)

// Importer downloads remote recordings into the import dir so they can be uploaded
// as local artifacts. Nothing is registered with the engine here.
type Importer struct {
	dir      string
	keepFree model.FileSize
	client   *grab.Client
}

func NewImporter(cfg config.Storage) *Importer {
	return &Importer{dir: cfg.ImportDir, keepFree: cfg.KeepFree, client: grab.NewClient()}
}

// Import fetches rawURL into the import dir
func (im *Importer) Import(ctx context.Context, rawURL string) (Artifact, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: bad url %q: %w", ErrBadRequest, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Artifact{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadRequest, u.Scheme)
	}

	if err := os.MkdirAll(im.dir, os.ModePerm); err != nil {
		return Artifact{}, fmt.Errorf("can't create import dir: %w", err)
	}
	if err := im.checkSpace(); err != nil {
		return Artifact{}, err
	}

	req, err := grab.NewRequest(im.dir, u.String())
	if err != nil {
		return Artifact{}, fmt.Errorf("can't make request: %w", err)
	}
	req = req.WithContext(ctx)

	resp := im.client.Do(req)
	if err := resp.Err(); err != nil {
		return Artifact{}, fmt.Errorf("failed to download %s, %w", rawURL, err)
	}
	if resp.Size() == 0 {
		os.Remove(resp.Filename)
		return Artifact{}, fmt.Errorf("failed to download %s, empty file", rawURL)
	}

	log.Printf("[DEBUG] Download saved to %s, %s", resp.Filename, model.FileSize(resp.Size()))
	return Artifact{
		Path:        resp.Filename,
		Name:        filepath.Base(resp.Filename),
		ContentType: resp.HTTPResponse.Header.Get("Content-Type"),
	}, nil
}

// checkSpace refuses imports when free space is below the configured reserve
func (im *Importer) checkSpace() error {
	if im.keepFree <= 0 {
		return nil
	}
	usage, err := disk.Usage(im.dir)
	if err != nil {
		return fmt.Errorf("failed to get disk usage: %w", err)
	}
	if usage.Free < uint64(im.keepFree) {
		return fmt.Errorf("%w: %s free, %s required", ErrNoSpace, model.FileSize(usage.Free), im.keepFree)
	}
	log.Printf("[DEBUG] Free space is %s, required %s", model.FileSize(usage.Free), im.keepFree)
	return nil
}
