package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"mediafetch/internal/catalog"
	"mediafetch/internal/file"
	"mediafetch/internal/quota"
)

// Ledger is the slice of the quota ledger the uploader needs.
type Ledger interface {
	Reserve(kind quota.Kind, amount int64, owner string) (*quota.Reservation, error)
	Commit(res *quota.Reservation, actual int64) error
	Release(res *quota.Reservation) error
}

// ItemError describes why one item could not be uploaded.
type ItemError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result aggregates an upload batch. One item's failure never fails the
// batch; it lands in Errors instead.
type Result struct {
	SuccessCount int         `json:"success_count"`
	FailCount    int         `json:"fail_count"`
	Errors       []ItemError `json:"errors,omitempty"`
}

var kindDirs = map[catalog.Kind]string{
	catalog.KindVideo: "videos",
	catalog.KindImage: "images",
	catalog.KindFile:  "files",
}

// Uploader promotes previously fetched items from the download area into
// the destination project directory, charging the upload quota per item.
type Uploader struct {
	ledger  Ledger
	srcDir  string
	destDir string
}

// NewUploader prepares the destination tree (one subdirectory per kind).
func NewUploader(ledger Ledger, srcDir, destDir string) (*Uploader, error) {
	for _, sub := range kindDirs {
		if err := file.EnsureDir(filepath.Join(destDir, sub)); err != nil {
			return nil, err
		}
	}
	return &Uploader{ledger: ledger, srcDir: srcDir, destDir: destDir}, nil
}

// UploadSelected copies each fetched item into its kind directory. Per item:
// verify the local file, reserve upload quota for its on-disk size, copy,
// commit with bytes written. Any failure after the reservation releases it.
// A destination name collision resolves to "name (N).ext" rather than
// overwriting or skipping.
func (u *Uploader) UploadSelected(ctx context.Context, items []catalog.ContentItem) Result {
	var result Result
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			result.fail(item.Name, "cancelled")
			continue
		}
		if err := u.uploadOne(item); err != nil {
			log.Warn().Str("name", item.Name).Err(err).Msg("upload item failed")
			result.fail(item.Name, err.Error())
			continue
		}
		result.SuccessCount++
	}
	log.Info().Int("succeeded", result.SuccessCount).Int("failed", result.FailCount).Msg("upload batch finished")
	return result
}

func (u *Uploader) uploadOne(item catalog.ContentItem) error {
	sub, ok := kindDirs[item.Kind]
	if !ok {
		return fmt.Errorf("unsupported kind %q", item.Kind)
	}
	name := file.SanitizeName(item.Name)
	src := filepath.Join(u.srcDir, name)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("not fetched: %s", name)
	}

	res, err := u.ledger.Reserve(quota.KindUpload, info.Size(), "upload:"+name)
	if err != nil {
		return err
	}

	written, err := u.copyInto(filepath.Join(u.destDir, sub, name), src)
	if err != nil {
		_ = u.ledger.Release(res)
		return err
	}
	if err := u.ledger.Commit(res, written); err != nil {
		return err
	}
	return nil
}

func (u *Uploader) copyInto(dest, src string) (int64, error) {
	in, err := os.Open(src) //nolint:gosec // path is built from the app's own download dir
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()
	return file.CopyAtomic(file.UniquePath(dest), in)
}

func (r *Result) fail(name, reason string) {
	r.FailCount++
	r.Errors = append(r.Errors, ItemError{Name: name, Reason: reason})
}
