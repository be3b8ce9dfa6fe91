// Package source provides the enumeration backends registered with the
// directory cache: the local filesystem and S3-compatible object stores.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"dirlister/internal/dircache"
	"dirlister/internal/fileitem"
	"dirlister/internal/location"
	"dirlister/internal/logging"
)

const DefaultBatchSize = 256

type LocalOptions struct {
	// BatchSize is the number of entries handed to the sink per call.
	BatchSize int
	// RedirectSymlinks redirects a listing whose path resolves through a
	// symlink to the resolved directory.
	RedirectSymlinks bool
	Logger           *logging.Logger
}

// Local lists directories on the local filesystem.
type Local struct {
	batchSize        int
	redirectSymlinks bool
	owners           *ownerCache
	logger           *logging.Logger
}

var _ dircache.Source = (*Local)(nil)

func NewLocal(options LocalOptions) *Local {
	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Local{
		batchSize:        batchSize,
		redirectSymlinks: options.RedirectSymlinks,
		owners:           newOwnerCache(),
		logger:           logger,
	}
}

func (local *Local) Enumerate(ctx context.Context, loc location.Location, sink dircache.Sink) error {
	if !loc.IsLocal() {
		return fmt.Errorf("local source cannot list %s", loc)
	}
	dirPath := loc.LocalPath()

	info, err := os.Stat(dirPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", dircache.ErrNotFound, dirPath)
	}
	if local.redirectSymlinks {
		resolved, err := filepath.EvalSymlinks(dirPath)
		if err == nil && filepath.Clean(resolved) != filepath.Clean(dirPath) {
			// The listing continues under the resolved location.
			sink.Redirect(location.FromPath(resolved), true)
		}
	}
	sink.Root(local.itemFromInfo(dirPath, filepath.Base(dirPath), info))

	dir, err := os.Open(dirPath)
	if err != nil {
		return err
	}
	defer dir.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, readErr := dir.ReadDir(local.batchSize)
		if len(entries) > 0 {
			batch := make([]fileitem.Item, 0, len(entries))
			for _, entry := range entries {
				entryInfo, err := entry.Info()
				if err != nil {
					// Entries removed between ReadDir and Lstat are skipped.
					if !errors.Is(err, fs.ErrNotExist) {
						local.logger.Debug("local stat failed", map[string]string{
							"path":  filepath.Join(dirPath, entry.Name()),
							"error": err.Error(),
						})
					}
					continue
				}
				batch = append(batch, local.itemFromInfo(filepath.Join(dirPath, entry.Name()), entry.Name(), entryInfo))
			}
			if len(batch) > 0 {
				sink.Entries(batch)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func (local *Local) Stat(ctx context.Context, loc location.Location) (fileitem.Item, error) {
	if err := ctx.Err(); err != nil {
		return fileitem.Item{}, err
	}
	if !loc.IsLocal() {
		return fileitem.Item{}, fmt.Errorf("local source cannot stat %s", loc)
	}
	fullPath := loc.LocalPath()
	info, err := os.Lstat(fullPath)
	if err != nil {
		return fileitem.Item{}, err
	}
	return local.itemFromInfo(fullPath, filepath.Base(fullPath), info), nil
}

func (local *Local) itemFromInfo(fullPath, name string, info fs.FileInfo) fileitem.Item {
	item := fileitem.Item{
		Name:    name,
		Kind:    fileitem.KindFromMode(info.Mode()),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
	if item.Kind == fileitem.KindDir {
		item.Size = 0
	}
	if item.Kind == fileitem.KindSymlink {
		if target, err := os.Readlink(fullPath); err == nil {
			item.LinkTarget = target
		}
	}
	if sys, ok := statOf(info); ok {
		item.AccessTime = sys.accessTime
		item.Owner = local.owners.user(sys.uid)
		item.Group = local.owners.group(sys.gid)
		item.Attrs = fileitem.NewAttributes(map[string]fileitem.Value{
			"inode": fileitem.Int(int64(sys.inode)),
			"nlink": fileitem.Int(int64(sys.nlink)),
		})
	}
	return item
}
