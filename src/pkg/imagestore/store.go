/*
Package imagestore keeps durable, app-owned copies of captured photos.

Camera and gallery URIs are ephemeral; a photo referenced by a result or a
history record is copied into the managed directory under a collision-free
name and tracked by bare filename only.
*/
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
	"golang.org/x/sys/unix"
)

// DefaultMinFreeBytes is the free space floor below which Save refuses to copy.
const DefaultMinFreeBytes int64 = 50 * 1024 * 1024

// ErrInsufficientSpace is wrapped when the free space floor is not met.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// ReferenceLister reports image references that must survive an orphan sweep.
type ReferenceLister interface {
	ReferencedImages(ctx context.Context) (refs []string, e *xerr.Error)
}

// ReferenceListerFunc adapts a function to ReferenceLister.
type ReferenceListerFunc func(ctx context.Context) ([]string, *xerr.Error)

func (f ReferenceListerFunc) ReferencedImages(ctx context.Context) ([]string, *xerr.Error) {
	return f(ctx)
}

type Store struct {
	dir          string
	minFreeBytes int64
	freeSpace    func(path string) (uint64, error)
	now          func() time.Time
}

type Option func(*Store)

// WithFreeSpaceFunc overrides the free space probe (tests).
func WithFreeSpaceFunc(fn func(path string) (uint64, error)) Option {
	return func(s *Store) { s.freeSpace = fn }
}

// WithClock overrides the clock used in generated names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store rooted at dir. minFreeBytes <= 0 uses DefaultMinFreeBytes.
func New(dir string, minFreeBytes int64, opts ...Option) *Store {
	if minFreeBytes <= 0 {
		minFreeBytes = DefaultMinFreeBytes
	}
	absDir, absErr := filepath.Abs(dir)
	if absErr == nil {
		dir = absDir
	}
	store := &Store{
		dir:          filepath.Clean(dir),
		minFreeBytes: minFreeBytes,
		freeSpace:    availableBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Dir is the absolute managed directory.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureDir creates the managed directory if needed.
func (s *Store) EnsureDir() (e *xerr.Error) {
	mkdirErr := os.MkdirAll(s.dir, 0o755)
	if mkdirErr != nil {
		return xerr.NewError(mkdirErr, "create managed image directory", s.dir)
	}
	return nil
}

/*
Save copies the photo at source into the managed directory and returns the new
bare filename.

source may be a plain path or a file:// URI. A file already inside the managed
directory is not copied again; its filename is returned unchanged. The copy is
refused up front when free space is below the floor, and a failed copy leaves
no partial file behind.
*/
func (s *Store) Save(ctx context.Context, source string) (filename string, e *xerr.Error) {
	sourcePath, e := localPath(source)
	if e != nil {
		return "", e
	}
	// a stored reference from history or the result snapshot
	if IsBareFilename(source) {
		if managed := s.Resolve(source); managed != "" {
			if _, statErr := os.Stat(managed); statErr == nil {
				sourcePath = managed
			}
		}
	}

	if name, inside := s.managedName(sourcePath); inside {
		tl.Log(tl.Info1, palette.Cyan, "Image '%s' is %s, not copying", name, "already managed")
		return name, nil
	}

	e = s.EnsureDir()
	if e != nil {
		return "", e
	}

	free, statErr := s.freeSpace(s.dir)
	if statErr != nil {
		return "", xerr.NewError(statErr, "check free disk space", s.dir)
	}
	if free < uint64(s.minFreeBytes) {
		err := fmt.Errorf("%w: %s free, %s required", ErrInsufficientSpace, humanize.IBytes(free), humanize.IBytes(uint64(s.minFreeBytes)))
		return "", xerr.NewError(err, "storage full, image not saved", s.dir)
	}

	if ctx.Err() != nil {
		return "", xerr.NewError(ctx.Err(), "save managed image", sourcePath)
	}

	filename = s.newFilename(sourcePath)
	destinationPath := filepath.Join(s.dir, filename)

	e = copyFile(sourcePath, destinationPath)
	if e != nil {
		return "", e
	}

	tl.Log(tl.Info1, palette.Green, "Saved managed image '%s' (%s free)", filename, humanize.IBytes(free))
	return filename, nil
}

/*
Resolve turns a stored reference back into an absolute path.

Bare filenames are rebuilt under the managed directory. Legacy absolute paths
are passed through as-is even if they no longer exist. Empty input returns "".
*/
func (s *Store) Resolve(stored string) string {
	trimmed := strings.TrimSpace(stored)
	if trimmed == "" {
		return ""
	}
	if IsBareFilename(trimmed) {
		return filepath.Join(s.dir, trimmed)
	}
	path, e := localPath(trimmed)
	if e != nil {
		return trimmed
	}
	return path
}

/*
Delete removes a managed image.

Only files physically inside the managed directory are deleted; references to
anything else (legacy absolute paths) are left alone. A missing file is not an
error.
*/
func (s *Store) Delete(stored string) (e *xerr.Error) {
	resolved := s.Resolve(stored)
	if resolved == "" {
		return nil
	}
	name, inside := s.managedName(resolved)
	if !inside {
		tl.Log(tl.Info, palette.Purple, "Not deleting '%s': %s", stored, "outside the managed directory")
		return nil
	}

	removeErr := os.Remove(filepath.Join(s.dir, name))
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return xerr.NewError(removeErr, "delete managed image", name)
	}
	tl.Log(tl.Info1, palette.Green, "Deleted managed image '%s'", name)
	return nil
}

/*
CleanupOrphans deletes every managed file not referenced by any lister.

References are collected before the directory is listed, so files saved while
the sweep runs are only at risk if nothing references them yet at sweep start
and they are listed afterwards. A missing directory is a no-op.
*/
func (s *Store) CleanupOrphans(ctx context.Context, listers ...ReferenceLister) (removed int, e *xerr.Error) {
	referenced := make(map[string]bool)
	for _, lister := range listers {
		if lister == nil {
			continue
		}
		refs, listErr := lister.ReferencedImages(ctx)
		if listErr != nil {
			return 0, listErr
		}
		for _, ref := range refs {
			if name, ok := s.referenceName(ref); ok {
				referenced[name] = true
			}
		}
	}

	entries, readErr := os.ReadDir(s.dir)
	if errors.Is(readErr, fs.ErrNotExist) {
		tl.Log(tl.Info, palette.Purple, "Managed image directory '%s' %s, nothing to clean", s.dir, "does not exist")
		return 0, nil
	}
	if readErr != nil {
		return 0, xerr.NewError(readErr, "list managed image directory", s.dir)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, xerr.NewError(ctx.Err(), "cleanup interrupted", s.dir)
		}
		if !entry.Type().IsRegular() || referenced[entry.Name()] {
			continue
		}
		removeErr := os.Remove(filepath.Join(s.dir, entry.Name()))
		if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			tl.Log(tl.Warning, palette.Purple, "Unable to delete orphan '%s': '%s'", entry.Name(), removeErr)
			continue
		}
		removed++
	}

	tl.Log(tl.Notice1, palette.GreenBold, "Orphan sweep removed '%v' of '%v' managed images", removed, len(entries))
	return removed, nil
}

// IsBareFilename reports whether stored is a managed reference (no separators).
func IsBareFilename(stored string) bool {
	return stored != "" && !strings.ContainsAny(stored, `/\`) && !strings.HasPrefix(stored, "file:")
}

// referenceName maps a stored reference to a managed filename, if it is one.
func (s *Store) referenceName(ref string) (string, bool) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", false
	}
	if IsBareFilename(trimmed) {
		return trimmed, true
	}
	path, e := localPath(trimmed)
	if e != nil {
		return "", false
	}
	return s.managedName(path)
}

// managedName returns the filename when path is a direct child of the managed dir.
func (s *Store) managedName(path string) (string, bool) {
	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", false
	}
	if filepath.Dir(absPath) != s.dir {
		return "", false
	}
	return filepath.Base(absPath), true
}

// newFilename builds photo_<epochMs>_<6 random chars>.<ext>.
func (s *Store) newFilename(sourcePath string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(sourcePath), "."))
	if ext == "" || strings.ContainsAny(ext, `/\ `) {
		ext = "jpg"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("photo_%d_%s.%s", s.now().UnixMilli(), random, ext)
}

// localPath accepts a plain path or a file:// URI.
func localPath(source string) (path string, e *xerr.Error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "", xerr.NewError(errors.New("empty image reference"), "resolve image path", source)
	}
	if strings.HasPrefix(trimmed, "file:") {
		parsed, parseErr := url.Parse(trimmed)
		if parseErr != nil {
			return "", xerr.NewError(parseErr, "parse image URI", source)
		}
		return filepath.FromSlash(parsed.Path), nil
	}
	return trimmed, nil
}

/*
copyFile copies sourcePath to destinationPath.

The destination is created exclusively so two saves can never share a name.
A partial copy is removed, an existing file at destinationPath never is.
*/
func copyFile(sourcePath string, destinationPath string) (e *xerr.Error) {
	sourceFile, openErr := os.Open(sourcePath)
	if openErr != nil {
		return xerr.NewError(openErr, "open source image for copy", sourcePath)
	}
	defer func() {
		_ = sourceFile.Close()
	}()

	destinationFile, createErr := os.OpenFile(destinationPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if createErr != nil {
		return xerr.NewError(createErr, "create managed image file", destinationPath)
	}

	_, copyErr := io.Copy(destinationFile, sourceFile)
	closeErr := destinationFile.Close()
	if copyErr != nil {
		_ = os.Remove(destinationPath)
		return xerr.NewError(copyErr, "copy image file", fmt.Sprintf("from '%s' to '%s'", sourcePath, destinationPath))
	}
	if closeErr != nil {
		_ = os.Remove(destinationPath)
		return xerr.NewError(closeErr, "close managed image file", destinationPath)
	}
	return nil
}

func availableBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
