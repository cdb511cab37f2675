package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

var (
	ErrMissingFile  = errors.New("image file is missing")
	ErrEmptyFile    = errors.New("image file is empty")
	ErrCorruptImage = errors.New("image file is corrupt")
)

// Info describes a validated photo.
type Info struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int64  `json:"bytes"`
}

// LocalPath turns a file:// URI or plain path into a filesystem path.
func LocalPath(source string) (string, *xerr.Error) {
	return localPath(source)
}

/*
Validate checks that source exists, is a non-empty regular file and decodes as
an image. Failures wrap ErrMissingFile, ErrEmptyFile or ErrCorruptImage.
*/
func Validate(source string) (info Info, e *xerr.Error) {
	path, e := localPath(source)
	if e != nil {
		return info, e
	}
	info.Path = path

	stat, statErr := os.Stat(path)
	if errors.Is(statErr, fs.ErrNotExist) {
		return info, xerr.NewError(fmt.Errorf("%w: %v", ErrMissingFile, statErr), "validate image file", path)
	}
	if statErr != nil {
		return info, xerr.NewError(statErr, "validate image file", path)
	}
	if !stat.Mode().IsRegular() {
		return info, xerr.NewError(fmt.Errorf("%w: not a regular file", ErrMissingFile), "validate image file", path)
	}
	if stat.Size() == 0 {
		return info, xerr.NewError(ErrEmptyFile, "validate image file", path)
	}
	info.Bytes = stat.Size()

	img, decodeErr := imaging.Open(path, imaging.AutoOrientation(true))
	if decodeErr != nil {
		return info, xerr.NewError(fmt.Errorf("%w: %v", ErrCorruptImage, decodeErr), "decode image", path)
	}
	info.Width = img.Bounds().Dx()
	info.Height = img.Bounds().Dy()

	tl.Log(tl.Info1, palette.Cyan, "Validated image '%s' (%vx%v, %s)", filepath.Base(path), info.Width, info.Height, humanize.IBytes(uint64(info.Bytes)))
	return info, nil
}

/*
PrepareUpload returns a path to a copy of the photo whose longest side is at
most maxEdge pixels, re-encoded as JPEG. Photos already small enough are
returned as they are. cleanup removes the temporary copy and is always safe to
call.
*/
func PrepareUpload(ctx context.Context, info Info, maxEdge int) (uploadPath string, cleanup func(), e *xerr.Error) {
	cleanup = func() {}
	if maxEdge <= 0 || (info.Width <= maxEdge && info.Height <= maxEdge) {
		return info.Path, cleanup, nil
	}
	if err := ctx.Err(); err != nil {
		return "", cleanup, xerr.NewError(err, "prepare upload", info.Path)
	}

	img, openErr := imaging.Open(info.Path, imaging.AutoOrientation(true))
	if openErr != nil {
		return "", cleanup, xerr.NewError(fmt.Errorf("%w: %v", ErrCorruptImage, openErr), "open image for upload", info.Path)
	}
	resized := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)

	tempDir, tempErr := os.MkdirTemp("", "upload-*")
	if tempErr != nil {
		return "", cleanup, xerr.NewError(tempErr, "create upload directory", os.TempDir())
	}
	cleanup = func() {
		_ = os.RemoveAll(tempDir)
	}

	name := strings.TrimSuffix(filepath.Base(info.Path), filepath.Ext(info.Path)) + ".jpg"
	uploadPath = filepath.Join(tempDir, name)
	saveErr := imaging.Save(resized, uploadPath, imaging.JPEGQuality(85))
	if saveErr != nil {
		cleanup()
		return "", func() {}, xerr.NewError(saveErr, "save upload copy", uploadPath)
	}

	tl.Log(tl.Info1, palette.Cyan, "Prepared upload copy %vx%v -> %vx%v", info.Width, info.Height, resized.Bounds().Dx(), resized.Bounds().Dy())
	return uploadPath, cleanup, nil
}
