package records

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotImage      = errors.New("please upload a valid image file")
	ErrImageTooLarge = errors.New("image file is too large")
	errBadImagePath  = errors.New("image path outside the images directory")
)

// Upload is one file from a multipart request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func UploadFromHeader(fh *multipart.FileHeader) Upload {
	return Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Files stores record images. Paths are relative to the images root's
// parent, e.g. images/2025/Jun/01-06-2025_a1b2c3.jpg.
type Files interface {
	Check(u Upload) error
	Save(date time.Time, u Upload) (string, error)
	Remove(p string) error
}

// DiskFiles keeps images under Root/images/YYYY/Mon/.
type DiskFiles struct {
	Root     string
	MaxBytes int64
}

func NewDiskFiles(root string, maxBytes int64) *DiskFiles {
	return &DiskFiles{Root: root, MaxBytes: maxBytes}
}

// Raster formats only. /images serves files by extension.
var (
	imageTypes = map[string]bool{
		"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	}
	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	}
)

func (d *DiskFiles) Check(u Upload) error {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(u.ContentType, ";", 2)[0]))
	if !imageTypes[ct] || !imageExts[strings.ToLower(filepath.Ext(u.Filename))] {
		return ErrNotImage
	}
	if d.MaxBytes > 0 && u.Size > d.MaxBytes {
		return ErrImageTooLarge
	}
	return nil
}

// ImagePath names a new image for the given entry date.
func ImagePath(date time.Time, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	name := fmt.Sprintf("%s_%s%s", date.Format("02-01-2006"), suffix, ext)
	return path.Join("images", date.Format("2006"), date.Format("Jan"), name)
}

func (d *DiskFiles) Save(date time.Time, u Upload) (string, error) {
	if err := d.Check(u); err != nil {
		return "", err
	}
	rel := ImagePath(date, u.Filename)
	full := filepath.Join(d.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	src, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(full)
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}
	return rel, nil
}

// Remove deletes an image. Missing files are not an error.
func (d *DiskFiles) Remove(p string) error {
	clean := path.Clean("/" + filepath.ToSlash(p))[1:]
	if !strings.HasPrefix(clean, "images/") {
		return errBadImagePath
	}
	err := os.Remove(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
