// Package media stores uploaded images in a gocloud.dev bucket and hands out
// the public paths Meta fetches them from.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"messenger-console/logger"
)

// MaxUploadSize is the largest accepted image.
const MaxUploadSize = 5 << 20

var (
	ErrNotImage    = errors.New("only images are allowed")
	ErrTooLarge    = errors.New("file exceeds the 5MB limit")
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

type Store struct {
	bucket *blob.Bucket
	prefix string
	now    func() time.Time
}

// Open opens the bucket named by bucketURL (file:// or mem://). Local
// directories are created on first use.
func Open(ctx context.Context, bucketURL, publicPrefix string) (*Store, error) {
	if strings.HasPrefix(bucketURL, "file://") && !strings.Contains(bucketURL, "create_dir") {
		sep := "?"
		if strings.Contains(bucketURL, "?") {
			sep = "&"
		}
		bucketURL += sep + "create_dir=true"
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open media bucket: %w", err)
	}
	if publicPrefix == "" {
		publicPrefix = "/uploads/"
	}
	if !strings.HasSuffix(publicPrefix, "/") {
		publicPrefix += "/"
	}
	return &Store{bucket: bucket, prefix: publicPrefix, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

// PublicPrefix is the path prefix uploads are served under.
func (s *Store) PublicPrefix() string {
	return s.prefix
}

// Saved describes a stored upload.
type Saved struct {
	Filename string `json:"filename"`
	URL      string `json:"imageUrl"`
}

// Save stores an image and returns its generated name and public path.
func (s *Store) Save(ctx context.Context, originalName, contentType string, r io.Reader) (*Saved, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, ErrNotImage
	}

	name := s.newName(originalName)
	w, err := s.bucket.NewWriter(ctx, name, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}

	n, err := io.Copy(w, io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > MaxUploadSize {
		_ = w.Close()
		_ = s.bucket.Delete(ctx, name)
		return nil, ErrTooLarge
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	logger.LogInfo("📁 Stored upload %s (%d bytes)", name, n)
	return &Saved{Filename: name, URL: s.prefix + name}, nil
}

func (s *Store) newName(originalName string) string {
	ext := strings.ToLower(path.Ext(path.Base(originalName)))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		ext = ""
	}
	return fmt.Sprintf("%d-%d%s", s.now().UnixMilli(), rand.Int63n(1e9), ext)
}

// Object is an open stored file.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

func (s *Store) Open(ctx context.Context, name string) (*Object, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Object{ReadCloser: r, ContentType: r.ContentType(), Size: r.Size(), ModTime: r.ModTime()}, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, name); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// FilenameFromURL returns the stored name for a /uploads/... path, or "".
func (s *Store) FilenameFromURL(u string) string {
	if !strings.HasPrefix(u, s.prefix) {
		return ""
	}
	name := strings.TrimPrefix(u, s.prefix)
	if validName(name) != nil {
		return ""
	}
	return name
}

// AbsoluteURL turns a local upload path into a URL Meta can fetch. Other
// URLs are returned unchanged.
func AbsoluteURL(publicBase, prefix, u string) (string, error) {
	if !strings.HasPrefix(u, prefix) {
		return u, nil
	}
	if publicBase == "" {
		return "", errors.New("PUBLIC_URL is required to send uploaded images")
	}
	base, err := url.Parse(publicBase)
	if err != nil {
		return "", fmt.Errorf("parse PUBLIC_URL: %w", err)
	}
	return strings.TrimRight(base.String(), "/") + u, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return ErrInvalidName
	}
	return nil
}
