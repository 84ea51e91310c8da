package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUpload   = errors.New("upload failed")
	ErrNoFile   = errors.New("no file supplied")
	ErrNotFound = errors.New("file not found")
)

const partSuffix = ".part"

var (
	extPattern  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)
	namePattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[A-Za-z0-9]{1,16})?$`)
)

// DiskStore keeps uploaded files in a single directory under generated names.
type DiskStore struct {
	dir string
	log zerolog.Logger
}

func NewDiskStore(dir string, log zerolog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create upload directory: %w", ErrUpload, err)
	}
	return &DiskStore{
		dir: dir,
		log: log.With().Str("component", "upload").Logger(),
	}, nil
}

// StoredName returns a fresh "<uuid><ext>" name that keeps the extension of
// originalName when it is a plain alphanumeric one.
func StoredName(originalName string) string {
	ext := filepath.Ext(filepath.Base(originalName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

// Store writes r to disk and returns the generated name. The bytes are synced
// before the file becomes visible under that name.
func (s *DiskStore) Store(ctx context.Context, r io.Reader, originalName string) (string, error) {
	name := StoredName(originalName)
	final := filepath.Join(s.dir, name)
	part := final + partSuffix

	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrUpload, name, err)
	}

	written, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("%w: write %s: %w", ErrUpload, name, err)
	}

	if err := os.Rename(part, final); err != nil {
		_ = os.Remove(part)
		return "", fmt.Errorf("%w: publish %s: %w", ErrUpload, name, err)
	}
	if err := syncDir(s.dir); err != nil {
		_ = os.Remove(final)
		return "", fmt.Errorf("%w: sync directory for %s: %w", ErrUpload, name, err)
	}

	s.log.Info().Str("name", name).Str("original", originalName).Int64("bytes", written).Msg("file stored")
	return name, nil
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

// File is an open stored file with its sniffed content type.
type File struct {
	*os.File
	Name        string
	ContentType string
	ModTime     time.Time
}

// Open returns a stored file. Names that were not produced by Store are
// reported as not found.
func (s *DiskStore) Open(name string) (*File, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrUpload, name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrUpload, name, err)
	}

	mtype, err := mimetype.DetectReader(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: sniff %s: %w", ErrUpload, name, err)
	}

	return &File{
		File:        f,
		Name:        name,
		ContentType: mtype.String(),
		ModTime:     info.ModTime(),
	}, nil
}

// SweepPartial removes partial uploads older than olderThan and returns how
// many were deleted.
func (s *DiskStore) SweepPartial(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}
