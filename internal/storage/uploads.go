package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

// Uploads stages incoming files in a single directory until they are
// normalized.
type Uploads struct {
	dir string
}

// NewUploads creates dir if it does not exist yet.
func NewUploads(dir string, logger *slog.Logger) (*Uploads, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch info, err := os.Stat(dir); {
	case err == nil && !info.IsDir():
		return nil, apperrors.New(apperrors.KindStorage, "init", fmt.Sprintf("%s exists and is not a directory", dir))
	case err == nil:
		logger.Debug("upload directory already exists", "dir", dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorage, "init", "failed to create upload directory", err)
		}
		logger.Info("created upload directory", "dir", dir)
	default:
		return nil, apperrors.Wrap(apperrors.KindStorage, "init", "failed to stat upload directory", err)
	}

	return &Uploads{dir: dir}, nil
}

func (u *Uploads) Dir() string {
	return u.dir
}

// Save writes r to a new file named after a random UUID, keeping only the
// extension of the client supplied filename. It returns the full path.
func (u *Uploads) Save(filename string, r io.Reader) (string, error) {
	path := filepath.Join(u.dir, uuid.NewString()+safeExt(filename))

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "save", "failed to create upload file", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return "", apperrors.Wrap(apperrors.KindStorage, "save", "failed to write upload", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", apperrors.Wrap(apperrors.KindStorage, "save", "failed to close upload", err)
	}
	return path, nil
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
