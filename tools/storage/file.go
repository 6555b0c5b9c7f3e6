package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
)

type fileStorage struct {
	log logger.Logger
	cfg *config.Config
}

type FileOperationsI interface {
	RemoveFromDir(filePath string) error
	GetOutputPath(jobID, key string) string
	CreateFolder(jobID string) error
	LocalInput(ctx context.Context, jobID, uri string) (string, bool, error)
}

func NewFileStorage(cfg *config.Config, log logger.Logger) FileOperationsI {
	return &fileStorage{
		cfg: cfg,
		log: log,
	}
}

func (f *fileStorage) RemoveFromDir(filePath string) error {
	f.log.Info("Removing from directory", logger.String("info", filePath))
	return os.RemoveAll(strings.TrimSuffix(filePath, "/"))
}

// GetOutputPath is the local path the transcoder writes the job's output to
func (f *fileStorage) GetOutputPath(jobID, key string) string {
	return filepath.Join(f.cfg.TempFolderPath, jobID, filepath.Base(key))
}

func (f *fileStorage) CreateFolder(jobID string) error {
	dir := filepath.Join(f.cfg.TempFolderPath, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.log.Error("Error while creating the directory", logger.Error(err))
		return err
	}
	return nil
}

// LocalInput returns a local path for uri, downloading http(s) inputs into the job folder.
// downloaded is true when the caller has to remove the file.
func (f *fileStorage) LocalInput(ctx context.Context, jobID, uri string) (string, bool, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return uri, false, nil
	}

	name := path.Base(strings.SplitN(uri, "?", 2)[0])
	local := filepath.Join(f.cfg.TempFolderPath, jobID, "input_"+name)

	if err := f.downloadWithWget(ctx, uri, local); err != nil {
		return "", false, err
	}
	return local, true, nil
}

func (f *fileStorage) downloadWithWget(ctx context.Context, url, filePath string) error {
	out, err := exec.CommandContext(ctx, "wget", "-q", "-O", filePath, url).CombinedOutput()
	if err != nil {
		return fmt.Errorf("error running wget: %s: %s", err, out)
	}

	return nil
}
