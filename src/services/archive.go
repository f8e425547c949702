package services

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/utils"
)

const scratchSubdir = "binnaculum-imports"

// StagedFile is one parseable csv of a staged upload.
type StagedFile struct {
	Name string
	Path string
}

// StagedUpload is an upload written to the scratch directory. The original
// file survives until its session reaches a terminal state so a crashed
// import can be resumed from disk.
type StagedUpload struct {
	OriginalPath string
	FileHash     string
	Files        []StagedFile
}

// stageUpload persists the upload to the scratch directory, hashes it and,
// for zip containers, extracts the csv entries next to it.
func stageUpload(scratchDir, fileName string, r io.Reader) (*StagedUpload, error) {
	dir := filepath.Join(scratchDir, scratchSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	dest := filepath.Join(dir, uuid.NewString()+"_"+filepath.Base(fileName))
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return nil, fmt.Errorf("staging upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("staging upload: %w", err)
	}

	staged, err := restageUpload(dest)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}
	return staged, nil
}

// restageUpload rebuilds a StagedUpload from a previously staged file. Used
// both right after staging and when resuming a session whose file is still on
// disk.
func restageUpload(path string) (*StagedUpload, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	hash, err := utils.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hashing upload: %w", err)
	}
	staged := &StagedUpload{OriginalPath: path, FileHash: hash}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		staged.Files = []StagedFile{{Name: filepath.Base(path), Path: path}}
	case ".zip":
		files, err := extractCSVs(path, extractDirFor(path))
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: zip contains no csv files", ErrUnsupportedFileType)
		}
		staged.Files = files
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(path))
	}
	return staged, nil
}

func extractDirFor(path string) string {
	return path + "_extracted"
}

func openStagedFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("opening staged file: %w", err)
	}
	return f, nil
}

// extractCSVs unpacks the csv entries of a zip container into dir. Entry
// names are flattened to their base name, which also blocks path traversal.
func extractCSVs(zipPath, dir string) ([]StagedFile, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening zip: %v", ErrUnsupportedFileType, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}

	var files []StagedFile
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(entry.Name), ".csv") {
			continue
		}
		name := filepath.Base(entry.Name)
		dest := filepath.Join(dir, name)

		src, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip entry %s: %w", entry.Name, err)
		}
		out, err := os.Create(dest)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("extracting zip entry %s: %w", entry.Name, err)
		}
		_, err = io.Copy(out, src)
		src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("extracting zip entry %s: %w", entry.Name, err)
		}
		files = append(files, StagedFile{Name: name, Path: dest})
	}
	return files, nil
}

// Cleanup removes the staged upload and any extracted entries. Called once
// the owning session completes or is cancelled; a failed session keeps its
// files on disk so it can be resumed.
func (u *StagedUpload) Cleanup() {
	if u == nil {
		return
	}
	if err := os.Remove(u.OriginalPath); err != nil && !os.IsNotExist(err) {
		logger.L.Warn("Failed to remove staged upload", "path", u.OriginalPath, "error", err)
	}
	if err := os.RemoveAll(extractDirFor(u.OriginalPath)); err != nil {
		logger.L.Warn("Failed to remove extracted files", "path", extractDirFor(u.OriginalPath), "error", err)
	}
}
