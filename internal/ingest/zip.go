// Package ingest expands uploaded archives and groups submission files into
// per-student buckets.
package ingest

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/gradekit/gradekit-api/internal/models"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

// ExpandArchive unpacks a ZIP archive into a flat file list. Each file keeps
// its intra-archive path as RelativePath so the organizer can bucket by
// folder. Directory entries and OS metadata artifacts are skipped.
func ExpandArchive(data []byte, maxFileBytes int64) ([]*models.SubmissionFile, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnsupportedUpload.Code, appErrors.ErrUnsupportedUpload.Status, "archive is not a valid ZIP file")
	}

	var files []*models.SubmissionFile
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || isMetadataPath(entry.Name) {
			continue
		}
		if maxFileBytes > 0 && entry.UncompressedSize64 > uint64(maxFileBytes) {
			return nil, appErrors.New(appErrors.ErrUploadTooLarge.Code, appErrors.ErrUploadTooLarge.Status, "archived file "+entry.Name+" exceeds the size limit")
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archive entry "+entry.Name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archive entry "+entry.Name)
		}

		files = append(files, &models.SubmissionFile{
			FileMeta: models.FileMeta{
				Name:         path.Base(entry.Name),
				RelativePath: entry.Name,
				Size:         int64(len(content)),
				ModTime:      entry.Modified,
			},
			Data: content,
		})
	}
	return files, nil
}

// isMetadataPath filters dotfiles, macOS resource forks and other OS
// artifacts that LMS archives routinely carry.
func isMetadataPath(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if segment == "__MACOSX" || segment == "Thumbs.db" || segment == ".DS_Store" {
			return true
		}
		if strings.HasPrefix(segment, "._") || (strings.HasPrefix(segment, ".") && segment != "." && segment != "..") {
			return true
		}
	}
	return false
}
