package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gradekit/gradekit-api/internal/dto"
	"github.com/gradekit/gradekit-api/internal/ingest"
	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/internal/roster"
	"github.com/gradekit/gradekit-api/pkg/config"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

type uploadStorage interface {
	Save(filename string, data []byte) (string, error)
	Path(filename string) string
	Delete(filename string) error
}

// UploadService stores submission archives and roster files between wizard
// steps. Uploads are addressed by opaque IDs; raw bytes never enter the
// database.
type UploadService struct {
	storage uploadStorage
	parser  *roster.Parser
	cfg     config.UploadsConfig
	logger  *zap.Logger
}

// NewUploadService constructs the upload service.
func NewUploadService(storage uploadStorage, cfg config.UploadsConfig, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{
		storage: storage,
		parser:  roster.NewParser(),
		cfg:     cfg,
		logger:  logger,
	}
}

// SaveArchive validates and stores a submission archive upload.
func (s *UploadService) SaveArchive(filename string, data []byte) (*dto.UploadResponse, error) {
	if s.cfg.MaxArchiveBytes > 0 && int64(len(data)) > s.cfg.MaxArchiveBytes {
		return nil, appErrors.Clone(appErrors.ErrUploadTooLarge, "submission archive exceeds the size limit")
	}

	// Expand once up front so a broken archive fails the upload step, not the
	// grading run.
	files, err := ingest.ExpandArchive(data, s.cfg.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "archive contains no files")
	}

	uploadID := uuid.NewString()
	if _, err := s.storage.Save(archivePath(uploadID, filename), data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store archive")
	}

	s.logger.Sugar().Infow("archive stored", "upload_id", uploadID, "filename", filename, "files", len(files))
	return &dto.UploadResponse{
		UploadID:  uploadID,
		Filename:  filename,
		Size:      int64(len(data)),
		FileCount: len(files),
	}, nil
}

// SaveRoster parses and stores a gradebook upload, returning the preview the
// wizard shows before a run starts. Parse failures block only this import.
func (s *UploadService) SaveRoster(filename string, data []byte) (*dto.RosterUploadResponse, error) {
	if !s.rosterExtensionAllowed(filename) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedUpload, fmt.Sprintf("unsupported roster file %q", filename))
	}

	gb, err := s.parser.Parse(filename, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRosterParse.Code, appErrors.ErrRosterParse.Status, appErrors.ErrRosterParse.Message)
	}

	uploadID := uuid.NewString()
	if _, err := s.storage.Save(rosterPath(uploadID, filename), data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store roster")
	}

	sample := make([]string, 0, 5)
	for _, row := range gb.Rows {
		if len(sample) == 5 {
			break
		}
		sample = append(sample, row.FullName)
	}

	s.logger.Sugar().Infow("roster stored", "upload_id", uploadID, "filename", filename, "students", len(gb.Rows))
	return &dto.RosterUploadResponse{
		UploadID:         uploadID,
		Filename:         filename,
		Headers:          gb.Headers,
		AssignmentColumn: gb.AssignmentColumn,
		FeedbackColumn:   gb.FeedbackColumn,
		StudentCount:     len(gb.Rows),
		SampleNames:      sample,
	}, nil
}

// LoadArchiveFiles re-expands a stored archive into submission files.
func (s *UploadService) LoadArchiveFiles(uploadID string) ([]*models.SubmissionFile, error) {
	data, err := s.readUpload("archives", uploadID)
	if err != nil {
		return nil, err
	}
	return ingest.ExpandArchive(data, s.cfg.MaxFileBytes)
}

// LoadRoster re-parses a stored gradebook upload.
func (s *UploadService) LoadRoster(uploadID string) (*models.Gradebook, error) {
	dir, err := s.uploadDir("rosters", uploadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dir.path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read roster upload")
	}
	return s.parser.Parse(dir.filename, data)
}

func (s *UploadService) readUpload(kind, uploadID string) ([]byte, error) {
	dir, err := s.uploadDir(kind, uploadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dir.path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	return data, nil
}

type storedUpload struct {
	path     string
	filename string
}

// uploadDir locates the single file stored under <kind>/<uploadID>/.
func (s *UploadService) uploadDir(kind, uploadID string) (*storedUpload, error) {
	dir := s.storage.Path(filepath.Join(kind, uploadID))
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "upload not found")
	}
	name := entries[0].Name()
	return &storedUpload{path: filepath.Join(dir, name), filename: name}, nil
}

func (s *UploadService) rosterExtensionAllowed(filename string) bool {
	if len(s.cfg.AllowedRosterExt) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range s.cfg.AllowedRosterExt {
		if strings.TrimPrefix(strings.ToLower(allowed), ".") == ext {
			return true
		}
	}
	return false
}

func archivePath(uploadID, filename string) string {
	return filepath.Join("archives", uploadID, filepath.Base(filename))
}

func rosterPath(uploadID, filename string) string {
	return filepath.Join("rosters", uploadID, filepath.Base(filename))
}
