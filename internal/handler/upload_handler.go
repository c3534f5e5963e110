package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gradekit/gradekit-api/internal/dto"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
	"github.com/gradekit/gradekit-api/pkg/response"
)

type uploadService interface {
	SaveArchive(filename string, data []byte) (*dto.UploadResponse, error)
	SaveRoster(filename string, data []byte) (*dto.RosterUploadResponse, error)
}

// UploadHandler manages submission-archive and roster upload endpoints.
type UploadHandler struct {
	service uploadService
}

// NewUploadHandler constructs the handler.
func NewUploadHandler(service uploadService) *UploadHandler {
	return &UploadHandler{service: service}
}

// UploadArchive godoc
// @Summary Upload a submission archive
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Submission archive (zip)"
// @Success 201 {object} response.Envelope
// @Router /uploads/submissions [post]
func (h *UploadHandler) UploadArchive(c *gin.Context) {
	filename, data, err := readUploadedFile(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp, err := h.service.SaveArchive(filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, resp, nil)
}

// UploadRoster godoc
// @Summary Upload a gradebook roster
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Gradebook export (csv or xlsx)"
// @Success 201 {object} response.Envelope
// @Router /uploads/roster [post]
func (h *UploadHandler) UploadRoster(c *gin.Context) {
	filename, data, err := readUploadedFile(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	resp, err := h.service.SaveRoster(filename, data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, resp, nil)
}

func readUploadedFile(c *gin.Context) (string, []byte, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file")
	}
	return fileHeader.Filename, data, nil
}
