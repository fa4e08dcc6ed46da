package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-signup-api/internal/dto"
	"github.com/noah-isme/course-signup-api/internal/models"
	"github.com/noah-isme/course-signup-api/internal/service"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
	"github.com/noah-isme/course-signup-api/pkg/response"
)

type allocationService interface {
	RunGlobalPopulate(ctx context.Context, at time.Time) (*models.GlobalPopulateReport, error)
}

type attendanceAdminService interface {
	UpdateAttendance(ctx context.Context, applicantID, courseID string, req service.UpdateAttendanceRequest, actorID string, now time.Time) (*models.Attendance, error)
	UpdateApplicant(ctx context.Context, id string, req service.UpdateApplicantRequest, actorID string) (*models.Applicant, error)
	DeleteApplicant(ctx context.Context, id, actorID string) error
}

type importService interface {
	ImportScores(ctx context.Context, r io.Reader, actorID string, now time.Time) (*models.ImportReport, error)
	ImportRegistrations(ctx context.Context, r io.Reader, actorID string, now time.Time) (*models.ImportReport, error)
}

type pretermIssuer interface {
	IssuePretermToken(mail string) (string, time.Time, error)
}

// AdminHandler exposes the administrative endpoints.
type AdminHandler struct {
	allocation  allocationService
	attendances attendanceAdminService
	imports     importService
	preterm     pretermIssuer
	now         func() time.Time
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(allocation allocationService, attendances attendanceAdminService, imports importService, preterm pretermIssuer) *AdminHandler {
	return &AdminHandler{
		allocation:  allocation,
		attendances: attendances,
		imports:     imports,
		preterm:     preterm,
		now:         time.Now,
	}
}

// RunPopulate godoc
// @Summary Run the global populate
// @Description Runs the lottery pass, the first-come pass and refreshes waiting list flags.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /admin/populate [post]
func (h *AdminHandler) RunPopulate(c *gin.Context) {
	report, err := h.allocation.RunGlobalPopulate(c.Request.Context(), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// UpdateAttendance godoc
// @Summary Override attendance fields
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param applicantId path string true "Applicant ID"
// @Param courseId path string true "Course ID"
// @Param payload body service.UpdateAttendanceRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/attendances/{applicantId}/{courseId} [patch]
func (h *AdminHandler) UpdateAttendance(c *gin.Context) {
	var req service.UpdateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	attendance, err := h.attendances.UpdateAttendance(c.Request.Context(), c.Param("applicantId"), c.Param("courseId"), req, actorID(c), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attendance)
}

// UpdateApplicant godoc
// @Summary Set the general discount eligibility of an applicant
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Applicant ID"
// @Param payload body service.UpdateApplicantRequest true "Eligibility"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/applicants/{id} [patch]
func (h *AdminHandler) UpdateApplicant(c *gin.Context) {
	var req service.UpdateApplicantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid applicant payload"))
		return
	}
	applicant, err := h.attendances.UpdateApplicant(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applicant)
}

// DeleteApplicant godoc
// @Summary Delete an applicant with all attendances
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "Applicant ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/applicants/{id} [delete]
func (h *AdminHandler) DeleteApplicant(c *gin.Context) {
	if err := h.attendances.DeleteApplicant(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ImportScores godoc
// @Summary Import placement test scores
// @Description CSV with tag and rating per line, sent as multipart "file" or raw body.
// @Tags Admin
// @Accept multipart/form-data
// @Accept text/csv
// @Produce json
// @Security BearerAuth
// @Param file formData file false "Scores CSV"
// @Success 200 {object} response.Envelope
// @Router /admin/imports/scores [post]
func (h *AdminHandler) ImportScores(c *gin.Context) {
	h.runImport(c, h.imports.ImportScores)
}

// ImportRegistrations godoc
// @Summary Import the student registration roster
// @Description One student tag per line. Tags missing from the roster lose verification.
// @Tags Admin
// @Accept multipart/form-data
// @Accept text/csv
// @Produce json
// @Security BearerAuth
// @Param file formData file false "Roster CSV"
// @Success 200 {object} response.Envelope
// @Router /admin/imports/registrations [post]
func (h *AdminHandler) ImportRegistrations(c *gin.Context) {
	h.runImport(c, h.imports.ImportRegistrations)
}

type importFunc func(ctx context.Context, r io.Reader, actorID string, now time.Time) (*models.ImportReport, error)

func (h *AdminHandler) runImport(c *gin.Context, run importFunc) {
	body, closeFn, err := uploadBody(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeFn()

	report, err := run(c.Request.Context(), body, actorID(c), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// uploadBody returns the multipart "file" part or, for any other content type, the request body.
func uploadBody(c *gin.Context) (io.Reader, func(), error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
		}
		src, err := fileHeader.Open()
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
		}
		return src, func() { _ = src.Close() }, nil
	}
	if c.Request.Body == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "request body is empty")
	}
	return c.Request.Body, func() {}, nil
}

// IssuePretermToken godoc
// @Summary Issue a preterm signup token
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.PretermTokenRequest true "Recipient"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/preterm-tokens [post]
func (h *AdminHandler) IssuePretermToken(c *gin.Context) {
	var req dto.PretermTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preterm token payload"))
		return
	}
	token, expiresAt, err := h.preterm.IssuePretermToken(req.Mail)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.PretermTokenResponse{Mail: strings.ToLower(strings.TrimSpace(req.Mail)), Token: token, ExpiresAt: expiresAt})
}
