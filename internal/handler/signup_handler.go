package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-signup-api/internal/service"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
	"github.com/noah-isme/course-signup-api/pkg/response"
)

// PretermTokenHeader carries the priority signup token.
const PretermTokenHeader = "X-Preterm-Token"

type signupService interface {
	Signup(ctx context.Context, req service.SignupRequest, now time.Time) (*service.SignupResult, error)
	Signoff(ctx context.Context, req service.SignoffRequest, now time.Time) error
}

// SignupHandler exposes the public registration endpoints.
type SignupHandler struct {
	service signupService
	now     func() time.Time
}

// NewSignupHandler constructs the handler.
func NewSignupHandler(service signupService) *SignupHandler {
	return &SignupHandler{service: service, now: time.Now}
}

// Signup godoc
// @Summary Register for a course
// @Description New signups wait for the next populate run unless a preterm token is supplied.
// @Tags Signups
// @Accept json
// @Produce json
// @Param X-Preterm-Token header string false "Preterm signup token"
// @Param payload body service.SignupRequest true "Signup payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /signups [post]
func (h *SignupHandler) Signup(c *gin.Context) {
	var req service.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signup payload"))
		return
	}
	req.PretermToken = c.GetHeader(PretermTokenHeader)

	result, err := h.service.Signup(c.Request.Context(), req, h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Signoff godoc
// @Summary Cancel an attendance
// @Tags Signups
// @Accept json
// @Param payload body service.SignoffRequest true "Signoff payload"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /signoffs [post]
func (h *SignupHandler) Signoff(c *gin.Context) {
	var req service.SignoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signoff payload"))
		return
	}
	if err := h.service.Signoff(c.Request.Context(), req, h.now()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
