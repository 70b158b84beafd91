package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mentorium-app/mentorium-api/internal/service"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
	"github.com/mentorium-app/mentorium-api/pkg/response"
)

// TeacherRequestHandler exposes the teach-on-platform application endpoints.
type TeacherRequestHandler struct {
	service *service.TeacherApplicationService
}

// NewTeacherRequestHandler constructs a teacher request handler.
func NewTeacherRequestHandler(svc *service.TeacherApplicationService) *TeacherRequestHandler {
	return &TeacherRequestHandler{service: svc}
}

// Apply godoc
// @Summary Apply to teach
// @Description Submits or resubmits the caller's teacher application
// @Tags TeacherRequests
// @Accept json
// @Produce json
// @Param payload body service.ApplyTeacherRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /teacher-requests [post]
func (h *TeacherRequestHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ApplyTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}

	user, err := h.service.Apply(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, user, nil)
}

// MyStatus godoc
// @Summary Get own application status
// @Description Returns the caller's current teacher application state
// @Tags TeacherRequests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /teacher-requests/me [get]
func (h *TeacherRequestHandler) MyStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.service.Status(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// StatusByEmail godoc
// @Summary Get an applicant's status
// @Description Admin view of a single teacher application
// @Tags TeacherRequests
// @Produce json
// @Param email path string true "Applicant email"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /teacher-requests/{email} [get]
func (h *TeacherRequestHandler) StatusByEmail(c *gin.Context) {
	user, err := h.service.Status(c.Request.Context(), c.Param("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// ListPending godoc
// @Summary List pending applications
// @Description Admin review queue of teacher applications
// @Tags TeacherRequests
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /teacher-requests [get]
func (h *TeacherRequestHandler) ListPending(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	users, pagination, err := h.service.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Approve godoc
// @Summary Approve application
// @Description Promotes the applicant to teacher and settles the application
// @Tags TeacherRequests
// @Produce json
// @Param email path string true "Applicant email"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /teacher-requests/{email}/approve [patch]
func (h *TeacherRequestHandler) Approve(c *gin.Context) {
	user, err := h.service.Approve(c.Request.Context(), c.Param("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Reject godoc
// @Summary Reject application
// @Description Settles a pending application as rejected; the applicant may reapply
// @Tags TeacherRequests
// @Produce json
// @Param email path string true "Applicant email"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /teacher-requests/{email}/reject [patch]
func (h *TeacherRequestHandler) Reject(c *gin.Context) {
	user, err := h.service.Reject(c.Request.Context(), c.Param("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
