package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mentorium-app/mentorium-api/internal/models"
	"github.com/mentorium-app/mentorium-api/internal/service"
	appErrors "github.com/mentorium-app/mentorium-api/pkg/errors"
	"github.com/mentorium-app/mentorium-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and receipt endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	receipts    *service.ReceiptService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, receipts *service.ReceiptService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, receipts: receipts}
}

type recordEnrollmentRequest struct {
	ClassID      string `json:"class_id" binding:"required"`
	StudentEmail string `json:"student_email" binding:"required,email"`
	PaymentRef   string `json:"payment_ref" binding:"required"`
	AmountCents  int64  `json:"amount_cents" binding:"required,gt=0"`
}

// Create godoc
// @Summary Record an enrollment
// @Description Admin reconciliation path: records a captured charge as an enrollment. Recording the same charge twice returns the existing record.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body recordEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req recordEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	enrollment, err := h.enrollments.RecordPaid(c.Request.Context(), req.ClassID, req.StudentEmail, req.PaymentRef, req.AmountCents)
	if appErrors.HasCode(err, appErrors.ErrAlreadyEnrolled) {
		response.JSON(c, http.StatusOK, enrollment, nil)
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, enrollment, nil)
}

// ListByStudent godoc
// @Summary List a student's enrolled classes
// @Description Returns the classes the student has completed payment for
// @Tags Enrollments
// @Produce json
// @Param email path string true "Student email"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{email}/enrolled-classes [get]
func (h *EnrollmentHandler) ListByStudent(c *gin.Context) {
	enrollments, err := h.enrollments.ListByStudent(c.Request.Context(), c.Param("email"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// List godoc
// @Summary List enrollments
// @Description Admin listing of enrollments with filters
// @Tags Enrollments
// @Produce json
// @Param class_id query string false "Filter by class"
// @Param student_email query string false "Filter by student"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter := models.EnrollmentFilter{
		ClassID:      c.Query("class_id"),
		StudentEmail: c.Query("student_email"),
		TeacherEmail: c.Query("teacher_email"),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
		Page:         page,
		PageSize:     pageSize,
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Description Returns a single enrollment record
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if enrollment.StudentEmail != claims.Email && claims.Role != models.RoleAdmin {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student"))
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ReceiptLink godoc
// @Summary Get receipt download link
// @Description Returns a short-lived signed URL for the enrollment's PDF receipt
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/receipt [get]
func (h *EnrollmentHandler) ReceiptLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.receipts == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "receipts are not enabled"))
		return
	}

	token, expiresAt, err := h.receipts.SignedURL(c.Request.Context(), claims.Email, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"download_url": "/api/v1/receipts/download?token=" + token,
		"expires_at":   expiresAt,
	}, nil)
}

// DownloadReceipt godoc
// @Summary Download receipt
// @Description Streams the PDF referenced by a valid signed token
// @Tags Enrollments
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /receipts/download [get]
func (h *EnrollmentHandler) DownloadReceipt(c *gin.Context) {
	if h.receipts == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "receipts are not enabled"))
		return
	}

	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	file, err := h.receipts.OpenByToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read receipt"))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=receipt.pdf")
	c.DataFromReader(http.StatusOK, stat.Size(), "application/pdf", file, nil)
}

// ListOrphans godoc
// @Summary List orphaned payments
// @Description Admin reconciliation view of charges captured without an enrollment
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/orphans [get]
func (h *EnrollmentHandler) ListOrphans(c *gin.Context) {
	orphans, err := h.enrollments.ListOrphans(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, orphans, nil)
}
