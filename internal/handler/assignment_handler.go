package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type assignmentService interface {
	AssignTestToClass(ctx context.Context, classID, testID string, req service.AssignTestRequest) (*service.AssignTestResult, error)
	ListClassAssignments(ctx context.Context, classID string, publishedOnly bool) ([]models.Assignment, error)
	ListStudentAssignments(ctx context.Context, filter models.StudentAssignmentFilter) ([]models.StudentAssignmentDetail, *models.Pagination, error)
	ListAssignmentRoster(ctx context.Context, assignmentID string) (*models.Assignment, []models.RosterEntry, error)
}

type rosterExporter interface {
	ExportRoster(ctx context.Context, assignmentID, format string) (*service.ExportFile, error)
}

// AssignmentHandler exposes assignment endpoints for teachers and students.
type AssignmentHandler struct {
	assignments assignmentService
	exports     rosterExporter
}

// NewAssignmentHandler constructs AssignmentHandler.
func NewAssignmentHandler(assignments assignmentService, exports rosterExporter) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, exports: exports}
}

// AssignTest godoc
// @Summary Assign a test to a class
// @Description Creates the class assignment for a published test and one student assignment per active enrollee. Returns 202 when propagation runs in the background.
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param testId path string true "Test ID"
// @Param payload body service.AssignTestRequest false "Overrides"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /classes/{id}/tests/{testId}/assign [post]
func (h *AssignmentHandler) AssignTest(c *gin.Context) {
	var req service.AssignTestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.assignments.AssignTestToClass(c.Request.Context(), c.Param("id"), c.Param("testId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Queued {
		response.Accepted(c, result)
		return
	}
	response.Created(c, result)
}

// ClassAssignments godoc
// @Summary List class assignments
// @Tags Assignments
// @Produce json
// @Param id path string true "Class ID"
// @Param published query bool false "Only published assignments"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/assignments [get]
func (h *AssignmentHandler) ClassAssignments(c *gin.Context) {
	publishedOnly := false
	if raw := c.Query("published"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "published must be a boolean"))
			return
		}
		publishedOnly = parsed
	}
	assignments, err := h.assignments.ListClassAssignments(c.Request.Context(), c.Param("id"), publishedOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}

// StudentAssignments godoc
// @Summary List a student's assignments
// @Tags Assignments
// @Produce json
// @Param id path string true "Student ID"
// @Param status query string false "not_started, in_progress, submitted, reviewed or done"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/assignments [get]
func (h *AssignmentHandler) StudentAssignments(c *gin.Context) {
	filter := models.StudentAssignmentFilter{
		StudentID: c.Param("id"),
		Status:    models.StudentAssignmentStatus(c.Query("status")),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	items, pagination, err := h.assignments.ListStudentAssignments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Roster godoc
// @Summary List the students holding an assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id}/students [get]
func (h *AssignmentHandler) Roster(c *gin.Context) {
	assignment, roster, err := h.assignments.ListAssignmentRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil, map[string]interface{}{
		"assignment_id": assignment.ID,
		"title":         assignment.Title,
		"total":         len(roster),
	})
}

// ExportRoster godoc
// @Summary Download an assignment roster
// @Tags Assignments
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Assignment ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /assignments/{id}/export [get]
func (h *AssignmentHandler) ExportRoster(c *gin.Context) {
	file, err := h.exports.ExportRoster(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
