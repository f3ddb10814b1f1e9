package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type enrollmentServiceMock struct {
	filter     models.EnrollmentFilter
	req        service.EnrollStudentRequest
	enrollErr  error
	activated  string
	deactivate error
}

func (m *enrollmentServiceMock) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.filter = filter
	return []models.EnrollmentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, req service.EnrollStudentRequest) (*models.ClassEnrollment, error) {
	m.req = req
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return &models.ClassEnrollment{ID: "e1", ClassID: req.ClassID, StudentID: req.StudentID, Status: models.EnrollmentStatusActive}, nil
}

func (m *enrollmentServiceMock) Activate(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	m.activated = id
	return &models.ClassEnrollment{ID: id, Status: models.EnrollmentStatusActive}, nil
}

func (m *enrollmentServiceMock) Deactivate(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	if m.deactivate != nil {
		return nil, m.deactivate
	}
	return &models.ClassEnrollment{ID: id, Status: models.EnrollmentStatusInactive}, nil
}

func newEnrollmentRouter(svc *enrollmentServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewEnrollmentHandler(svc)
	r := gin.New()
	r.GET("/enrollments", h.List)
	r.POST("/enrollments", h.Create)
	r.PUT("/enrollments/:id/activate", h.Activate)
	r.PUT("/enrollments/:id/deactivate", h.Deactivate)
	return r
}

func TestEnrollmentHandlerList(t *testing.T) {
	svc := &enrollmentServiceMock{}
	rec := serve(newEnrollmentRouter(svc), http.MethodGet, "/enrollments?classId=c1&status=ACTIVE&limit=50&sort=student_name&order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", svc.filter.ClassID)
	assert.Equal(t, models.EnrollmentStatusActive, svc.filter.Status)
	assert.Equal(t, 50, svc.filter.PageSize)
	assert.Equal(t, "student_name", svc.filter.SortBy)
}

func TestEnrollmentHandlerCreate(t *testing.T) {
	svc := &enrollmentServiceMock{}
	rec := serve(newEnrollmentRouter(svc), http.MethodPost, "/enrollments", []byte(`{"student_id":"s1","class_id":"c1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, service.EnrollStudentRequest{StudentID: "s1", ClassID: "c1"}, svc.req)

	rec = serve(newEnrollmentRouter(svc), http.MethodPost, "/enrollments", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.enrollErr = appErrors.Clone(appErrors.ErrConflict, "student already enrolled in class")
	rec = serve(newEnrollmentRouter(svc), http.MethodPost, "/enrollments", []byte(`{"student_id":"s1","class_id":"c1"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnrollmentHandlerStatusTransitions(t *testing.T) {
	svc := &enrollmentServiceMock{}
	r := newEnrollmentRouter(svc)

	rec := serve(r, http.MethodPut, "/enrollments/e1/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "e1", svc.activated)

	rec = serve(r, http.MethodPut, "/enrollments/e1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "inactive", data["status"])

	svc.deactivate = errors.New("db down")
	rec = serve(r, http.MethodPut, "/enrollments/e1/deactivate", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
