package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeEnrollmentRepo struct {
	byID      map[string]*models.ClassEnrollment
	createErr error
	updates   []models.EnrollmentStatus
	deleted   []string
	deleteErr error
	listed    models.EnrollmentFilter
}

func newFakeEnrollmentRepo(enrollments ...models.ClassEnrollment) *fakeEnrollmentRepo {
	repo := &fakeEnrollmentRepo{byID: map[string]*models.ClassEnrollment{}}
	for i := range enrollments {
		e := enrollments[i]
		repo.byID[e.ID] = &e
	}
	return repo
}

func (f *fakeEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.listed = filter
	var out []models.EnrollmentDetail
	for _, e := range f.byID {
		out = append(out, models.EnrollmentDetail{ClassEnrollment: *e})
	}
	return out, len(out), nil
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.ClassEnrollment, error) {
	if e, ok := f.byID[id]; ok {
		clone := *e
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) FindByClassAndStudent(ctx context.Context, classID, studentID string) (*models.ClassEnrollment, error) {
	for _, e := range f.byID {
		if e.ClassID == classID && e.StudentID == studentID {
			clone := *e
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, enrollment *models.ClassEnrollment) error {
	if f.createErr != nil {
		return f.createErr
	}
	enrollment.ID = "enr-new"
	clone := *enrollment
	f.byID[enrollment.ID] = &clone
	return nil
}

func (f *fakeEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	e, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	f.updates = append(f.updates, status)
	return nil
}

func (f *fakeEnrollmentRepo) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeStudentReader struct {
	users map[string]models.User
}

func (f *fakeStudentReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func newEnrollmentServiceUnderTest(repo *fakeEnrollmentRepo) (*EnrollmentService, *fakePublisher) {
	students := &fakeStudentReader{users: map[string]models.User{
		"s1": {ID: "s1", FullName: "Siti", Role: models.RoleStudent},
		"s2": {ID: "s2", FullName: "Budi", Role: models.RoleStudent},
		"t1": {ID: "t1", FullName: "Teacher", Role: models.RoleTeacher},
	}}
	classes := &fakeClassReader{classes: map[string]models.Class{"class-1": {ID: "class-1", Name: "7A"}}}
	publisher := &fakePublisher{}
	return NewEnrollmentService(repo, students, classes, publisher, nil, nil), publisher
}

func TestEnrollmentServiceEnrollActivePublishes(t *testing.T) {
	repo := newFakeEnrollmentRepo()
	svc, publisher := newEnrollmentServiceUnderTest(repo)

	enrollment, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)

	require.Len(t, publisher.published, 1)
	evt, ok := publisher.published[0].(events.StudentEnrolledInClass)
	require.True(t, ok)
	assert.Equal(t, "s1", evt.Student.ID)
	assert.Equal(t, "class-1", evt.Class.ID)
	assert.Equal(t, events.TypeStudentEnrolledInClass, evt.EventType())
}

func TestEnrollmentServiceEnrollPendingDoesNotPublish(t *testing.T) {
	svc, publisher := newEnrollmentServiceUnderTest(newFakeEnrollmentRepo())

	enrollment, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1", Status: models.EnrollmentStatusPending})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Empty(t, publisher.published)
}

func TestEnrollmentServiceEnrollFailures(t *testing.T) {
	existing := []models.ClassEnrollment{
		{ID: "e1", ClassID: "class-1", StudentID: "s1", Status: models.EnrollmentStatusActive},
		{ID: "e2", ClassID: "class-1", StudentID: "s2", Status: models.EnrollmentStatusInactive},
	}
	cases := []struct {
		name string
		req  EnrollStudentRequest
		want *appErrors.Error
	}{
		{name: "missing fields", req: EnrollStudentRequest{StudentID: "s1"}, want: appErrors.ErrValidation},
		{name: "bad status", req: EnrollStudentRequest{StudentID: "s1", ClassID: "class-1", Status: models.EnrollmentStatusInactive}, want: appErrors.ErrValidation},
		{name: "unknown student", req: EnrollStudentRequest{StudentID: "ghost", ClassID: "class-1"}, want: appErrors.ErrNotFound},
		{name: "not a student", req: EnrollStudentRequest{StudentID: "t1", ClassID: "class-1"}, want: appErrors.ErrPreconditionFailed},
		{name: "unknown class", req: EnrollStudentRequest{StudentID: "s1", ClassID: "ghost"}, want: appErrors.ErrNotFound},
		{name: "already enrolled", req: EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"}, want: appErrors.ErrConflict},
		{name: "inactive enrollment", req: EnrollStudentRequest{StudentID: "s2", ClassID: "class-1"}, want: appErrors.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, publisher := newEnrollmentServiceUnderTest(newFakeEnrollmentRepo(existing...))
			_, err := svc.Enroll(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Empty(t, publisher.published)
		})
	}
}

func TestEnrollmentServiceEnrollUniqueViolation(t *testing.T) {
	repo := newFakeEnrollmentRepo()
	repo.createErr = &pq.Error{Code: "23505"}
	svc, publisher := newEnrollmentServiceUnderTest(repo)

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, publisher.published)
}

func TestEnrollmentServiceEnrollSurfacesPropagationError(t *testing.T) {
	svc, publisher := newEnrollmentServiceUnderTest(newFakeEnrollmentRepo())
	publisher.onPublish = func(events.Event) error { return errors.New("listener failed") }

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestEnrollmentServiceEnrollRetryAfterPropagationFailure(t *testing.T) {
	repo := newFakeEnrollmentRepo()
	svc, publisher := newEnrollmentServiceUnderTest(repo)
	publisher.onPublish = func(events.Event) error { return errors.New("listener failed") }
	req := EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"}

	_, err := svc.Enroll(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, []string{"enr-new"}, repo.deleted)
	assert.Empty(t, repo.byID)

	publisher.onPublish = nil
	enrollment, err := svc.Enroll(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Len(t, repo.byID, 1)
	assert.Len(t, publisher.published, 2)
}

func TestEnrollmentServiceEnrollStoresRowBeforePublishing(t *testing.T) {
	repo := newFakeEnrollmentRepo()
	svc, publisher := newEnrollmentServiceUnderTest(repo)
	var stored bool
	publisher.onPublish = func(events.Event) error {
		_, err := repo.FindByClassAndStudent(context.Background(), "class-1", "s1")
		stored = err == nil
		return nil
	}

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestEnrollmentServiceEnrollRollbackFailureKeepsOriginalError(t *testing.T) {
	repo := newFakeEnrollmentRepo()
	repo.deleteErr = errors.New("connection reset")
	svc, publisher := newEnrollmentServiceUnderTest(repo)
	publisher.onPublish = func(events.Event) error { return errors.New("listener failed") }

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "s1", ClassID: "class-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
	assert.Contains(t, err.Error(), "listener failed")
}

func TestEnrollmentServiceActivate(t *testing.T) {
	repo := newFakeEnrollmentRepo(models.ClassEnrollment{ID: "e1", ClassID: "class-1", StudentID: "s1", Status: models.EnrollmentStatusPending})
	svc, publisher := newEnrollmentServiceUnderTest(repo)

	enrollment, err := svc.Activate(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusActive}, repo.updates)
	require.Len(t, publisher.published, 1)

	// Re-activating leaves the row alone but raises the event again.
	_, err = svc.Activate(context.Background(), "e1")
	require.NoError(t, err)
	assert.Len(t, repo.updates, 1)
	assert.Len(t, publisher.published, 2)
}

func TestEnrollmentServiceActivateMissing(t *testing.T) {
	svc, publisher := newEnrollmentServiceUnderTest(newFakeEnrollmentRepo())
	_, err := svc.Activate(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, publisher.published)
}

func TestEnrollmentServiceDeactivate(t *testing.T) {
	repo := newFakeEnrollmentRepo(models.ClassEnrollment{ID: "e1", ClassID: "class-1", StudentID: "s1", Status: models.EnrollmentStatusActive})
	svc, publisher := newEnrollmentServiceUnderTest(repo)

	enrollment, err := svc.Deactivate(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusInactive, enrollment.Status)
	assert.Empty(t, publisher.published)

	_, err = svc.Deactivate(context.Background(), "e1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestEnrollmentServiceListNormalizesPagination(t *testing.T) {
	repo := newFakeEnrollmentRepo(models.ClassEnrollment{ID: "e1", ClassID: "class-1", StudentID: "s1", Status: models.EnrollmentStatusActive})
	svc, _ := newEnrollmentServiceUnderTest(repo)

	items, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{ClassID: "class-1", PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, "class-1", repo.listed.ClassID)
}
