package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

// CourseOverviewCacheKey holds the public course list.
const CourseOverviewCacheKey = "courses:overview"

type courseLister interface {
	List(ctx context.Context) ([]*models.Course, error)
}

// CourseService serves course read models.
type CourseService struct {
	repo   courseLister
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewCourseService constructs a CourseService. cache may be nil.
func NewCourseService(repo courseLister, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// ListOverview returns the public course list with free seats.
func (s *CourseService) ListOverview(ctx context.Context) ([]models.CourseOverview, error) {
	var cached []models.CourseOverview
	if s.cache.Get(ctx, CourseOverviewCacheKey, &cached) {
		return cached, nil
	}

	courses, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	overview := make([]models.CourseOverview, 0, len(courses))
	for _, course := range courses {
		overview = append(overview, toOverview(course))
	}
	s.cache.Set(ctx, CourseOverviewCacheKey, overview, s.ttl)
	return overview, nil
}

func toOverview(course *models.Course) models.CourseOverview {
	out := models.CourseOverview{
		ID:             course.ID,
		Name:           course.FullName(),
		Level:          course.Level,
		Limit:          course.Limit,
		Vacancies:      course.Vacancies(),
		HasWaitingList: course.HasWaitingList,
		Price:          course.Price,
	}
	if course.Language != nil {
		out.Language = course.Language.Name
		out.SignupBegin = course.Language.SignupBegin
		out.SignupEnd = course.Language.SignupEnd
	}
	return out
}
