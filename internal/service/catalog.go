package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tasukuchiba/ifocus/internal/cache"
	"github.com/tasukuchiba/ifocus/internal/models"
	"github.com/tasukuchiba/ifocus/internal/storage"
)

// coursesCacheKey はコース一覧のキャッシュキー
const coursesCacheKey = "catalog:courses"

// CatalogService はコースと科目の操作。一覧はキャッシュする
type CatalogService struct {
	store storage.CatalogStore
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger

	// genは変更のたびに進む。読み込み中に変更があれば古い一覧をキャッシュしない
	mu  sync.Mutex
	gen uint64
}

// NewCatalogService は新しいCatalogServiceを作成する
func NewCatalogService(store storage.CatalogStore, c cache.Cache, ttl time.Duration, log *slog.Logger) *CatalogService {
	return &CatalogService{store: store, cache: c, ttl: ttl, log: log}
}

// ListCourses は科目付きの全コースを返す
func (s *CatalogService) ListCourses(ctx context.Context) ([]models.Course, error) {
	if data, ok, err := s.cache.Get(ctx, coursesCacheKey); err != nil {
		s.log.Warn("Course cache read failed", "error", err)
	} else if ok {
		var courses []models.Course
		if err := json.Unmarshal(data, &courses); err == nil {
			return courses, nil
		}
		s.log.Warn("Discarding undecodable course cache entry")
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	if data, err := json.Marshal(courses); err == nil {
		s.mu.Lock()
		if s.gen == gen {
			if err := s.cache.Set(ctx, coursesCacheKey, data, s.ttl); err != nil {
				s.log.Warn("Course cache write failed", "error", err)
			}
		}
		s.mu.Unlock()
	}
	return courses, nil
}

// invalidate はコース一覧のキャッシュを破棄する。ストレージへの書き込みの後に呼ぶ
func (s *CatalogService) invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if err := s.cache.Delete(ctx, coursesCacheKey); err != nil {
		s.log.Warn("Course cache invalidation failed", "error", err)
	}
}

func notFoundOr(err error, what, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrNotFound, "%s not found", what)
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return newError(ErrConflict, "%s already exists", what)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newError(ErrInvalidArgument, "name is required")
	}
	return name, nil
}

// GetCourse はコースを返す
func (s *CatalogService) GetCourse(ctx context.Context, courseID string) (models.Course, error) {
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return models.Course{}, notFoundOr(err, "course", "get course %s", courseID)
	}
	return course, nil
}

// CreateCourse はコースを作成する
func (s *CatalogService) CreateCourse(ctx context.Context, courseID, name string) (models.Course, error) {
	name, err := requireName(name)
	if err != nil {
		return models.Course{}, err
	}
	course := models.Course{ID: courseID, Name: name}
	if err := s.store.CreateCourse(ctx, course); err != nil {
		return models.Course{}, notFoundOr(err, "course", "create course %s", courseID)
	}
	s.invalidate(ctx)
	s.log.Info("Course created", "course_id", courseID)
	return course, nil
}

// RenameCourse はコース名を変更する
func (s *CatalogService) RenameCourse(ctx context.Context, courseID, name string) (models.Course, error) {
	name, err := requireName(name)
	if err != nil {
		return models.Course{}, err
	}
	if err := s.store.RenameCourse(ctx, courseID, name); err != nil {
		return models.Course{}, notFoundOr(err, "course", "rename course %s", courseID)
	}
	s.invalidate(ctx)
	return models.Course{ID: courseID, Name: name}, nil
}

// DeleteCourse はコースを削除する
func (s *CatalogService) DeleteCourse(ctx context.Context, courseID string) error {
	if err := s.store.DeleteCourse(ctx, courseID); err != nil {
		return notFoundOr(err, "course", "delete course %s", courseID)
	}
	s.invalidate(ctx)
	s.log.Info("Course deleted", "course_id", courseID)
	return nil
}

// ListDisciplines はコースの科目を返す
func (s *CatalogService) ListDisciplines(ctx context.Context, courseID string) ([]models.Discipline, error) {
	disciplines, err := s.store.ListDisciplines(ctx, courseID)
	if err != nil {
		return nil, notFoundOr(err, "course", "list disciplines of %s", courseID)
	}
	return disciplines, nil
}

// GetDiscipline は科目を返す
func (s *CatalogService) GetDiscipline(ctx context.Context, courseID, disciplineID string) (models.Discipline, error) {
	d, err := s.store.GetDiscipline(ctx, courseID, disciplineID)
	if err != nil {
		return models.Discipline{}, notFoundOr(err, "discipline", "get discipline %s/%s", courseID, disciplineID)
	}
	return d, nil
}

// CreateDiscipline はコースに科目を追加する
func (s *CatalogService) CreateDiscipline(ctx context.Context, courseID, disciplineID, name string) (models.Discipline, error) {
	name, err := requireName(name)
	if err != nil {
		return models.Discipline{}, err
	}
	d := models.Discipline{ID: disciplineID, Name: name}
	if err := s.store.CreateDiscipline(ctx, courseID, d); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Discipline{}, newError(ErrNotFound, "course not found")
		}
		return models.Discipline{}, notFoundOr(err, "discipline", "create discipline %s/%s", courseID, disciplineID)
	}
	s.invalidate(ctx)
	return d, nil
}

// RenameDiscipline は科目名を変更する
func (s *CatalogService) RenameDiscipline(ctx context.Context, courseID, disciplineID, name string) (models.Discipline, error) {
	name, err := requireName(name)
	if err != nil {
		return models.Discipline{}, err
	}
	if err := s.store.RenameDiscipline(ctx, courseID, disciplineID, name); err != nil {
		return models.Discipline{}, notFoundOr(err, "discipline", "rename discipline %s/%s", courseID, disciplineID)
	}
	s.invalidate(ctx)
	return models.Discipline{ID: disciplineID, Name: name}, nil
}

// DeleteDiscipline は科目を削除する
func (s *CatalogService) DeleteDiscipline(ctx context.Context, courseID, disciplineID string) error {
	if err := s.store.DeleteDiscipline(ctx, courseID, disciplineID); err != nil {
		return notFoundOr(err, "discipline", "delete discipline %s/%s", courseID, disciplineID)
	}
	s.invalidate(ctx)
	return nil
}

// Seed は存在しないコースと科目だけを追加する。追加した件数を返す
func (s *CatalogService) Seed(ctx context.Context, courses []models.Course) (int, error) {
	added := 0
	for _, c := range courses {
		err := s.store.CreateCourse(ctx, c)
		if err == nil {
			added += 1 + len(c.Disciplines)
			continue
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return added, fmt.Errorf("seed course %s: %w", c.ID, err)
		}
		for _, d := range c.Disciplines {
			err := s.store.CreateDiscipline(ctx, c.ID, d)
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return added, fmt.Errorf("seed discipline %s/%s: %w", c.ID, d.ID, err)
			}
			added++
		}
	}
	if added > 0 {
		s.invalidate(ctx)
	}
	return added, nil
}
