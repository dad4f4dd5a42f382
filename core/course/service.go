package course

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/slug"
)

var (
	// errors
	ErrNotFound       = errors.New("course not found")
	ErrModuleNotFound = errors.New("module not found")
	ErrLessonNotFound = errors.New("lesson not found")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		slug.Store

		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Course.Title or Course.Description.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// DeleteCourse deletes the course and, by cascade, its outline, completions and enrollments.
		DeleteCourse(ctx context.Context, id int64, exec ...core.DBExecutor) error
		// LockCourse locks the course row until the end of the transaction.
		LockCourse(ctx context.Context, id int64, exec ...core.DBExecutor) error

		CreateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		GetModule(ctx context.Context, id int64, exec ...core.DBExecutor) (Module, error)
		UpdateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		DeleteModule(ctx context.Context, id int64, exec ...core.DBExecutor) error
		// ModulesOf returns the modules of a course by Order, then ID.
		ModulesOf(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Module, error)

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		GetLesson(ctx context.Context, filter LessonFilter, exec ...core.DBExecutor) (Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		DeleteLesson(ctx context.Context, id int64, exec ...core.DBExecutor) error
		// LessonsOf returns the lessons of a module by Order, then ID.
		LessonsOf(ctx context.Context, moduleID int64, exec ...core.DBExecutor) ([]Lesson, error)
		// CourseLessons returns all lessons of a course in outline order.
		CourseLessons(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Lesson, error)
		LessonCount(ctx context.Context, courseID int64, exec ...core.DBExecutor) (int, error)
		LessonCourseID(ctx context.Context, lessonID int64, exec ...core.DBExecutor) (int64, error)
	}

	// Recomputer re-evaluates the enrollments of a course whose outline changed.
	Recomputer interface {
		// LockCourse locks the enrollments of the course. It is called before the outline is written.
		LockCourse(ctx context.Context, exec core.DBExecutor, courseID int64) error
		RecomputeCourse(ctx context.Context, exec core.DBExecutor, courseID int64) error
	}

	Service struct {
		db         core.DB
		repo       Repository
		slugs      *slug.Allocator
		recomputer Recomputer
		logger     core.Logger
	}
)

func NewService(db core.DB, repo Repository, recomputer Recomputer, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		db:         db,
		repo:       repo,
		slugs:      slug.NewAllocator(repo, conf),
		recomputer: recomputer,
		logger:     logger,
	}
}

// slugErr maps slug allocation errors: an unusable title is a validation error,
// running out of attempts is logged and returned as is.
func (svc *Service) slugErr(err error, msg string) error {
	switch errors.Cause(err) {
	case slug.ErrInvalidTitle:
		return core.NewValidationError(err, core.FieldError{Field: "title", Error: slug.ErrInvalidTitle.Error()})
	case slug.ErrAllocationExhausted:
		svc.logger.Error(fmt.Sprintf("%s: %v", msg, err), err)
	}
	return errors.Wrap(err, msg)
}

// changeOutline runs write inside tx with the course and all of its enrollments locked,
// then re-evaluates every enrollment of the course before tx commits.
func (svc *Service) changeOutline(ctx context.Context, tx *core.Tx, courseID int64, write func() error) error {
	if err := svc.repo.LockCourse(ctx, courseID, tx); err != nil {
		return err
	}
	if err := svc.recomputer.LockCourse(ctx, tx, courseID); err != nil {
		return errors.Wrap(err, "locking enrollments")
	}
	if err := write(); err != nil {
		return err
	}
	return errors.Wrap(svc.recomputer.RecomputeCourse(ctx, tx, courseID), "recomputing enrollments")
}

// Courses

func (svc *Service) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	now := NowFunc().UTC()
	c := Course{
		Title:        nc.Title,
		Description:  nc.Description,
		Level:        nc.Level,
		Category:     nc.Category,
		Published:    nc.Published,
		InstructorID: null.NewString(nc.InstructorID, nc.InstructorID != ""),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var created Course
	err := svc.slugs.Insert(ctx, svc.db, nc.Title, slug.NamespaceCourse, func(tx *core.Tx, s string) error {
		c.Slug = s
		var err error
		created, err = svc.repo.CreateCourse(ctx, c, tx)
		return err
	})
	if err != nil {
		return Course{}, svc.slugErr(err, "creating course")
	}
	return created, nil
}

func (svc *Service) GetCourse(ctx context.Context, filter GetFilter) (Course, error) {
	return svc.repo.GetCourse(ctx, filter)
}

func (svc *Service) QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *Service) UpdateCourse(ctx context.Context, id int64, uc UpdateCourse) (Course, error) {
	var updated Course
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		c, err := svc.repo.GetCourse(ctx, GetFilter{ID: id}, tx)
		if err != nil {
			return err
		}
		if uc.Title != nil {
			c.Title = *uc.Title
		}
		if uc.Description != nil {
			c.Description = *uc.Description
		}
		if uc.Level != nil {
			c.Level = *uc.Level
		}
		if uc.Category != nil {
			c.Category = *uc.Category
		}
		if uc.Published != nil {
			c.Published = *uc.Published
		}
		c.UpdatedAt = NowFunc().UTC()
		updated, err = svc.repo.UpdateCourse(ctx, c, tx)
		return err
	})
	return updated, err
}

func (svc *Service) SetPublished(ctx context.Context, id int64, published bool) (Course, error) {
	return svc.UpdateCourse(ctx, id, UpdateCourse{Published: &published})
}

func (svc *Service) DeleteCourse(ctx context.Context, id int64) error {
	return svc.repo.DeleteCourse(ctx, id)
}

// Outline returns the course with its modules and lessons in display order.
func (svc *Service) Outline(ctx context.Context, filter GetFilter) (Outline, error) {
	var outline Outline
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		c, err := svc.repo.GetCourse(ctx, filter, tx)
		if err != nil {
			return err
		}
		modules, err := svc.repo.ModulesOf(ctx, c.ID, tx)
		if err != nil {
			return errors.Wrap(err, "querying modules")
		}
		lessons, err := svc.repo.CourseLessons(ctx, c.ID, tx)
		if err != nil {
			return errors.Wrap(err, "querying lessons")
		}
		outline = buildOutline(c, modules, lessons)
		return nil
	}, core.ReadSnapshot)
	return outline, err
}

// buildOutline groups lessons (already in outline order) under their modules.
func buildOutline(c Course, modules []Module, lessons []Lesson) Outline {
	byModule := make(map[int64][]Lesson, len(modules))
	for _, l := range lessons {
		byModule[l.ModuleID] = append(byModule[l.ModuleID], l)
	}

	outline := Outline{Course: c, Modules: make([]OutlineModule, 0, len(modules)), LessonCount: len(lessons)}
	for _, m := range modules {
		ls := byModule[m.ID]
		if ls == nil {
			ls = []Lesson{}
		}
		outline.Modules = append(outline.Modules, OutlineModule{Module: m, Lessons: ls})
	}
	return outline
}

// Modules

func (svc *Service) ModulesOf(ctx context.Context, courseID int64) ([]Module, error) {
	return svc.repo.ModulesOf(ctx, courseID)
}

func (svc *Service) GetModule(ctx context.Context, id int64) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

func (svc *Service) AddModule(ctx context.Context, courseID int64, nm NewModule) (Module, error) {
	now := NowFunc().UTC()
	var created Module
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		return svc.changeOutline(ctx, tx, courseID, func() error {
			var err error
			created, err = svc.repo.CreateModule(ctx, Module{
				CourseID:  courseID,
				Title:     nm.Title,
				Order:     nm.Order,
				CreatedAt: now,
				UpdatedAt: now,
			}, tx)
			return err
		})
	})
	return created, err
}

func (svc *Service) UpdateModule(ctx context.Context, id int64, um UpdateModule) (Module, error) {
	var updated Module
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		m, err := svc.repo.GetModule(ctx, id, tx)
		if err != nil {
			return err
		}
		reordered := um.Order != nil && *um.Order != m.Order
		if um.Title != nil {
			m.Title = *um.Title
		}
		if um.Order != nil {
			m.Order = *um.Order
		}
		m.UpdatedAt = NowFunc().UTC()

		write := func() error {
			updated, err = svc.repo.UpdateModule(ctx, m, tx)
			return err
		}
		if reordered {
			return svc.changeOutline(ctx, tx, m.CourseID, write)
		}
		return write()
	})
	return updated, err
}

// DeleteModule deletes the module, its lessons and their completions, then re-evaluates the course's enrollments.
func (svc *Service) DeleteModule(ctx context.Context, id int64) error {
	return core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		m, err := svc.repo.GetModule(ctx, id, tx)
		if err != nil {
			return err
		}
		return svc.changeOutline(ctx, tx, m.CourseID, func() error {
			return svc.repo.DeleteModule(ctx, id, tx)
		})
	})
}

// Lessons

func (svc *Service) LessonsOf(ctx context.Context, moduleID int64) ([]Lesson, error) {
	return svc.repo.LessonsOf(ctx, moduleID)
}

func (svc *Service) LessonCount(ctx context.Context, courseID int64) (int, error) {
	return svc.repo.LessonCount(ctx, courseID)
}

func (svc *Service) GetLesson(ctx context.Context, filter LessonFilter) (Lesson, error) {
	return svc.repo.GetLesson(ctx, filter)
}

func (svc *Service) LessonCourseID(ctx context.Context, lessonID int64) (int64, error) {
	return svc.repo.LessonCourseID(ctx, lessonID)
}

func (svc *Service) AddLesson(ctx context.Context, moduleID int64, nl NewLesson) (Lesson, error) {
	now := NowFunc().UTC()
	l := Lesson{
		ModuleID:    moduleID,
		Title:       nl.Title,
		Order:       nl.Order,
		ContentURL:  null.NewString(nl.ContentURL, nl.ContentURL != ""),
		Description: null.NewString(nl.Description, nl.Description != ""),
		Duration:    null.NewString(nl.Duration, nl.Duration != ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var created Lesson
	err := svc.slugs.Insert(ctx, svc.db, nl.Title, slug.NamespaceLesson, func(tx *core.Tx, s string) error {
		m, err := svc.repo.GetModule(ctx, moduleID, tx)
		if err != nil {
			return err
		}
		return svc.changeOutline(ctx, tx, m.CourseID, func() error {
			l.Slug = s
			created, err = svc.repo.CreateLesson(ctx, l, tx)
			return err
		})
	})
	if err != nil {
		return Lesson{}, svc.slugErr(err, "creating lesson")
	}
	return created, nil
}

func (svc *Service) UpdateLesson(ctx context.Context, id int64, ul UpdateLesson) (Lesson, error) {
	var updated Lesson
	err := core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		l, err := svc.repo.GetLesson(ctx, LessonFilter{ID: id}, tx)
		if err != nil {
			return err
		}
		reordered := ul.Order != nil && *ul.Order != l.Order
		if ul.Title != nil {
			l.Title = *ul.Title
		}
		if ul.Order != nil {
			l.Order = *ul.Order
		}
		if ul.ContentURL != nil {
			l.ContentURL = null.NewString(*ul.ContentURL, *ul.ContentURL != "")
		}
		if ul.Description != nil {
			l.Description = null.NewString(*ul.Description, *ul.Description != "")
		}
		if ul.Duration != nil {
			l.Duration = null.NewString(*ul.Duration, *ul.Duration != "")
		}
		l.UpdatedAt = NowFunc().UTC()

		write := func() error {
			updated, err = svc.repo.UpdateLesson(ctx, l, tx)
			return err
		}
		if !reordered {
			return write()
		}
		courseID, err := svc.repo.LessonCourseID(ctx, id, tx)
		if err != nil {
			return err
		}
		return svc.changeOutline(ctx, tx, courseID, write)
	})
	return updated, err
}

// DeleteLesson deletes the lesson and its completions, then re-evaluates the course's enrollments.
func (svc *Service) DeleteLesson(ctx context.Context, id int64) error {
	return core.RunInTx(ctx, svc.db, func(tx *core.Tx) error {
		courseID, err := svc.repo.LessonCourseID(ctx, id, tx)
		if err != nil {
			return err
		}
		return svc.changeOutline(ctx, tx, courseID, func() error {
			return svc.repo.DeleteLesson(ctx, id, tx)
		})
	})
}
