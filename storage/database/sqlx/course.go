package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/slug"
	"github.com/trezcool/masomo-courses/storage/database"
)

const (
	courseColumns = "id, title, slug, description, level, category, published, instructor_id, created_at, updated_at"
	moduleColumns = "id, course_id, title, position, created_at, updated_at"
	lessonColumns = "id, module_id, title, slug, position, content_url, description, duration, created_at, updated_at"

	// lessons joined with modules as l and m
	joinedLessonColumns = "l.id, l.module_id, l.title, l.slug, l.position, l.content_url, l.description, l.duration, l.created_at, l.updated_at"
)

var (
	courseOrderings = map[string]string{
		"title":      "title",
		"created_at": "created_at",
		"updated_at": "updated_at",
		"category":   "category",
	}

	slugTables = map[slug.Namespace]string{
		slug.NamespaceCourse: "courses",
		slug.NamespaceLesson: "lessons",
	}
)

type courseRepository struct {
	repository
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(exec core.DBExecutor) *courseRepository {
	return &courseRepository{repository{exec: exec}}
}

// trapNoRowsErr maps "no rows" err to notFound
func (repo courseRepository) trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return database.Wrap(err, msg)
}

// checkAffected returns notFound when res did not touch any row.
func checkAffected(res sql.Result, notFound error, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (repo courseRepository) SlugExists(ctx context.Context, ns slug.Namespace, s string, exec ...core.DBExecutor) (bool, error) {
	table, ok := slugTables[ns]
	if !ok {
		return false, errors.Errorf("unknown slug namespace %q", ns)
	}
	ex := repo.getExec(exec)
	var found int
	err := ex.GetContext(ctx, &found, ex.Rebind(`SELECT 1 FROM `+table+` WHERE slug = ?`), s)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "checking slug")
	}
	return true, nil
}

// Courses

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	ex := repo.getExec(exec)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	q := ex.Rebind(`INSERT INTO courses (title, slug, description, level, category, published, instructor_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := ex.QueryRowxContext(ctx, q,
		c.Title, c.Slug, c.Description, c.Level, c.Category, c.Published, c.InstructorID, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return course.Course{}, database.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error) {
	ex := repo.getExec(exec)

	var where string
	var arg interface{}
	switch {
	case filter.ID != 0:
		where, arg = "id = ?", filter.ID
	case filter.Slug != "":
		where, arg = "slug = ?", filter.Slug
	default:
		return course.Course{}, course.ErrNotFound
	}

	var c course.Course
	if err := ex.GetContext(ctx, &c, ex.Rebind(`SELECT `+courseColumns+` FROM courses WHERE `+where), arg); err != nil {
		return course.Course{}, repo.trapNoRowsErr(err, course.ErrNotFound, "getting course")
	}
	return c, nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter != nil {
		if filter.Search != "" {
			like := likeOperator(ex)
			conds = append(conds, "(title "+like+" ? ESCAPE '\\' OR description "+like+" ? ESCAPE '\\')")
			val := likePattern(filter.Search)
			args = append(args, val, val)
		}
		if filter.Published != nil {
			conds = append(conds, "published = ?")
			args = append(args, *filter.Published)
		}
		if filter.InstructorID != "" {
			conds = append(conds, "instructor_id = ?")
			args = append(args, filter.InstructorID)
		}
		if filter.Category != "" {
			conds = append(conds, "category = ?")
			args = append(args, filter.Category)
		}
	}

	q := `SELECT ` + courseColumns + ` FROM courses`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, courseOrderings, "created_at DESC")

	courses := make([]course.Course, 0)
	if err := ex.SelectContext(ctx, &courses, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting courses")
	}
	return courses, nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	ex := repo.getExec(exec)
	c.UpdatedAt = c.UpdatedAt.UTC()

	q := ex.Rebind(`UPDATE courses SET title = ?, description = ?, level = ?, category = ?, published = ?, instructor_id = ?, updated_at = ?
		WHERE id = ?`)
	res, err := ex.ExecContext(ctx, q, c.Title, c.Description, c.Level, c.Category, c.Published, c.InstructorID, c.UpdatedAt, c.ID)
	if err != nil {
		return course.Course{}, database.Wrap(err, "updating course")
	}
	if err = checkAffected(res, course.ErrNotFound, "updating course"); err != nil {
		return course.Course{}, err
	}
	return c, nil
}

func (repo courseRepository) DeleteCourse(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`DELETE FROM courses WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return checkAffected(res, course.ErrNotFound, "deleting course")
}

func (repo courseRepository) LockCourse(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	var found int64
	err := ex.GetContext(ctx, &found, ex.Rebind(`SELECT id FROM courses WHERE id = ?`+database.LockClause(ex)), id)
	return repo.trapNoRowsErr(err, course.ErrNotFound, "locking course")
}

// Modules

func (repo courseRepository) CreateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	ex := repo.getExec(exec)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()

	q := ex.Rebind(`INSERT INTO modules (course_id, title, position, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := ex.QueryRowxContext(ctx, q, m.CourseID, m.Title, m.Order, m.CreatedAt, m.UpdatedAt).Scan(&m.ID); err != nil {
		return course.Module{}, database.Wrap(err, "inserting module")
	}
	return m, nil
}

func (repo courseRepository) GetModule(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Module, error) {
	ex := repo.getExec(exec)
	var m course.Module
	if err := ex.GetContext(ctx, &m, ex.Rebind(`SELECT `+moduleColumns+` FROM modules WHERE id = ?`), id); err != nil {
		return course.Module{}, repo.trapNoRowsErr(err, course.ErrModuleNotFound, "getting module")
	}
	return m, nil
}

func (repo courseRepository) UpdateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	ex := repo.getExec(exec)
	m.UpdatedAt = m.UpdatedAt.UTC()

	q := ex.Rebind(`UPDATE modules SET title = ?, position = ?, updated_at = ? WHERE id = ?`)
	res, err := ex.ExecContext(ctx, q, m.Title, m.Order, m.UpdatedAt, m.ID)
	if err != nil {
		return course.Module{}, database.Wrap(err, "updating module")
	}
	if err = checkAffected(res, course.ErrModuleNotFound, "updating module"); err != nil {
		return course.Module{}, err
	}
	return m, nil
}

func (repo courseRepository) DeleteModule(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`DELETE FROM modules WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return checkAffected(res, course.ErrModuleNotFound, "deleting module")
}

func (repo courseRepository) ModulesOf(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Module, error) {
	ex := repo.getExec(exec)
	modules := make([]course.Module, 0)
	q := ex.Rebind(`SELECT ` + moduleColumns + ` FROM modules WHERE course_id = ? ORDER BY position ASC, id ASC`)
	if err := ex.SelectContext(ctx, &modules, q, courseID); err != nil {
		return nil, errors.Wrap(err, "selecting modules")
	}
	return modules, nil
}

// Lessons

func (repo courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	ex := repo.getExec(exec)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()

	q := ex.Rebind(`INSERT INTO lessons (module_id, title, slug, position, content_url, description, duration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := ex.QueryRowxContext(ctx, q,
		l.ModuleID, l.Title, l.Slug, l.Order, l.ContentURL, l.Description, l.Duration, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
	if err != nil {
		return course.Lesson{}, database.Wrap(err, "inserting lesson")
	}
	return l, nil
}

func (repo courseRepository) GetLesson(ctx context.Context, filter course.LessonFilter, exec ...core.DBExecutor) (course.Lesson, error) {
	ex := repo.getExec(exec)

	var where []string
	var args []interface{}
	switch {
	case filter.ID != 0:
		where, args = append(where, "l.id = ?"), append(args, filter.ID)
	case filter.Slug != "":
		where, args = append(where, "l.slug = ?"), append(args, filter.Slug)
	default:
		return course.Lesson{}, course.ErrLessonNotFound
	}
	if filter.CourseID != 0 {
		where, args = append(where, "m.course_id = ?"), append(args, filter.CourseID)
	}

	q := `SELECT ` + joinedLessonColumns + `
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE ` + strings.Join(where, " AND ")
	var l course.Lesson
	if err := ex.GetContext(ctx, &l, ex.Rebind(q), args...); err != nil {
		return course.Lesson{}, repo.trapNoRowsErr(err, course.ErrLessonNotFound, "getting lesson")
	}
	return l, nil
}

func (repo courseRepository) UpdateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	ex := repo.getExec(exec)
	l.UpdatedAt = l.UpdatedAt.UTC()

	q := ex.Rebind(`UPDATE lessons SET title = ?, position = ?, content_url = ?, description = ?, duration = ?, updated_at = ?
		WHERE id = ?`)
	res, err := ex.ExecContext(ctx, q, l.Title, l.Order, l.ContentURL, l.Description, l.Duration, l.UpdatedAt, l.ID)
	if err != nil {
		return course.Lesson{}, database.Wrap(err, "updating lesson")
	}
	if err = checkAffected(res, course.ErrLessonNotFound, "updating lesson"); err != nil {
		return course.Lesson{}, err
	}
	return l, nil
}

func (repo courseRepository) DeleteLesson(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`DELETE FROM lessons WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return checkAffected(res, course.ErrLessonNotFound, "deleting lesson")
}

func (repo courseRepository) LessonsOf(ctx context.Context, moduleID int64, exec ...core.DBExecutor) ([]course.Lesson, error) {
	ex := repo.getExec(exec)
	lessons := make([]course.Lesson, 0)
	q := ex.Rebind(`SELECT ` + lessonColumns + ` FROM lessons WHERE module_id = ? ORDER BY position ASC, id ASC`)
	if err := ex.SelectContext(ctx, &lessons, q, moduleID); err != nil {
		return nil, errors.Wrap(err, "selecting lessons")
	}
	return lessons, nil
}

func (repo courseRepository) CourseLessons(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Lesson, error) {
	ex := repo.getExec(exec)
	lessons := make([]course.Lesson, 0)
	q := ex.Rebind(`SELECT ` + joinedLessonColumns + `
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE m.course_id = ?
		ORDER BY m.position ASC, m.id ASC, l.position ASC, l.id ASC`)
	if err := ex.SelectContext(ctx, &lessons, q, courseID); err != nil {
		return nil, errors.Wrap(err, "selecting course lessons")
	}
	return lessons, nil
}

func (repo courseRepository) LessonCount(ctx context.Context, courseID int64, exec ...core.DBExecutor) (int, error) {
	ex := repo.getExec(exec)
	var count int
	q := ex.Rebind(`SELECT COUNT(*) FROM lessons l JOIN modules m ON m.id = l.module_id WHERE m.course_id = ?`)
	if err := ex.GetContext(ctx, &count, q, courseID); err != nil {
		return 0, errors.Wrap(err, "counting lessons")
	}
	return count, nil
}

func (repo courseRepository) LessonCourseID(ctx context.Context, lessonID int64, exec ...core.DBExecutor) (int64, error) {
	ex := repo.getExec(exec)
	var courseID int64
	q := ex.Rebind(`SELECT m.course_id FROM lessons l JOIN modules m ON m.id = l.module_id WHERE l.id = ?`)
	if err := ex.GetContext(ctx, &courseID, q, lessonID); err != nil {
		return 0, repo.trapNoRowsErr(err, course.ErrLessonNotFound, "getting lesson course")
	}
	return courseID, nil
}
