package course

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-courses/core"
)

type Course struct {
	ID           int64       `db:"id" json:"id"`
	Title        string      `db:"title" json:"title"`
	Slug         string      `db:"slug" json:"slug"`
	Description  string      `db:"description" json:"description"`
	Level        string      `db:"level" json:"level"`
	Category     string      `db:"category" json:"category"`
	Published    bool        `db:"published" json:"published"`
	InstructorID null.String `db:"instructor_id" json:"instructor_id"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"` // UTC
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"` // UTC
}

// IsOwnedBy reports whether userID is the course's instructor.
func (c Course) IsOwnedBy(userID string) bool {
	return c.InstructorID.Valid && c.InstructorID.String == userID
}

type Module struct {
	ID        int64     `db:"id" json:"id"`
	CourseID  int64     `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	Order     int       `db:"position" json:"order"`
	CreatedAt time.Time `db:"created_at" json:"created_at"` // UTC
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"` // UTC
}

type Lesson struct {
	ID          int64       `db:"id" json:"id"`
	ModuleID    int64       `db:"module_id" json:"module_id"`
	Title       string      `db:"title" json:"title"`
	Slug        string      `db:"slug" json:"slug"`
	Order       int         `db:"position" json:"order"`
	ContentURL  null.String `db:"content_url" json:"content_url"`
	Description null.String `db:"description" json:"description"`
	Duration    null.String `db:"duration" json:"duration"` // free text, eg: "10:30"
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Outline is a course with its modules and their lessons, all in display order.
type Outline struct {
	Course      Course          `json:"course"`
	Modules     []OutlineModule `json:"modules"`
	LessonCount int             `json:"lesson_count"`
}

// WithoutContent returns a copy of the outline with lesson content URLs removed.
func (o Outline) WithoutContent() Outline {
	modules := make([]OutlineModule, 0, len(o.Modules))
	for _, m := range o.Modules {
		lessons := make([]Lesson, 0, len(m.Lessons))
		for _, l := range m.Lessons {
			l.ContentURL = null.String{}
			lessons = append(lessons, l)
		}
		modules = append(modules, OutlineModule{Module: m.Module, Lessons: lessons})
	}
	o.Modules = modules
	return o
}

type OutlineModule struct {
	Module
	Lessons []Lesson `json:"lessons"`
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title        string `json:"title" validate:"required,notblank,max=200,slugtitle"`
	Description  string `json:"description"`
	Level        string `json:"level" validate:"max=50"`
	Category     string `json:"category" validate:"max=100"`
	Published    bool   `json:"published"`
	InstructorID string `json:"instructor_id" validate:"omitempty,uuid"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Level = core.CleanString(nc.Level)
	nc.Category = core.CleanString(nc.Category)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
// The slug is assigned once at creation and never changes.
type UpdateCourse struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description"`
	Level       *string `json:"level" validate:"omitempty,max=50"`
	Category    *string `json:"category" validate:"omitempty,max=100"`
	Published   *bool   `json:"published"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Title = core.CleanStringPtr(uc.Title)
	uc.Level = core.CleanStringPtr(uc.Level)
	uc.Category = core.CleanStringPtr(uc.Category)
	return validate.Struct(uc)
}

type NewModule struct {
	Title string `json:"title" validate:"required,notblank,max=200"`
	Order int    `json:"order" validate:"min=0"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	return validate.Struct(nm)
}

type UpdateModule struct {
	Title *string `json:"title" validate:"omitempty,notblank,max=200"`
	Order *int    `json:"order" validate:"omitempty,min=0"`
}

func (um *UpdateModule) Validate(validate *validator.Validate) error {
	um.Title = core.CleanStringPtr(um.Title)
	return validate.Struct(um)
}

type NewLesson struct {
	Title       string `json:"title" validate:"required,notblank,max=200,slugtitle"`
	Order       int    `json:"order" validate:"min=0"`
	ContentURL  string `json:"content_url" validate:"omitempty,url,max=500"`
	Description string `json:"description"`
	Duration    string `json:"duration" validate:"max=20"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.ContentURL = core.CleanString(nl.ContentURL)
	nl.Duration = core.CleanString(nl.Duration)
	return validate.Struct(nl)
}

// UpdateLesson defines what information may be provided to modify an existing Lesson. The slug never changes.
type UpdateLesson struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Order       *int    `json:"order" validate:"omitempty,min=0"`
	ContentURL  *string `json:"content_url" validate:"omitempty,url,max=500"`
	Description *string `json:"description"`
	Duration    *string `json:"duration" validate:"omitempty,max=20"`
}

func (ul *UpdateLesson) Validate(validate *validator.Validate) error {
	ul.Title = core.CleanStringPtr(ul.Title)
	ul.ContentURL = core.CleanStringPtr(ul.ContentURL)
	ul.Duration = core.CleanStringPtr(ul.Duration)
	return validate.Struct(ul)
}

type QueryFilter struct {
	Search       string `query:"search"`
	Published    *bool  `query:"published"`
	InstructorID string `query:"instructor_id"`
	Category     string `query:"category"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Category = core.CleanString(qf.Category)
}

// GetFilter looks a course up by ID or Slug; ID takes precedence.
type GetFilter struct {
	ID   int64
	Slug string
}

// LessonFilter looks a lesson up by ID or Slug; ID takes precedence.
// A non-zero CourseID only matches lessons of that course.
type LessonFilter struct {
	ID       int64
	Slug     string
	CourseID int64
}
