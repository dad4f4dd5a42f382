package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/progress"
)

type progressApi struct {
	svc     *progress.Service
	courses *course.Service
}

func registerProgressAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *progress.Service, courses *course.Service) {
	api := progressApi{
		svc:     svc,
		courses: courses,
	}

	// registered on g: a second "/courses" group would override the course API's catch-all routes
	g.POST("/courses/:id/enroll", api.enroll, jwt)
	g.GET("/courses/:id/progress", api.progress, jwt)
	g.GET("/courses/:id/students", api.students, jwt, authorMiddleware(), ownerMiddleware(courses, courseOfCourse))
	// course and lesson slugs
	g.GET("/courses/:id/lessons/:lesson", api.lesson, jwt)
	g.PUT("/lessons/:id/completion", api.toggleCompletion, jwt)
	g.GET("/users/:id/enrollments", api.enrollments, jwt, ctxUserOrAdminMiddleware())
}

type (
	CompletionRequest struct {
		Completed bool `json:"completed"`
	}

	ProgressResponse struct {
		progress.Snapshot
		CompletedLessons []int64 `json:"completed_lessons"`
	}

	LessonResponse struct {
		course.Lesson
		Completed bool `json:"completed"`
	}
)

// visibleCourse returns the :id course unless it is hidden from the authenticated user.
func (api *progressApi) visibleCourse(ctx echo.Context) (course.Course, Claims, error) {
	id, err := idParam(ctx, "id")
	if err != nil {
		return course.Course{}, Claims{}, err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return course.Course{}, Claims{}, errors.Wrap(err, "getting context claims")
	}
	c, err := api.courses.GetCourse(ctx.Request().Context(), course.GetFilter{ID: id})
	if err != nil {
		return course.Course{}, Claims{}, errors.Wrap(err, "getting course")
	}
	if !canView(claims, c) {
		return course.Course{}, Claims{}, errHttpNotFound
	}
	return c, claims, nil
}

// Handlers

func (api *progressApi) enroll(ctx echo.Context) error {
	c, claims, err := api.visibleCourse(ctx)
	if err != nil {
		return err
	}
	snap, err := api.svc.Enroll(ctx.Request().Context(), claims.Subject, c.ID)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *progressApi) progress(ctx echo.Context) error {
	c, claims, err := api.visibleCourse(ctx)
	if err != nil {
		return err
	}
	snap, err := api.svc.EnrollmentStatus(ctx.Request().Context(), claims.Subject, c.ID)
	if err != nil {
		return errors.Wrap(err, "getting enrollment status")
	}
	lessons, err := api.svc.CompletedLessons(ctx.Request().Context(), claims.Subject, c.ID)
	if err != nil {
		return errors.Wrap(err, "getting completed lessons")
	}
	return ctx.JSON(http.StatusOK, ProgressResponse{Snapshot: snap, CompletedLessons: lessons})
}

// lesson shows a lesson to the course's editors and enrolled learners.
func (api *progressApi) lesson(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	c, err := api.courses.GetCourse(reqCtx, course.GetFilter{Slug: ctx.Param("id")})
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	if !canView(claims, c) {
		return errHttpNotFound
	}
	l, err := api.courses.GetLesson(reqCtx, course.LessonFilter{Slug: ctx.Param("lesson"), CourseID: c.ID})
	if err != nil {
		return errors.Wrap(err, "getting lesson")
	}

	snap, err := api.svc.EnrollmentStatus(reqCtx, claims.Subject, c.ID)
	if err != nil {
		return errors.Wrap(err, "getting enrollment status")
	}
	if snap.Status == progress.StatusNotEnrolled {
		if !canEdit(claims, c) {
			return errHttpNotEnrolled
		}
		return ctx.JSON(http.StatusOK, LessonResponse{Lesson: l})
	}

	completed, err := api.svc.CompletedLessons(reqCtx, claims.Subject, c.ID)
	if err != nil {
		return errors.Wrap(err, "getting completed lessons")
	}
	resp := LessonResponse{Lesson: l}
	for _, id := range completed {
		if id == l.ID {
			resp.Completed = true
			break
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *progressApi) students(ctx echo.Context) error {
	c := ctx.Get(ctxCourseKey).(course.Course)
	snaps, err := api.svc.CourseProgress(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "getting course progress")
	}
	return ctx.JSON(http.StatusOK, snaps)
}

func (api *progressApi) toggleCompletion(ctx echo.Context) error {
	lessonID, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data CompletionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompletionRequest")
	}

	snap, err := api.svc.ToggleCompletion(ctx.Request().Context(), claims.Subject, lessonID, data.Completed)
	if err != nil {
		return errors.Wrap(err, "toggling completion")
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *progressApi) enrollments(ctx echo.Context) error {
	enrollments, err := api.svc.UserEnrollments(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	return ctx.JSON(http.StatusOK, enrollments)
}
