package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core/course"
)

const ctxCourseKey = "course"

type courseApi struct {
	svc      *course.Service
	validate *validator.Validate
}

// Course reads take the course slug in place of :id.
func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *course.Service, validate *validator.Validate) {
	api := courseApi{
		svc:      svc,
		validate: validate,
	}
	author := authorMiddleware()

	cg := g.Group("/courses", jwt)
	cg.GET("", api.query)
	cg.POST("", api.create, author)
	cg.GET("/:id", api.retrieve)
	cg.GET("/:id/outline", api.outline)
	cg.PUT("/:id", api.update, author, ownerMiddleware(svc, courseOfCourse))
	cg.POST("/:id/publish", api.publish, author, ownerMiddleware(svc, courseOfCourse))
	cg.DELETE("/:id", api.destroy, author, ownerMiddleware(svc, courseOfCourse))
	cg.POST("/:id/modules", api.addModule, author, ownerMiddleware(svc, courseOfCourse))

	mg := g.Group("/modules", jwt, author)
	mg.PUT("/:id", api.updateModule, ownerMiddleware(svc, api.courseOfModule))
	mg.DELETE("/:id", api.destroyModule, ownerMiddleware(svc, api.courseOfModule))
	mg.POST("/:id/lessons", api.addLesson, ownerMiddleware(svc, api.courseOfModule))

	lg := g.Group("/lessons", jwt)
	lg.PUT("/:id", api.updateLesson, author, ownerMiddleware(svc, api.courseOfLesson))
	lg.DELETE("/:id", api.destroyLesson, author, ownerMiddleware(svc, api.courseOfLesson))
}

// canEdit reports whether the authenticated user may change the course and its outline.
func canEdit(claims Claims, c course.Course) bool {
	return claims.IsAdmin || c.IsOwnedBy(claims.Subject)
}

// canView hides unpublished courses from everyone but their editors.
func canView(claims Claims, c course.Course) bool {
	return c.Published || canEdit(claims, c)
}

func courseOfCourse(_ context.Context, id int64) (int64, error) {
	return id, nil
}

func (api *courseApi) courseOfModule(ctx context.Context, id int64) (int64, error) {
	m, err := api.svc.GetModule(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.CourseID, nil
}

func (api *courseApi) courseOfLesson(ctx context.Context, id int64) (int64, error) {
	return api.svc.LessonCourseID(ctx, id)
}

// ownerMiddleware resolves the course owning the :id resource through courseOf,
// stores it in the context and lets only its editors through.
func ownerMiddleware(svc *course.Service, courseOf func(ctx context.Context, id int64) (int64, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, err := idParam(ctx, "id")
			if err != nil {
				return err
			}
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			courseID, err := courseOf(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "resolving course")
			}
			c, err := svc.GetCourse(ctx.Request().Context(), course.GetFilter{ID: courseID})
			if err != nil {
				return errors.Wrap(err, "getting course")
			}
			if !canEdit(claims, c) {
				if !c.Published {
					return errHttpNotFound
				}
				return errHttpForbidden
			}
			ctx.Set(ctxCourseKey, c)
			return next(ctx)
		}
	}
}

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	filter := &course.QueryFilter{
		Search:       ctx.QueryParam("search"),
		Published:    boolQuery(ctx, "published"),
		InstructorID: ctx.QueryParam("instructor_id"),
		Category:     ctx.QueryParam("category"),
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !(claims.IsAdmin || claims.IsInstructor) {
		published := true
		filter.Published = &published
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.QueryCourses(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.IsAdmin || data.InstructorID == "" {
		data.InstructorID = claims.Subject
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.GetCourse(ctx.Request().Context(), course.GetFilter{Slug: ctx.Param("id")})
	if err != nil {
		return errors.Wrap(err, "getting course")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !canView(claims, c) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) outline(ctx echo.Context) error {
	o, err := api.svc.Outline(ctx.Request().Context(), course.GetFilter{Slug: ctx.Param("id")})
	if err != nil {
		return errors.Wrap(err, "getting outline")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !canView(claims, o.Course) {
		return errHttpNotFound
	}
	if !canEdit(claims, o.Course) {
		// learners reach lesson content through the lesson route
		o = o.WithoutContent()
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *courseApi) update(ctx echo.Context) error {
	c := ctx.Get(ctxCourseKey).(course.Course)

	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.UpdateCourse(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, c)
}

type PublishRequest struct {
	Published *bool `json:"published"`
}

func (api *courseApi) publish(ctx echo.Context) error {
	c := ctx.Get(ctxCourseKey).(course.Course)

	var data PublishRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PublishRequest")
	}
	published := data.Published == nil || *data.Published

	c, err := api.svc.SetPublished(ctx.Request().Context(), c.ID, published)
	if err != nil {
		return errors.Wrap(err, "publishing course")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	c := ctx.Get(ctxCourseKey).(course.Course)
	if err := api.svc.DeleteCourse(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) addModule(ctx echo.Context) error {
	c := ctx.Get(ctxCourseKey).(course.Course)

	var data course.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	m, err := api.svc.AddModule(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "adding module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *courseApi) updateModule(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}

	var data course.UpdateModule
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateModule")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	m, err := api.svc.UpdateModule(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *courseApi) destroyModule(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteModule(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) addLesson(ctx echo.Context) error {
	moduleID, err := idParam(ctx, "id")
	if err != nil {
		return err
	}

	var data course.NewLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.AddLesson(ctx.Request().Context(), moduleID, data)
	if err != nil {
		return errors.Wrap(err, "adding lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *courseApi) updateLesson(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}

	var data course.UpdateLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.UpdateLesson(ctx.Request().Context(), id, data)
	if err != nil {
		return errors.Wrap(err, "updating lesson")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *courseApi) destroyLesson(ctx echo.Context) error {
	id, err := idParam(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteLesson(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return ctx.NoContent(http.StatusNoContent)
}
