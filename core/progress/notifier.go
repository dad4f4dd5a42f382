package progress

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/user"
)

const courseCompletedTemplate = "course_completed"

type (
	UserReader interface {
		GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error)
	}

	// MailNotifier emails learners when they complete a course.
	MailNotifier struct {
		users   UserReader
		courses OutlineReader
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ Notifier = (*MailNotifier)(nil)

func NewMailNotifier(users UserReader, courses OutlineReader, mailSvc core.EmailService, logger core.Logger) *MailNotifier {
	return &MailNotifier{
		users:   users,
		courses: courses,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (n *MailNotifier) CourseCompleted(ctx context.Context, e Enrollment) {
	usr, err := n.users.GetUser(ctx, user.GetFilter{ID: e.UserID})
	if err != nil {
		n.logger.Error(fmt.Sprintf("course completed mail: getting user %s: %v", e.UserID, err), err)
		return
	}
	c, err := n.courses.GetCourse(ctx, course.GetFilter{ID: e.CourseID})
	if err != nil {
		n.logger.Error(fmt.Sprintf("course completed mail: getting course %d: %v", e.CourseID, err), err, usr)
		return
	}
	count, err := n.courses.LessonCount(ctx, c.ID)
	if err != nil {
		n.logger.Error(fmt.Sprintf("course completed mail: counting lessons of course %d: %v", c.ID, err), err, usr)
		return
	}

	n.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      fmt.Sprintf("You completed %s", c.Title),
		TemplateName: courseCompletedTemplate,
		TemplateData: map[string]interface{}{
			"Name":        usr.Name,
			"CourseTitle": c.Title,
			"CourseSlug":  c.Slug,
			"LessonCount": count,
		},
	})
}
