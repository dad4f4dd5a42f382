package progress

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/services/metrics"
)

// Ledger is the set of (user, lesson) completions. Every write that changes it
// re-evaluates the user's enrollment in the lesson's course before returning.
type Ledger struct {
	repo    Repository
	outline OutlineReader
	engine  *Engine
}

func NewLedger(repo Repository, outline OutlineReader, engine *Engine) *Ledger {
	return &Ledger{repo: repo, outline: outline, engine: engine}
}

// Record marks lessonID as completed by userID. Recording it twice keeps the first CompletedAt.
func (l *Ledger) Record(ctx context.Context, exec core.DBExecutor, userID string, lessonID int64) (RecordResult, error) {
	courseID, err := l.outline.LessonCourseID(ctx, lessonID, exec)
	if err != nil {
		return 0, err
	}

	inserted, err := l.repo.InsertCompletion(ctx, LedgerEntry{
		UserID:      userID,
		LessonID:    lessonID,
		CompletedAt: NowFunc().UTC(),
	}, exec)
	if err != nil {
		return 0, errors.Wrap(err, "inserting completion")
	}

	res := AlreadyPresent
	if inserted {
		res = Inserted
		if _, err = l.engine.recompute(ctx, exec, userID, courseID, metrics.TriggerLedger); err != nil {
			return 0, err
		}
	}
	metrics.LedgerWritesTotal.WithLabelValues("record", res.String()).Inc()
	return res, nil
}

// Revoke removes the completion of lessonID by userID, if any.
func (l *Ledger) Revoke(ctx context.Context, exec core.DBExecutor, userID string, lessonID int64) (RevokeResult, error) {
	courseID, err := l.outline.LessonCourseID(ctx, lessonID, exec)
	if err != nil {
		return 0, err
	}

	deleted, err := l.repo.DeleteCompletion(ctx, userID, lessonID, exec)
	if err != nil {
		return 0, errors.Wrap(err, "deleting completion")
	}

	res := NotPresent
	if deleted {
		res = Deleted
		if _, err = l.engine.recompute(ctx, exec, userID, courseID, metrics.TriggerLedger); err != nil {
			return 0, err
		}
	}
	metrics.LedgerWritesTotal.WithLabelValues("revoke", res.String()).Inc()
	return res, nil
}

// CountCompleted counts the lessons of courseID completed by userID.
func (l *Ledger) CountCompleted(ctx context.Context, exec core.DBExecutor, userID string, courseID int64) (int, error) {
	return l.repo.CountCompleted(ctx, userID, courseID, exec)
}
