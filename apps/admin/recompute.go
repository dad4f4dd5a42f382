package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-courses/core/progress"
)

// recompute repairs the cached completion of userID in courseID, or of every learner of courseID.
func (cli *commandLine) recompute(ctx context.Context, courseID int64, userID string) error {
	var snaps []progress.Snapshot
	if userID != "" {
		snap, err := cli.progressSvc.Recompute(ctx, userID, courseID)
		if err != nil {
			return err
		}
		snaps = append(snaps, snap)
	} else {
		var err error
		if snaps, err = cli.progressSvc.RecomputeCourse(ctx, courseID); err != nil {
			return err
		}
	}

	for _, s := range snaps {
		fmt.Fprintf(cli.out, "%s\t%s\t%d/%d\t%d%%\n", s.UserID, s.Status, s.Done, s.Total, s.Percent)
	}
	fmt.Fprintf(cli.out, "recomputed %d enrollment(s) of course %d\n", len(snaps), courseID)
	return nil
}
