package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-courses/core/progress"
	"github.com/trezcool/masomo-courses/core/user"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db          *sqlx.DB
	usrSvc      *user.Service
	progressSvc *progress.Service
	validate    *validator.Validate
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                          - run goose migration commands (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  adduser -name NAME -email EMAIL [-role ROLES]   - create a user, ROLES is comma separated")
	fmt.Fprintln(cli.out, "  recompute -course ID [-user ID]                 - re-evaluate the completion of enrollments")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRoles := addUserCmd.String("role", user.RoleStudent, "Comma separated roles.")

	recomputeCmd := flag.NewFlagSet("recompute", flag.ContinueOnError)
	recomputeCmd.SetOutput(cli.out)
	recomputeCourse := recomputeCmd.Int64("course", 0, "The course ID.")
	recomputeUser := recomputeCmd.String("user", "", "The user ID. All enrollments of the course are re-evaluated when omitted.")

	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		var roles []string
		for _, r := range strings.Split(*addUserRoles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		return cli.addUser(ctx, *addUserName, *addUserEmail, roles)
	case "recompute":
		if err := recomputeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *recomputeCourse <= 0 {
			recomputeCmd.Usage()
			return errHelp
		}
		return cli.recompute(ctx, *recomputeCourse, *recomputeUser)
	default:
		cli.printUsage()
		return errHelp
	}
}
