package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-courses/core/user"
)

func (cli *commandLine) addUser(ctx context.Context, name, email string, roles []string) error {
	nu := user.NewUser{Name: name, Email: email, Roles: roles}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created user %s <%s> %v: %s\n", usr.Name, usr.Email, []string(usr.Roles), usr.ID)
	return nil
}
