package main

import (
	"github.com/trezcool/masomo-courses/storage/database"
)

func (cli *commandLine) migrate(args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return database.RunMigrations(cli.db, args[0], arguments...)
}
