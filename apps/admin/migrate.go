package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/storage/database"
)

var runMigrationsFunc = database.RunMigrations // mockable

var errNoDatabase = errors.New("migrate needs a postgres database")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return runMigrationsFunc(cli.db, args[0], args[1:]...)
}
