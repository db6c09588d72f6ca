package main

import (
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	appfs "github.com/trezcool/academia/fs"
)

// migrate runs goose against the embedded migrations; args follow goose's CLI
// ("up" when empty, or e.g. "down", "status", "up-to 00002").
func (cli *commandLine) migrate(args []string) error {
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	return errors.Wrap(goose.Run(command, cli.db.DB.DB, "migrations", args...), "running migration")
}
