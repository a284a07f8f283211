package main

import (
	"fmt"

	// Packages
	version "github.com/mutablelogic/go-uploader/pkg/version"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type VersionCommands struct {
	Version VersionCommand `cmd:"" group:"MISC" help:"Print version information"`
}

type VersionCommand struct{}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (cmd *VersionCommand) Run(app *Globals) error {
	fmt.Println(string(version.JSON(app.vars["EXEC"])))
	return nil
}
