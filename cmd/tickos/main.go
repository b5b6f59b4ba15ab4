// Copyright 2026 The tickos Authors
// This file is part of the tickos library.
//
// The tickos library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tickos library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tickos library. If not, see <http://www.gnu.org/licenses/>.

// tickos is a command-line driver for the simulated kernel timer.
package main

import (
	"os"

	"github.com/sunyihoo/tickos/cmd/utils"
	"github.com/sunyihoo/tickos/internal/debug"
	"github.com/sunyihoo/tickos/internal/flags"
	"github.com/urfave/cli/v2"
)

const (
	clientIdentifier = "tickos" // Client identifier used in logs and the help text
)

var app = flags.NewApp("the tickos timer subsystem simulator")

func init() {
	app.Name = clientIdentifier
	app.Action = runScenario
	app.Commands = []*cli.Command{
		runCommand,
		calibrateCommand,
		dumpConfigCommand,
	}
	app.Flags = append(app.Flags, runFlags...)
	app.Flags = append(app.Flags, debug.Flags...)

	migrate := app.Before
	app.Before = func(ctx *cli.Context) error {
		if err := migrate(ctx); err != nil {
			return err
		}
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		utils.Fatalf("%v", err)
	}
}
