// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/animaxdev/renderdoc/core/log"
)

// ExitCode is the type for named return values from the application main entry point.
type ExitCode int

const (
	// SuccessExit is the exit code for succesful exit.
	SuccessExit ExitCode = iota
	// FatalExit is the exit code if something logs at a fatal severity.
	FatalExit
	// UsageExit is the exit code if the usage function was invoked.
	UsageExit
)

var (
	// Name is the full name of the application
	Name = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	// ExitFuncForTesting can be set to change the behaviour when there is a command line parsing failure.
	// It defaults to os.Exit
	ExitFuncForTesting = os.Exit
	// ShortHelp should be set to add a help message to the usage text.
	ShortHelp = ""
	// ShortUsage is usage text for the additional non-flag arguments.
	ShortUsage = ""
	// UsageFooter is printed at the bottom of the usage text
	UsageFooter = ""
	// Version is reported by the -version flag when set.
	Version = ""
)

// AppFlags are the flags every application accepts before its verb.
type AppFlags struct {
	Log     LogFlags
	Version bool `help:"print the version and exit"`
}

// Run performs all the work needed to start up an application.
// It parses the main command line arguments, builds a primary context that is
// cancelled on interrupt, runs main and closes the log handler on exit.
func Run(main func(ctx context.Context) error) {
	defer func() {
		switch cause := recover().(type) {
		case nil:
		case ExitCode:
			ExitFuncForTesting(int(cause))
		default:
			panic(cause)
		}
	}()
	flags := &AppFlags{Log: logDefaults()}
	verbMainPrepare(flags)

	rootCtx := context.Background()
	if err := globalVerbs.Flags.Parse(nil, os.Args[1:]...); err != nil {
		Usage(rootCtx, "%v", err)
	}
	if flags.Version {
		fmt.Fprint(os.Stdout, Name, " version ", Version, "\n")
		return
	}

	handler, err := flags.Log.handler()
	if err != nil {
		Usage(rootCtx, "%v", err)
	}
	defer handler.Close()
	ctx, err := prepareContext(rootCtx, &flags.Log, handler)
	if err != nil {
		Usage(rootCtx, "%v", err)
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	if err := main(ctx); err != nil {
		log.F(ctx, true, "Main failed\nError: %v", err)
	}
}
