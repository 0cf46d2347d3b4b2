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

// The rdcap command inspects, replays and synthesizes queue submission
// captures.
package main

import "github.com/animaxdev/renderdoc/core/app"

func main() {
	app.ShortHelp = "rdcap inspects and replays queue submission captures"
	app.Version = "0.1"
	app.Run(app.VerbMain)
}
