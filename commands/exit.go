// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
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

package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/slurm"
)

// exitCodeValidation is the reserved exit code for local validation errors
const exitCodeValidation = 2

// ErrExit prints the given error and exits: validation errors use the
// reserved code 2, remote command failures mirror the remote exit status and
// anything else exits 1.
func ErrExit(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	switch {
	case slurm.IsValidationError(err):
		os.Exit(exitCodeValidation)
	case sshutil.IsRemoteCommandError(err):
		os.Exit(sshutil.ExitStatus(err))
	default:
		os.Exit(1)
	}
}
