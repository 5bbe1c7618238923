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
	"path"
	"strings"

	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/singularity"
)

// runLauncherScript runs the user command inside the container. The login
// shell is required so environment modules are available on compute nodes.
const runLauncherScript = `#!/bin/bash -l
module load %s
singularity exec %s %s %s
`

// vscodeLauncherScript is installed as the RemoteCommand of the generated SSH
// host entry, so connecting clients land directly in a shell inside the
// container.
const vscodeLauncherScript = `#!/bin/bash -l
module load %s
singularity shell %s %s
`

func renderRunLauncher(singularityModule string, opts []string, image, command string) string {
	return fmt.Sprintf(runLauncherScript, singularityModule, strings.Join(opts, " "), image, command)
}

func renderVSCodeLauncher(singularityModule string, opts []string, image string) string {
	return fmt.Sprintf(vscodeLauncherScript, singularityModule, strings.Join(opts, " "), image)
}

// toolsDir is the cluster directory where launcher scripts are dropped. It
// lives on scratch so compute nodes can read it.
func toolsDir(scratchDir string) string {
	return path.Join(scratchDir, "iristools")
}

// uploadLauncher copies a rendered launcher script to the tools directory on
// the cluster and returns its remote path.
func uploadLauncher(client sshutil.Client, scratchDir, name, content string) (string, error) {
	remotePath := path.Join(toolsDir(scratchDir), name)
	if err := client.CopyFile(strings.NewReader(content), remotePath, "0755"); err != nil {
		return "", singularity.NewUploadError(remotePath, err)
	}
	return remotePath, nil
}
