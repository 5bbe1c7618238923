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
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/irishpc/iristools/helper/sshconfig"
	"github.com/irishpc/iristools/log"
	"github.com/irishpc/iristools/slurm"
)

var attachFlags *jobFlags

var attachVSCodeCmd = &cobra.Command{
	Use:   "attach-vscode",
	Short: "Allocate a node and let VSCode attach to a container running on it",
	Long: `Allocates a compute node, then updates your local SSH configuration with a
'<job-name>-vscode' host entry whose RemoteCommand opens a shell inside the
Singularity container on the allocated node. Use VSCode's
'Remote-SSH: Connect to Host...' on that entry to develop inside the
container.

The allocation is NOT released when this command returns; cancel it yourself
once you are done.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := attachFlags.jobRequest()
		if err := req.Validate(); err != nil {
			return err
		}
		cfg := GetConfig()
		client, err := slurm.GetSSHClient(cfg)
		if err != nil {
			return err
		}

		// Fail before allocating anything if the image is not on the cluster
		image := attachFlags.singularityImage
		if out, err := client.RunCommand(fmt.Sprintf("ls %s", image)); err != nil {
			return errors.Wrapf(err, "singularity image %q not found on the cluster: %s", image, strings.TrimSpace(out))
		}

		// VSCode will connect on its own, with the identity declared for the
		// login node in the SSH configuration.
		identityFile, err := sshconfig.IdentityFileFor(cfg.SSHConfigPath, cfg.ClusterHost)
		if err != nil {
			log.Printf("[Warning] no IdentityFile found for %q in %s (%v), falling back to %s",
				cfg.ClusterHost, cfg.SSHConfigPath, err, cfg.PrivateKey)
			identityFile = cfg.PrivateKey
		}

		scratchDir := cfg.ScratchDirOrDefault(cfg.UserName)
		launcher := renderVSCodeLauncher(cfg.SingularityModule,
			attachFlags.singularityOptions(scratchDir), image)
		remoteScript, err := uploadLauncher(client, scratchDir,
			fmt.Sprintf("vscode_attach_%s.sh", req.Name), launcher)
		if err != nil {
			return err
		}

		log.Printf("Allocating resources for job %q", req.Name)
		if _, err := slurm.AllocateNoShell(client, req); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		node, err := slurm.WaitJobRunning(ctx, client, req.Name, cfg.AllocationTimeout, cfg.AllocationPollingInterval)
		if err != nil {
			return err
		}

		alias := req.Name + "-vscode"
		log.Printf("Updating %s so VSCode can attach to target %q", cfg.SSHConfigPath, alias)
		err = sshconfig.Sync(cfg.SSHConfigPath, sshconfig.HostEntry{
			Alias:         alias,
			HostName:      node,
			ProxyJump:     cfg.ClusterHost,
			User:          cfg.UserName,
			IdentityFile:  identityFile,
			RemoteCommand: fmt.Sprintf("bash %s", remoteScript),
		})
		if err != nil {
			return err
		}

		log.Println(color.GreenString("Node %s allocated and SSH host %q configured.", node, alias))
		log.Printf("In VSCode, run 'Remote-SSH: Connect to Host...' and pick %q to land inside the container.", alias)
		log.Println(color.YellowString("The allocation stays active until you release it: run 'scancel --name=%s' on %s once you are done.", req.Name, cfg.ClusterHost))
		return nil
	},
}

func init() {
	attachFlags = addJobFlags(attachVSCodeCmd)
	RootCmd.AddCommand(attachVSCodeCmd)
}
