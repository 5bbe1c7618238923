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

	"github.com/spf13/cobra"

	"github.com/irishpc/iristools/log"
	"github.com/irishpc/iristools/slurm"
)

var runFlags *jobFlags
var runBatch bool

var runCmd = &cobra.Command{
	Use:   "run [flags] -- COMMAND [ARGS...]",
	Short: "Run a command inside a Singularity container on the cluster",
	Long: `Runs the given command inside a Singularity container on an allocated
compute node. By default the job is submitted with srun, which blocks until
resources are available and streams the job output live; with --batch the job
is queued with sbatch and the command returns immediately.

Everything after '--' is passed verbatim to the container.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := runFlags.jobRequest()
		if err := req.Validate(); err != nil {
			return err
		}
		cfg := GetConfig()
		client, err := slurm.GetSSHClient(cfg)
		if err != nil {
			return err
		}

		scratchDir := cfg.ScratchDirOrDefault(cfg.UserName)
		launcher := renderRunLauncher(cfg.SingularityModule,
			runFlags.singularityOptions(scratchDir),
			runFlags.singularityImage,
			strings.Join(args, " "))
		remoteScript, err := uploadLauncher(client, scratchDir,
			fmt.Sprintf("singularity_run_%s.sh", req.Name), launcher)
		if err != nil {
			return err
		}

		if runBatch {
			jobID, err := slurm.SubmitBatch(client, req, remoteScript)
			if err != nil {
				return err
			}
			log.Printf("Submitted batch job %s. Its output will be written to %s-%s.out in your home directory on %s.",
				jobID, req.Name, jobID, cfg.ClusterHost)
			log.Printf("Use 'scancel %s' on %s to cancel it.", jobID, cfg.ClusterHost)
			return nil
		}

		// Interrupting the command kills the remote job
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return slurm.SubmitInteractive(ctx, client, req, remoteScript, os.Stdout, os.Stderr)
	},
}

func init() {
	runFlags = addJobFlags(runCmd)
	runCmd.Flags().BoolVar(&runBatch, "batch", false, "If specified, the job is queued with `sbatch` and run once resources are available. By default jobs are run with `srun`, which blocks until resources are available.")
	RootCmd.AddCommand(runCmd)
}
