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
	"strings"

	"github.com/spf13/cobra"

	"github.com/irishpc/iristools/slurm"
)

// jobFlags gathers the scheduler and singularity flags shared by the run and
// attach-vscode subcommands.
type jobFlags struct {
	jobName          string
	timeLimit        string
	cpus             int
	gpus             int
	mem              string
	volta32          bool
	slurmArgs        []string
	singularityImage string
	singularityArgs  []string
	singularityEnv   []string
}

func addJobFlags(cmd *cobra.Command) *jobFlags {
	f := &jobFlags{}
	cmd.Flags().StringVar(&f.jobName, "job-name", "", "A name for your SLURM job")
	cmd.Flags().StringVar(&f.timeLimit, "time", "", "Time to reserve resources for. Example for 1h: '01:00:00'. See SLURM doc for formatting.")
	cmd.Flags().IntVar(&f.cpus, "cpus", 0, "Number of CPU cores to reserve.")
	cmd.Flags().IntVar(&f.gpus, "gpus", 0, "Number of GPUs to reserve. 0 for no GPUs.")
	cmd.Flags().StringVar(&f.mem, "mem", "", "RAM to reserve (eg. '16G')")
	cmd.Flags().BoolVar(&f.volta32, "volta32", false, "If specified, will reserve a 32GB V100 GPU (use only if needed, allocation is often slower on these).")
	cmd.Flags().StringArrayVar(&f.slurmArgs, "slurm-arg", nil, "Additional SLURM argument to use. Can be repeated to add more arguments.")
	cmd.Flags().StringVar(&f.singularityImage, "singularity-image", "", "The path on the cluster to the Singularity image to run (eg. SIF file). To obtain a SIF file from a docker image use the `docker-convert` subcommand.")
	cmd.Flags().StringArrayVar(&f.singularityArgs, "singularity-arg", nil, "Additional Singularity arguments (eg. --contain). Can be repeated to add more arguments.")
	cmd.Flags().StringArrayVar(&f.singularityEnv, "singularity-env", nil, "Specific environment variables to override in the Singularity container. Format is 'MYVAR=value'. Can be repeated to add more than one.")
	cmd.MarkFlagRequired("job-name")
	cmd.MarkFlagRequired("time")
	cmd.MarkFlagRequired("cpus")
	cmd.MarkFlagRequired("mem")
	cmd.MarkFlagRequired("singularity-image")
	return f
}

// jobRequest translates the flags into a scheduler job request. Spaces in
// the job name are replaced so the name can be used in file names and squeue
// filters.
func (f *jobFlags) jobRequest() slurm.JobRequest {
	return slurm.JobRequest{
		Name:      strings.Replace(f.jobName, " ", "_", -1),
		CPUs:      f.cpus,
		GPUs:      f.gpus,
		Mem:       f.mem,
		Time:      f.timeLimit,
		Volta32:   f.volta32,
		ExtraOpts: f.slurmArgs,
	}
}

// singularityOptions translates the flags into singularity command line
// options: GPU jobs get --nv unless already present, environment overrides
// are expanded and the scratch directory is bind-mounted.
func (f *jobFlags) singularityOptions(scratchDir string) []string {
	opts := append([]string{}, f.singularityArgs...)
	if f.gpus > 0 && !containsOption(opts, "--nv") {
		opts = append(opts, "--nv")
	}
	for _, envVar := range f.singularityEnv {
		opts = append(opts, fmt.Sprintf("--env %s", envVar))
	}
	opts = append(opts, fmt.Sprintf("--bind %s:%s", scratchDir, scratchDir))
	return opts
}

func containsOption(opts []string, opt string) bool {
	for _, o := range opts {
		if o == opt {
			return true
		}
	}
	return false
}
