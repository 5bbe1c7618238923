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

// Package slurm translates resource constraints into Slurm submission
// commands and tracks the resulting jobs over SSH.
package slurm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/log"
)

var (
	reMem     = regexp.MustCompile(`^[0-9]+[KMGT]$`)
	reTime    = regexp.MustCompile(`^([0-9]+-)?[0-9]{2}:[0-9]{2}:[0-9]{2}$`)
	reSalloc  = regexp.MustCompile(`^salloc: (Granted|Pending) job allocation ([0-9]+)`)
	reRevoked = regexp.MustCompile(`^salloc: Job allocation ([0-9]+) has been revoked`)
	reBatch   = regexp.MustCompile(`Submitted batch job ([0-9]+)`)
)

// JobRequest gathers the user-supplied resource constraints of a single
// scheduler submission. It is consumed once and not persisted.
type JobRequest struct {
	Name    string
	CPUs    int
	GPUs    int
	Mem     string
	Time    string
	Volta32 bool
	// ExtraOpts are scheduler options passed through verbatim.
	ExtraOpts []string
}

// Validate checks the resource constraints against the scheduler unit
// grammar. All problems are reported at once and no remote call is made.
func (req JobRequest) Validate() error {
	var result *multierror.Error
	if req.Name == "" {
		result = multierror.Append(result, errors.New("a job name is required"))
	}
	if req.CPUs < 1 {
		result = multierror.Append(result, errors.Errorf("cpus must be at least 1, got %d", req.CPUs))
	}
	if req.GPUs < 0 {
		result = multierror.Append(result, errors.Errorf("gpus can't be negative, got %d", req.GPUs))
	}
	if !reMem.MatchString(req.Mem) {
		result = multierror.Append(result, errors.Errorf("memory %q doesn't match the expected format, e.g. '32G'", req.Mem))
	}
	if !reTime.MatchString(req.Time) {
		result = multierror.Append(result, errors.Errorf("time %q doesn't match the expected format, e.g. '01:00:00'", req.Time))
	}
	if err := result.ErrorOrNil(); err != nil {
		return &ValidationError{err: err}
	}
	return nil
}

// buildJobOpts translates a job request into the scheduler resource-flag
// syntax shared by srun, sbatch and salloc.
func buildJobOpts(req JobRequest) string {
	opts := fmt.Sprintf("-J %s -c %d --time=%s --mem=%s", req.Name, req.CPUs, req.Time, req.Mem)
	if req.GPUs > 0 {
		constraint := "gpu"
		if req.Volta32 {
			constraint = "gpu,volta32"
		}
		opts += fmt.Sprintf(" -p gpu -G %d -C %s", req.GPUs, constraint)
	}
	for _, opt := range req.ExtraOpts {
		opts += " " + opt
	}
	return opts
}

// SubmitBatch submits the given command with sbatch and returns the queued
// job ID as soon as the job is accepted, independently of its completion.
func SubmitBatch(client sshutil.Client, req JobRequest, command string) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("sbatch -N 1 --output=%%x-%%j.out %s %s", buildJobOpts(req), command)
	log.Debugf("Submitting batch job: %q", cmd)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return "", errors.Wrap(err, strings.TrimSpace(output))
	}
	return parseJobIDFromBatchOutput(output)
}

// SubmitInteractive submits the given command with srun and blocks until the
// job ends, streaming its output live to the given writers. Interleaving of
// stdout and stderr is best-effort. Cancelling the context kills the remote
// process.
func SubmitInteractive(ctx context.Context, client *sshutil.SSHClient, req JobRequest, command string, stdout, stderr io.Writer) error {
	if err := req.Validate(); err != nil {
		return err
	}
	sw, err := client.GetSessionWrapper()
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("srun %s %s", buildJobOpts(req), command)
	log.Debugf("Submitting interactive job: %q", cmd)

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, sw.Stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, sw.Stderr)
		return err
	})
	runErr := sw.RunCommand(ctx, cmd)
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = errors.Wrap(err, "failed to forward job output")
	}
	return runErr
}

// AllocateNoShell reserves resources with salloc --no-shell and returns the
// allocation job ID. The call returns as soon as the allocation is queued or
// granted; use WaitJobRunning to wait for the node.
func AllocateNoShell(client sshutil.Client, req JobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("salloc --no-shell %s", buildJobOpts(req))
	log.Debugf("Allocating resources: %q", cmd)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return "", errors.Wrap(err, strings.TrimSpace(output))
	}
	return parseSallocResponse(strings.NewReader(output))
}

// parseSallocResponse extracts the allocation job ID from the salloc output.
// A revoked allocation is reported as an error.
func parseSallocResponse(r io.Reader) (string, error) {
	var jobID string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if matches := reSalloc.FindStringSubmatch(line); matches != nil {
			jobID = matches[2]
			continue
		}
		if matches := reRevoked.FindStringSubmatch(line); matches != nil {
			return "", errors.Errorf("allocation %s has been revoked by the scheduler", matches[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read salloc response")
	}
	if jobID == "" {
		return "", errors.New("unable to find a job allocation in the salloc response")
	}
	return jobID, nil
}

// parseJobIDFromBatchOutput extracts the job ID from the sbatch output as
// "Submitted batch job 4567"
func parseJobIDFromBatchOutput(output string) (string, error) {
	matches := reBatch.FindStringSubmatch(strings.TrimSpace(output))
	if matches == nil {
		return "", errors.Errorf("unable to find a job ID in the sbatch output %q", strings.TrimSpace(output))
	}
	return matches[1], nil
}
