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

package slurm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/log"
)

// jobInfoShort is the short job description returned by squeue.
// The node field holds the allocated node list once the job is running, and
// the pending reason before that.
type jobInfoShort struct {
	ID    string
	name  string
	state string
	node  string
}

// getJobInfo returns the current state of a job selected by ID or name.
// A *noJobFound error is returned when the scheduler no longer (or not yet)
// knows the job.
func getJobInfo(client sshutil.Client, jobID, jobName string) (*jobInfoShort, error) {
	var cmd string
	if jobID != "" {
		cmd = fmt.Sprintf("squeue --noheader -j %s -o \"%%i,%%j,%%T,%%R\"", jobID)
	} else if jobName != "" {
		cmd = fmt.Sprintf("squeue --noheader --name=%s -o \"%%i,%%j,%%T,%%R\"", jobName)
	} else {
		return nil, errors.New("either a job ID or a job name is required to retrieve job information")
	}
	output, err := client.RunCommand(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retrieve job info with id:%q, name:%q", jobID, jobName)
	}
	output = strings.TrimSpace(strings.Trim(output, "\""))
	if output == "" {
		return nil, &noJobFound{msg: fmt.Sprintf("no information found for job with id:%q, name:%q", jobID, jobName)}
	}

	lines := strings.Split(output, "\n")
	if len(lines) > 1 {
		log.Printf("[Warning] Detected several allocations matching id:%q, name:%q. You probably want to scancel some of them to avoid wasting resources.", jobID, jobName)
	}
	fields := strings.Split(strings.Trim(strings.TrimSpace(lines[0]), "\""), ",")
	if len(fields) != 4 {
		return nil, errors.Errorf("unexpected squeue output %q", lines[0])
	}
	return &jobInfoShort{ID: fields[0], name: fields[1], state: fields[2], node: fields[3]}, nil
}

// WaitJobRunning polls the scheduler until the job with the given name
// reaches the RUNNING state, and returns the name of the allocated node. An
// *AllocationTimeoutError is returned when the job is still not running
// after the given timeout. Jobs observed in a terminal state (FAILED,
// CANCELLED, ...) fail immediately.
func WaitJobRunning(ctx context.Context, client sshutil.Client, jobName string, timeout, pollingInterval time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debugf("Allocation polling for job %q has been cancelled", jobName)
			return "", ctx.Err()
		case <-ticker.C:
			info, err := getJobInfo(client, "", jobName)
			if err != nil {
				// If the job is not found, we assume it still hasn't been queued
				if !isNoJobFoundError(err) {
					return "", err
				}
			} else {
				switch info.state {
				case "RUNNING":
					return strings.TrimSpace(info.node), nil
				case "PENDING", "CONFIGURING", "COMPLETING":
					log.Debugf("Job %q is %s (%s)", jobName, info.state, info.node)
				default:
					return "", errors.Errorf("job %q ended in state %q before running", jobName, info.state)
				}
			}
			if time.Now().After(deadline) {
				return "", &AllocationTimeoutError{JobName: jobName, Timeout: timeout}
			}
		}
	}
}

// CancelJobName cancels all the jobs submitted with the given name.
func CancelJobName(client sshutil.Client, jobName string) error {
	output, err := client.RunCommand(fmt.Sprintf("scancel --name=%s", jobName))
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %q: %s", jobName, strings.TrimSpace(output))
	}
	return nil
}
