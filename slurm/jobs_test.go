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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irishpc/iristools/helper/sshutil"
)

func validRequest() JobRequest {
	return JobRequest{Name: "demo", CPUs: 7, GPUs: 1, Mem: "32G", Time: "01:00:00"}
}

func TestValidateWithValidRequest(t *testing.T) {
	t.Parallel()
	require.Nil(t, validRequest().Validate())
}

func TestValidateWithMalformedRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*JobRequest)
	}{
		{"NoName", func(r *JobRequest) { r.Name = "" }},
		{"ZeroCPUs", func(r *JobRequest) { r.CPUs = 0 }},
		{"NegativeGPUs", func(r *JobRequest) { r.GPUs = -1 }},
		{"MemWithoutUnit", func(r *JobRequest) { r.Mem = "8" }},
		{"TimeWrongGrammar", func(r *JobRequest) { r.Time = "1:00" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected a ValidationError, got %v", err)
		})
	}
}

func TestValidationFailuresTriggerNoRemoteCall(t *testing.T) {
	t.Parallel()
	var calls int
	s := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			calls++
			return "", nil
		},
	}
	req := validRequest()
	req.CPUs = 0

	_, err := SubmitBatch(s, req, "bash run.sh")
	require.True(t, IsValidationError(err))
	_, err = AllocateNoShell(s, req)
	require.True(t, IsValidationError(err))
	assert.Equal(t, 0, calls, "no remote call expected on validation failure")
}

func TestBuildJobOpts(t *testing.T) {
	t.Parallel()
	req := validRequest()
	req.ExtraOpts = []string{"--qos normal"}
	opts := buildJobOpts(req)
	assert.Equal(t, "-J demo -c 7 --time=01:00:00 --mem=32G -p gpu -G 1 -C gpu --qos normal", opts)
}

func TestBuildJobOptsWithVolta32(t *testing.T) {
	t.Parallel()
	req := validRequest()
	req.Volta32 = true
	assert.Contains(t, buildJobOpts(req), "-C gpu,volta32")
}

func TestBuildJobOptsWithoutGPU(t *testing.T) {
	t.Parallel()
	req := validRequest()
	req.GPUs = 0
	opts := buildJobOpts(req)
	assert.NotContains(t, opts, "-p gpu")
	assert.NotContains(t, opts, "-G")
	assert.NotContains(t, opts, "-C")
}

func TestSubmitBatch(t *testing.T) {
	t.Parallel()
	var gotCmd string
	s := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			gotCmd = cmd
			return "Submitted batch job 4567\n", nil
		},
	}
	jobID, err := SubmitBatch(s, validRequest(), "bash /scratch/users/jdoe/iristools/singularity_run_demo.sh")
	require.Nil(t, err)
	assert.Equal(t, "4567", jobID)
	assert.True(t, strings.HasPrefix(gotCmd, "sbatch -N 1 --output=%x-%j.out -J demo"), "unexpected sbatch command %q", gotCmd)
	assert.True(t, strings.HasSuffix(gotCmd, "singularity_run_demo.sh"))
}

func TestSubmitBatchWithMalformedOutput(t *testing.T) {
	t.Parallel()
	s := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "sbatch: error: somewhere something went wrong", nil
		},
	}
	_, err := SubmitBatch(s, validRequest(), "bash run.sh")
	require.Error(t, err)
}

func TestAllocateNoShell(t *testing.T) {
	t.Parallel()
	var gotCmd string
	s := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			gotCmd = cmd
			return "salloc: Granted job allocation 1881\n", nil
		},
	}
	jobID, err := AllocateNoShell(s, validRequest())
	require.Nil(t, err)
	assert.Equal(t, "1881", jobID)
	assert.True(t, strings.HasPrefix(gotCmd, "salloc --no-shell -J demo"), "unexpected salloc command %q", gotCmd)
}

// We test parsing the stderr line: "salloc: Pending job allocation 1881"
func TestParseSallocResponseWithExpectedPending(t *testing.T) {
	t.Parallel()
	jobID, err := parseSallocResponse(strings.NewReader("salloc: Pending job allocation 1881\n"))
	require.Nil(t, err)
	require.Equal(t, "1881", jobID)
}

// salloc: Required node not available (down, drained or reserved)
// salloc: Pending job allocation 2220
// salloc: job 2220 queued and waiting for resources
func TestParseSallocResponseWithExpectedPendingInOtherThanFirstLine(t *testing.T) {
	t.Parallel()
	str := "salloc: Required node not available (down, drained or reserved)\nsalloc: Pending job allocation 2220\nsalloc: job 2220 queued and waiting for resources"
	jobID, err := parseSallocResponse(strings.NewReader(str))
	require.Nil(t, err)
	require.Equal(t, "2220", jobID)
}

// We test parsing the stderr lines:
// "salloc: Job allocation 1882 has been revoked."
// "salloc: error: CPU count per node can not be satisfied"
func TestParseSallocResponseWithExpectedRevokedAllocation(t *testing.T) {
	t.Parallel()
	str := "salloc: Job allocation 1882 has been revoked.\nsalloc: error: CPU count per node can not be satisfied"
	_, err := parseSallocResponse(strings.NewReader(str))
	require.Error(t, err)
}

func TestParseSallocResponseWithEmpty(t *testing.T) {
	t.Parallel()
	_, err := parseSallocResponse(strings.NewReader(""))
	require.Error(t, err)
}

func TestParseJobIDFromSbatchOut(t *testing.T) {
	t.Parallel()
	ret, err := parseJobIDFromBatchOutput("Submitted batch job 4567")
	require.Nil(t, err, "unexpected error")
	require.Equal(t, "4567", ret, "unexpected JobID parsing")
}
