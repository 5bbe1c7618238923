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

package singularity

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irishpc/iristools/config"
	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/slurm"
)

// fakeCluster scripts the login node and the conversion node responses and
// records every command and upload.
type fakeCluster struct {
	loginCommands []string
	nodeCommands  []string
	uploads       []string
	buildErr      error
}

func (f *fakeCluster) login() sshutil.Client {
	return &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			f.loginCommands = append(f.loginCommands, cmd)
			switch {
			case strings.HasPrefix(cmd, "salloc"):
				return "salloc: Granted job allocation 1881\n", nil
			case strings.HasPrefix(cmd, "squeue"):
				return "1881,conversion,RUNNING,iris-055\n", nil
			default:
				return "", nil
			}
		},
		MockCopyFile: func(source io.Reader, remotePath, permissions string) error {
			f.uploads = append(f.uploads, remotePath)
			return nil
		},
	}
}

func (f *fakeCluster) node(node string) sshutil.Client {
	return &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			f.nodeCommands = append(f.nodeCommands, cmd)
			if f.buildErr != nil {
				return "FATAL: some singularity error", f.buildErr
			}
			return "", nil
		},
	}
}

func newTestDriver(f *fakeCluster) *Driver {
	return &Driver{
		Cfg: config.Configuration{
			SingularityModule:         config.DefaultSingularityModule,
			AllocationTimeout:         config.DefaultAllocationTimeout,
			AllocationPollingInterval: time.Millisecond,
		},
		Login:      f.login(),
		NodeClient: f.node,
		RunLocal: func(ctx context.Context, name string, arg ...string) error {
			return errors.Errorf("unexpected local command %q", name)
		},
	}
}

func commandsMatching(commands []string, prefix string) []string {
	var matching []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, prefix) {
			matching = append(matching, cmd)
		}
	}
	return matching
}

func TestConvertFromRegistry(t *testing.T) {
	t.Parallel()
	f := &fakeCluster{}
	d := newTestDriver(f)

	sifPath, err := d.Convert(context.Background(), ConversionRequest{
		Source:  SourceRegistry,
		Tag:     "myimg:latest",
		SIFPath: "/scratch/users/jdoe/myimg.sif",
	})
	require.Nil(t, err)
	assert.Equal(t, "/scratch/users/jdoe/myimg.sif", sifPath)

	// A registry conversion never uploads anything
	assert.Len(t, f.uploads, 0)
	// Exactly one remote pull-and-convert command
	require.Len(t, f.nodeCommands, 1)
	assert.Contains(t, f.nodeCommands[0], "module load tools/Singularity")
	assert.Contains(t, f.nodeCommands[0], "singularity build --force /scratch/users/jdoe/myimg.sif docker://myimg:latest")
	// Final check that the destination exists and is non-empty
	assert.Len(t, commandsMatching(f.loginCommands, "test -s /scratch/users/jdoe/myimg.sif"), 1)
	// The allocation is always released
	assert.Len(t, commandsMatching(f.loginCommands, "scancel --name=docker-conversion-myimg-latest"), 1)
}

func TestConvertFromLocalUploadsArchive(t *testing.T) {
	t.Parallel()
	// Pre-create the exported archive so the driver reuses it instead of
	// calling docker save.
	localTar := filepath.Join(os.TempDir(), "localimg-totest.tar")
	require.Nil(t, ioutil.WriteFile(localTar, []byte("archive"), 0644))
	defer os.Remove(localTar)

	f := &fakeCluster{}
	d := newTestDriver(f)

	_, err := d.Convert(context.Background(), ConversionRequest{
		Source:  SourceLocal,
		Tag:     "localimg:totest",
		SIFPath: "/scratch/users/jdoe/localimg.sif",
	})
	require.Nil(t, err)

	// A local conversion always uploads the archive next to the destination
	require.Len(t, f.uploads, 1)
	assert.Equal(t, "/scratch/users/jdoe/localimg-totest.tar", f.uploads[0])
	require.Len(t, f.nodeCommands, 1)
	assert.Contains(t, f.nodeCommands[0], "docker-archive:///scratch/users/jdoe/localimg-totest.tar")
	// Temporary archives are removed
	assert.Len(t, commandsMatching(f.loginCommands, "rm -f /scratch/users/jdoe/localimg-totest.tar"), 1)
	_, statErr := os.Stat(localTar)
	assert.True(t, os.IsNotExist(statErr), "local archive should have been removed")
}

func TestConvertFailureRemovesDestination(t *testing.T) {
	t.Parallel()
	f := &fakeCluster{buildErr: errors.New("expected failure")}
	d := newTestDriver(f)

	_, err := d.Convert(context.Background(), ConversionRequest{
		Source:  SourceRegistry,
		Tag:     "myimg:latest",
		SIFPath: "/scratch/users/jdoe/myimg.sif",
	})
	require.Error(t, err)
	assert.True(t, IsConversionError(err), "expected a ConversionError, got %v", err)
	// No partial file may be left at the destination path
	assert.Len(t, commandsMatching(f.loginCommands, "rm -f /scratch/users/jdoe/myimg.sif"), 1)
	// The allocation is still released
	assert.Len(t, commandsMatching(f.loginCommands, "scancel"), 1)
}

func TestConvertUploadFailure(t *testing.T) {
	t.Parallel()
	localTar := filepath.Join(os.TempDir(), "failing-upload.tar")
	require.Nil(t, ioutil.WriteFile(localTar, []byte("archive"), 0644))
	defer os.Remove(localTar)

	f := &fakeCluster{}
	d := newTestDriver(f)
	d.Login = &sshutil.MockSSHClient{
		MockCopyFile: func(source io.Reader, remotePath, permissions string) error {
			return errors.New("connection reset")
		},
	}

	_, err := d.Convert(context.Background(), ConversionRequest{
		Source:  SourceLocal,
		Tag:     "failing:upload",
		SIFPath: "/scratch/users/jdoe/failing.sif",
	})
	require.Error(t, err)
	assert.True(t, IsUploadError(err), "expected an UploadError, got %v", err)
}

func TestConvertValidation(t *testing.T) {
	t.Parallel()
	f := &fakeCluster{}
	d := newTestDriver(f)

	tests := []struct {
		name string
		req  ConversionRequest
	}{
		{"InvalidSource", ConversionRequest{Source: "somewhere", Tag: "a", SIFPath: "/p.sif"}},
		{"MissingTag", ConversionRequest{Source: SourceRegistry, SIFPath: "/p.sif"}},
		{"MissingSIFPath", ConversionRequest{Source: SourceRegistry, Tag: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Convert(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, slurm.IsValidationError(err), "expected a ValidationError, got %v", err)
		})
	}
	assert.Len(t, f.loginCommands, 0, "no remote call expected on validation failure")
}

func TestTagSlug(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "registry.io-user-img-v1.2", tagSlug("registry.io/user/img:v1.2"))
	assert.Equal(t, "a-b", tagSlug("a b"))
}
