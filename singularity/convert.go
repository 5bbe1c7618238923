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

// Package singularity drives the conversion of Docker images to single-file
// Singularity images (SIF) on the cluster.
package singularity

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/irishpc/iristools/config"
	"github.com/irishpc/iristools/helper/executil"
	"github.com/irishpc/iristools/helper/sshutil"
	"github.com/irishpc/iristools/log"
	"github.com/irishpc/iristools/slurm"
)

// Source designates where the Docker image to convert comes from
type Source string

const (
	// SourceLocal is a Docker image available in the local Docker daemon
	SourceLocal Source = "local"
	// SourceRegistry is a Docker image hosted on a remote registry
	SourceRegistry Source = "registry"
)

// ConversionRequest describes a single Docker to SIF conversion. It is
// transient and exists only for the duration of the conversion call.
type ConversionRequest struct {
	Source  Source
	Tag     string
	SIFPath string
}

// UploadError is returned when the transfer of a local image archive to the
// cluster fails.
type UploadError struct {
	Path string
	err  error
}

func (ue *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %q to the cluster: %v", ue.Path, ue.err)
}

// NewUploadError returns an UploadError for the given path
func NewUploadError(path string, err error) *UploadError {
	return &UploadError{Path: path, err: err}
}

// IsUploadError checks if the given error is an UploadError
func IsUploadError(err error) bool {
	_, ok := errors.Cause(err).(*UploadError)
	return ok
}

// ConversionError is returned when the remote conversion tool fails
type ConversionError struct {
	Tag string
	err error
}

func (ce *ConversionError) Error() string {
	return fmt.Sprintf("failed to convert image %q: %v", ce.Tag, ce.err)
}

// IsConversionError checks if the given error is a ConversionError
func IsConversionError(err error) bool {
	_, ok := errors.Cause(err).(*ConversionError)
	return ok
}

// LocalRunner runs a command on the local machine
type LocalRunner func(ctx context.Context, name string, arg ...string) error

// Driver converts Docker images to SIF files on the cluster.
//
// Its collaborators are injectable so they can be substituted with fakes in
// tests: Login talks to the cluster login node, NodeClient returns a client
// to an allocated compute node and RunLocal spawns local processes.
type Driver struct {
	Cfg        config.Configuration
	Login      sshutil.Client
	NodeClient func(node string) sshutil.Client
	RunLocal   LocalRunner
}

// NewDriver returns a Driver using the given SSH client to the login node,
// proxy-jump node clients and local process execution.
func NewDriver(cfg config.Configuration, login *sshutil.SSHClient) *Driver {
	return &Driver{
		Cfg:   cfg,
		Login: login,
		NodeClient: func(node string) sshutil.Client {
			return slurm.NodeSSHClient(login, node)
		},
		RunLocal: runLocalCommand,
	}
}

func runLocalCommand(ctx context.Context, name string, arg ...string) error {
	cmd := executil.Command(ctx, name, arg...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (req ConversionRequest) validate() error {
	if req.Source != SourceLocal && req.Source != SourceRegistry {
		return slurm.NewValidationError("invalid source %q: must be either %q or %q", req.Source, SourceLocal, SourceRegistry)
	}
	if req.Tag == "" {
		return slurm.NewValidationError("a Docker image tag is required")
	}
	if req.SIFPath == "" {
		return slurm.NewValidationError("a destination SIF path on the cluster is required")
	}
	return nil
}

// tagSlug turns a Docker tag into a name usable in file names and job names
func tagSlug(tag string) string {
	return strings.NewReplacer("/", "-", ":", "-", " ", "-").Replace(tag)
}

func (d *Driver) allocationTimeout() time.Duration {
	if d.Cfg.AllocationTimeout > 0 {
		return d.Cfg.AllocationTimeout
	}
	return config.DefaultAllocationTimeout
}

func (d *Driver) pollingInterval() time.Duration {
	if d.Cfg.AllocationPollingInterval > 0 {
		return d.Cfg.AllocationPollingInterval
	}
	return config.DefaultAllocationPollingInterval
}

// Convert produces a SIF file at req.SIFPath on the cluster from the given
// Docker image, overwriting any pre-existing file. A local image is exported
// and uploaded first; a registry image is pulled directly on the conversion
// node. The destination path is only valid once Convert returns without
// error; a failed conversion never leaves a partial file there. Nothing is
// retried automatically.
func (d *Driver) Convert(ctx context.Context, req ConversionRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	slug := tagSlug(req.Tag)

	var localTar, remoteTar string
	if req.Source == SourceLocal {
		var err error
		localTar, remoteTar, err = d.uploadLocalImage(ctx, req, slug)
		if err != nil {
			return "", err
		}
	}

	jobName := "docker-conversion-" + slug
	log.Printf("Allocating a node to convert %q to a SIF file", req.Tag)
	allocReq := slurm.JobRequest{
		Name: jobName,
		CPUs: 4,
		Mem:  "12G",
		Time: "01:00:00",
		ExtraOpts: []string{
			"-p " + d.Cfg.Extra.GetStringOrDefault("conversion_partition", "interactive"),
			"--qos " + d.Cfg.Extra.GetStringOrDefault("conversion_qos", "debug"),
		},
	}
	if _, err := slurm.AllocateNoShell(d.Login, allocReq); err != nil {
		return "", errors.Wrap(err, "failed to allocate a conversion node")
	}
	defer func() {
		log.Debugf("Releasing the conversion allocation %q", jobName)
		if err := slurm.CancelJobName(d.Login, jobName); err != nil {
			log.Printf("[Warning] %v", err)
		}
	}()

	node, err := slurm.WaitJobRunning(ctx, d.Login, jobName, d.allocationTimeout(), d.pollingInterval())
	if err != nil {
		return "", err
	}
	log.Printf("Converting %q to a SIF file at %q on node %q", req.Tag, req.SIFPath, node)

	sourceURI := "docker://" + req.Tag
	if req.Source == SourceLocal {
		sourceURI = "docker-archive://" + remoteTar
	}
	buildCmd := fmt.Sprintf("bash -l -c 'module load %s && singularity build --force %s %s'",
		d.Cfg.SingularityModule, req.SIFPath, sourceURI)
	output, err := d.NodeClient(node).RunCommand(buildCmd)
	if err != nil {
		// Make sure a failed build doesn't leave a partial file at the
		// destination path.
		if _, rmErr := d.Login.RunCommand(fmt.Sprintf("rm -f %s", req.SIFPath)); rmErr != nil {
			log.Printf("[Warning] failed to remove partial image %q: %v", req.SIFPath, rmErr)
		}
		return "", &ConversionError{Tag: req.Tag, err: errors.Wrap(err, strings.TrimSpace(output))}
	}

	if _, err := d.Login.RunCommand(fmt.Sprintf("test -s %s", req.SIFPath)); err != nil {
		return "", &ConversionError{Tag: req.Tag, err: errors.Errorf("no image was produced at %q", req.SIFPath)}
	}

	if req.Source == SourceLocal {
		log.Debugf("Removing temporary archives %q and %q", localTar, remoteTar)
		if _, err := d.Login.RunCommand(fmt.Sprintf("rm -f %s", remoteTar)); err != nil {
			log.Printf("[Warning] failed to remove remote archive %q: %v", remoteTar, err)
		}
		if err := os.Remove(localTar); err != nil {
			log.Printf("[Warning] failed to remove local archive %q: %v", localTar, err)
		}
	}
	return req.SIFPath, nil
}

// uploadLocalImage exports the image from the local Docker daemon and
// uploads the archive next to the destination SIF path.
func (d *Driver) uploadLocalImage(ctx context.Context, req ConversionRequest, slug string) (string, string, error) {
	localTar := filepath.Join(os.TempDir(), slug+".tar")
	if _, err := os.Stat(localTar); err == nil {
		log.Printf("%s already exists, reusing it. If you wish to export the image again, delete this file.", localTar)
	} else {
		log.Printf("Exporting %q to %q on your local machine", req.Tag, localTar)
		if err := d.RunLocal(ctx, "docker", "save", "-o", localTar, req.Tag); err != nil {
			return "", "", errors.Wrapf(err, "failed to export Docker image %q", req.Tag)
		}
	}

	source, err := os.Open(localTar)
	if err != nil {
		return "", "", &UploadError{Path: localTar, err: err}
	}
	defer source.Close()

	remoteTar := path.Join(path.Dir(req.SIFPath), slug+".tar")
	if fi, err := source.Stat(); err == nil {
		log.Printf("Uploading %q (%s) to cluster path %q", localTar, humanize.Bytes(uint64(fi.Size())), remoteTar)
	}
	if err := d.Login.CopyFile(source, remoteTar, "0644"); err != nil {
		return "", "", &UploadError{Path: localTar, err: err}
	}
	return localTar, remoteTar, nil
}
