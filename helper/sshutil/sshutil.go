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

// Package sshutil runs commands and copies files on remote hosts over SSH.
//
// A transport session is opened and torn down per call, there is no
// connection pooling.
package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/irishpc/iristools/log"
)

// Client is the interface allowing to run commands and copy files on a remote host
type Client interface {
	RunCommand(string) (string, error)
	CopyFile(source io.Reader, remotePath, permissions string) error
}

// SSHSessionWrapper is a wrapper with a piped SSH session
type SSHSessionWrapper struct {
	Session *ssh.Session
	Stdout  io.Reader
	Stderr  io.Reader
}

// SSHClient is a client SSH
type SSHClient struct {
	Config *ssh.ClientConfig
	Host   string
	Port   int
	// Via, when set, routes the connection through an intermediate host
	// (proxy jump through the login node).
	Via *SSHClient
}

// ConnectionError is returned when the remote host is unreachable or the
// authentication fails.
type ConnectionError struct {
	Host string
	err  error
}

func (ce *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %q: %v", ce.Host, ce.err)
}

// IsConnectionError checks if the given error is a ConnectionError
func IsConnectionError(err error) bool {
	_, ok := errors.Cause(err).(*ConnectionError)
	return ok
}

// RemoteCommandError is returned when a remote command exits with a non-zero
// status. It carries the remote exit status and the command output.
type RemoteCommandError struct {
	Cmd        string
	ExitStatus int
	Output     string
}

func (rce *RemoteCommandError) Error() string {
	return fmt.Sprintf("remote command %q exited with status %d", rce.Cmd, rce.ExitStatus)
}

// IsRemoteCommandError checks if the given error is a RemoteCommandError
func IsRemoteCommandError(err error) bool {
	_, ok := errors.Cause(err).(*RemoteCommandError)
	return ok
}

// ExitStatus returns the remote exit status carried by the given error or -1
// if the error is not a RemoteCommandError.
func ExitStatus(err error) int {
	if rce, ok := errors.Cause(err).(*RemoteCommandError); ok {
		return rce.ExitStatus
	}
	return -1
}

func wrapRunError(cmd, output string, err error) error {
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return &RemoteCommandError{Cmd: cmd, ExitStatus: exitErr.ExitStatus(), Output: output}
	}
	return errors.Wrapf(err, "failed to run command %q", cmd)
}

// GetSessionWrapper allows to return a session wrapper in order to handle stdout/stderr for running long synchronous commands
func (client *SSHClient) GetSessionWrapper() (*SSHSessionWrapper, error) {
	var ps = &SSHSessionWrapper{}
	var err error
	ps.Session, err = client.newSession()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to prepare SSH command")
	}

	log.Debug("[SSHSession] Add Stderr/Stdout pipelines")
	ps.Stdout, err = ps.Session.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to setup stdout for session")
	}

	ps.Stderr, err = ps.Session.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to setup stderr for session")
	}

	return ps, nil
}

// RunCommand allows to run a specified command
func (client *SSHClient) RunCommand(cmd string) (string, error) {
	session, err := client.newSession()
	if err != nil {
		return "", err
	}
	defer session.Close()
	var b bytes.Buffer
	session.Stderr = &b
	session.Stdout = &b

	log.Debugf("[SSHSession] %q", cmd)
	err = session.Run(cmd)
	return b.String(), wrapRunError(cmd, b.String(), err)
}

func (client *SSHClient) dial() (*ssh.Client, error) {
	addr := fmt.Sprintf("%s:%d", client.Host, client.Port)
	if client.Via == nil {
		connection, err := ssh.Dial("tcp", addr, client.Config)
		if err != nil {
			return nil, &ConnectionError{Host: client.Host, err: err}
		}
		return connection, nil
	}

	jump, err := client.Via.dial()
	if err != nil {
		return nil, err
	}
	netConn, err := jump.Dial("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Host: client.Host, err: err}
	}
	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, client.Config)
	if err != nil {
		netConn.Close()
		return nil, &ConnectionError{Host: client.Host, err: err}
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func (client *SSHClient) newSession() (*ssh.Session, error) {
	connection, err := client.dial()
	if err != nil {
		return nil, err
	}

	session, err := connection.NewSession()
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create session")
	}

	return session, nil
}

// RunCommand allows to run a specified command from a session wrapper in order to handle stdout/stderr during long synchronous commands
func (sw *SSHSessionWrapper) RunCommand(ctx context.Context, cmd string) error {
	chClosed := make(chan struct{})
	defer func() {
		sw.Session.Close()
		close(chClosed)
	}()
	log.Debugf("[SSHSession] running command: %q", cmd)
	go func() {
		select {
		case <-ctx.Done():
			log.Debug("[SSHSession] Cancellation has been sent: a sigkill signal is sent to remote process")
			sw.Session.Signal(ssh.SIGKILL)
			sw.Session.Close()
			return
		case <-chClosed:
			return
		}
	}()

	err := sw.Session.Run(cmd)
	return wrapRunError(cmd, "", err)
}

// CopyFile allows to copy a reader over SSH with defined remote path and specific permissions
func (client *SSHClient) CopyFile(source io.Reader, remotePath, permissions string) error {
	// Create a new SCP client
	scpHostPort := fmt.Sprintf("%s:%d", client.Host, client.Port)
	scpClient := scp.NewClient(scpHostPort, client.Config)

	// Connect to the remote server
	err := scpClient.Connect()
	if err != nil {
		return &ConnectionError{Host: client.Host, err: err}
	}
	defer scpClient.Session.Close()

	// Create the remote directory
	remoteDir := path.Dir(remotePath)
	mkdirCmd := fmt.Sprintf("mkdir -p %s", remoteDir)
	_, err = client.RunCommand(mkdirCmd)
	if err != nil {
		return errors.Wrapf(err, "Couldn't create the remote directory:%q", remoteDir)
	}

	// Finally, copy the reader over SSH
	log.Debugf("Copy source over SSH to remote path:%s", remotePath)
	return scpClient.CopyFile(source, remotePath, permissions)
}
