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

package sshutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestReadPrivateKeyFromContent(t *testing.T) {
	t.Parallel()
	// First generate a valid private key content
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.Nil(t, err)
	bArray := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY",
		Headers: nil,
		Bytes:   x509.MarshalPKCS1PrivateKey(priv)})

	_, err = ReadPrivateKey(string(bArray))
	require.Nil(t, err, "unexpected error reading a valid private key content")
}

func TestReadPrivateKeyWithBadContent(t *testing.T) {
	t.Parallel()
	_, err := ReadPrivateKey("this is not a private key")
	require.Error(t, err, "expected an error reading an invalid private key")
}

func TestRemoteCommandErrorExitStatus(t *testing.T) {
	t.Parallel()
	err := &RemoteCommandError{Cmd: "squeue", ExitStatus: 12, Output: "squeue: error"}
	require.True(t, IsRemoteCommandError(err))
	assert.Equal(t, 12, ExitStatus(err))

	wrapped := errors.Wrap(err, "failed to poll job")
	require.True(t, IsRemoteCommandError(wrapped), "expected RemoteCommandError to be detected through wrapping")
	assert.Equal(t, 12, ExitStatus(wrapped))
}

func TestExitStatusWithOtherError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -1, ExitStatus(errors.New("some error")))
	assert.False(t, IsRemoteCommandError(errors.New("some error")))
	assert.False(t, IsConnectionError(errors.New("some error")))
}

func TestConnectionErrorOnUnreachableHost(t *testing.T) {
	t.Parallel()
	config := &ssh.ClientConfig{
		User:            "nobody",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second,
	}
	client := &SSHClient{Config: config, Host: "127.0.0.1", Port: 1}
	_, err := client.RunCommand("hostname")
	require.Error(t, err, "expected a connection error on an unreachable host")
	require.True(t, IsConnectionError(err))
}
