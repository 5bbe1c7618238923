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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irishpc/iristools/config"
)

// Tests the definition of a private key in configuration
func TestPrivateKey(t *testing.T) {
	t.Parallel()
	// First generate a valid private key content
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.Nil(t, err)
	bArray := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY",
		Headers: nil,
		Bytes:   x509.MarshalPKCS1PrivateKey(priv)})
	privateKeyContent := string(bArray)

	// Config to test
	cfg := config.Configuration{
		ClusterHost: "access-iris.uni.lu",
		SSHPort:     8022,
		UserName:    "jdoe",
		PrivateKey:  privateKeyContent,
	}

	client, err := GetSSHClient(cfg)
	assert.NoError(t, err, "Unexpected error getting a ssh client using a configuration with private key")
	assert.Equal(t, "access-iris.uni.lu", client.Host)
	assert.Equal(t, 8022, client.Port)
	assert.Equal(t, "jdoe", client.Config.User)

	// Remove the private key.
	// As there is no password defined either, check an error is returned
	cfg.PrivateKey = ""
	_, err = GetSSHClient(cfg)
	assert.Error(t, err, "Expected an error getting a ssh client using a configuration with no private key and no password defined")

	// Setting a wrong private key path
	// Check the attempt to use this key for the authentication method is failing
	cfg.PrivateKey = "invalid_path_to_key.pem"
	_, err = GetSSHClient(cfg)
	assert.Error(t, err, "Expected an error getting a ssh client using a configuration with bad private key and no password defined")

	// Configuration with no private key but a password, the config should be valid
	cfg.PrivateKey = ""
	cfg.Password = "test"
	_, err = GetSSHClient(cfg)
	assert.NoError(t, err, "Unexpected error getting a ssh client using a configuration with password")

	// Missing user name
	cfg.UserName = ""
	_, err = GetSSHClient(cfg)
	assert.Error(t, err, "Expected an error getting a ssh client without user name")
}

func TestNodeSSHClient(t *testing.T) {
	t.Parallel()
	cfg := config.Configuration{
		ClusterHost: "access-iris.uni.lu",
		SSHPort:     8022,
		UserName:    "jdoe",
		Password:    "test",
	}
	login, err := GetSSHClient(cfg)
	require.Nil(t, err)

	node := NodeSSHClient(login, "iris-055")
	assert.Equal(t, "iris-055", node.Host)
	assert.Equal(t, 22, node.Port)
	assert.Equal(t, login, node.Via)
	assert.Equal(t, login.Config, node.Config)
}
