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
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/irishpc/iristools/config"
	"github.com/irishpc/iristools/helper/sshutil"
)

// checkUserConfig checks the mandatory cluster access parameters
func checkUserConfig(cfg config.Configuration) error {
	if cfg.ClusterHost == "" {
		return errors.New("cluster login host name is missing")
	}
	if cfg.UserName == "" {
		return errors.New("cluster user name is missing")
	}
	if cfg.PrivateKey == "" && cfg.Password == "" {
		return errors.New("cluster password or private key is missing")
	}
	return nil
}

// GetSSHClient returns a SSH client to the cluster login node built from the
// given configuration.
func GetSSHClient(cfg config.Configuration) (*sshutil.SSHClient, error) {
	if err := checkUserConfig(cfg); err != nil {
		return nil, err
	}

	conf := &ssh.ClientConfig{
		User:            cfg.UserName,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if cfg.PrivateKey != "" {
		keyAuth, err := sshutil.ReadPrivateKey(cfg.PrivateKey)
		if err != nil {
			if cfg.Password == "" {
				return nil, err
			}
		} else {
			conf.Auth = append(conf.Auth, keyAuth)
		}
	}
	if cfg.Password != "" {
		conf.Auth = append(conf.Auth, ssh.Password(cfg.Password))
	}

	return &sshutil.SSHClient{
		Config: conf,
		Host:   cfg.ClusterHost,
		Port:   cfg.SSHPort,
	}, nil
}

// NodeSSHClient returns a SSH client reaching the given compute node through
// the login node (proxy jump).
func NodeSSHClient(login *sshutil.SSHClient, node string) *sshutil.SSHClient {
	return &sshutil.SSHClient{
		Config: login.Config,
		Host:   node,
		Port:   22,
		Via:    login,
	}
}
