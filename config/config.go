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

// Package config defines configuration structures
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultClusterHost is the default SSH alias of the cluster login node
const DefaultClusterHost string = "iris-cluster"

// DefaultSSHPort is the default SSH port of the cluster login node
const DefaultSSHPort int = 22

// DefaultPrivateKeyPath is the default path of the SSH private key used to reach the cluster
const DefaultPrivateKeyPath string = "~/.ssh/id_rsa"

// DefaultSSHConfigPath is the default path of the local SSH client configuration
const DefaultSSHConfigPath string = "~/.ssh/config"

// DefaultSingularityModule is the default environment module providing the singularity command on compute nodes
const DefaultSingularityModule string = "tools/Singularity"

// DefaultAllocationTimeout is the default time waited for a queued allocation to start running
const DefaultAllocationTimeout = 5 * time.Minute

// DefaultAllocationPollingInterval is the default interval between two squeue polls of a pending allocation
const DefaultAllocationPollingInterval = 2 * time.Second

// Configuration holds config information filled by Cobra and Viper (see commands package for more information)
type Configuration struct {
	ClusterHost               string
	SSHPort                   int
	UserName                  string
	PrivateKey                string
	Password                  string
	ScratchDir                string
	SSHConfigPath             string
	SingularityModule         string
	AllocationTimeout         time.Duration
	AllocationPollingInterval time.Duration
	Extra                     DynamicMap
}

// ScratchDirOrDefault returns the configured remote scratch directory or the
// cluster convention for the given user when none is configured.
func (cfg Configuration) ScratchDirOrDefault(userName string) string {
	if cfg.ScratchDir != "" {
		return cfg.ScratchDir
	}
	return fmt.Sprintf("/scratch/users/%s", userName)
}

// DynamicMap holds free-form configuration parameters.
//
// It has methods to automatically cast data to the desired type.
type DynamicMap map[string]interface{}

// Get returns the raw value of a given configuration key
func (dm DynamicMap) Get(name string) interface{} {
	return dm[name]
}

// Set sets a value for a given configuration key
func (dm DynamicMap) Set(name string, value interface{}) {
	dm[name] = value
}

// GetString returns the value of the given key casted into a string.
// An empty string is returned if not found.
func (dm DynamicMap) GetString(name string) string {
	return cast.ToString(dm[name])
}

// GetStringOrDefault returns the value of the given key casted into a string.
// The given default value is returned if not found.
func (dm DynamicMap) GetStringOrDefault(name, defaultValue string) string {
	if res := dm.GetString(name); res != "" {
		return res
	}
	return defaultValue
}

// GetBool returns the value of the given key casted into a boolean.
// False is returned if not found.
func (dm DynamicMap) GetBool(name string) bool {
	return cast.ToBool(dm[name])
}

// GetInt returns the value of the given key casted into an int.
// 0 is returned if not found.
func (dm DynamicMap) GetInt(name string) int {
	return cast.ToInt(dm[name])
}

// GetStringSlice returns the value of the given key casted into a slice of string.
// If the corresponding raw value is a string, it is split on commas.
// A nil or empty slice is returned if not found.
func (dm DynamicMap) GetStringSlice(name string) []string {
	val := dm[name]
	switch v := val.(type) {
	case string:
		return strings.Split(v, ",")
	default:
		return cast.ToStringSlice(val)
	}
}
