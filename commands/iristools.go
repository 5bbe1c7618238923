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

// Package commands implements the iristools command tree.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/irishpc/iristools/config"
	"github.com/irishpc/iristools/log"
)

// RootCmd is the root of iristools commands tree
var RootCmd = &cobra.Command{
	Use:   "iristools",
	Short: "Helper tools for Singularity jobs on the Iris cluster",
	Long: `iristools automates the interaction with the Iris HPC cluster:
converting Docker images to Singularity images, allocating compute
resources and wiring up remote development sessions.
`,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			fmt.Print(err)
		}
	},
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)
	setConfig()
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// enable ability to specify config file via flag
		viper.SetConfigFile(cfgFile)
	}
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugln("Using config file:", viper.ConfigFileUsed())
	} else {
		log.Debugln("Config not found... ")
	}
}

func setConfig() {
	// Flags definition for the cluster access
	RootCmd.PersistentFlags().String("cluster-host", config.DefaultClusterHost, "Host name of the cluster login node")
	RootCmd.PersistentFlags().Int("ssh-port", config.DefaultSSHPort, "SSH port of the cluster login node")
	RootCmd.PersistentFlags().StringP("user", "u", "", "User name on the cluster")
	RootCmd.PersistentFlags().String("private-key", config.DefaultPrivateKeyPath, "Path or content of the SSH private key used to reach the cluster")
	RootCmd.PersistentFlags().String("scratch-dir", "", "Remote scratch directory (default is /scratch/users/<user>)")
	RootCmd.PersistentFlags().String("ssh-config", config.DefaultSSHConfigPath, "Path of the local SSH client configuration")
	RootCmd.PersistentFlags().String("singularity-module", config.DefaultSingularityModule, "Environment module providing singularity on compute nodes")
	RootCmd.PersistentFlags().Duration("allocation-timeout", config.DefaultAllocationTimeout, "Time to wait for a queued allocation to start running")
	RootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logs")
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.iristools/config.iristools.json)")

	// Bind flags
	viper.BindPFlag("cluster_host", RootCmd.PersistentFlags().Lookup("cluster-host"))
	viper.BindPFlag("ssh_port", RootCmd.PersistentFlags().Lookup("ssh-port"))
	viper.BindPFlag("user_name", RootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("private_key", RootCmd.PersistentFlags().Lookup("private-key"))
	viper.BindPFlag("scratch_dir", RootCmd.PersistentFlags().Lookup("scratch-dir"))
	viper.BindPFlag("ssh_config_path", RootCmd.PersistentFlags().Lookup("ssh-config"))
	viper.BindPFlag("singularity_module", RootCmd.PersistentFlags().Lookup("singularity-module"))
	viper.BindPFlag("allocation_timeout", RootCmd.PersistentFlags().Lookup("allocation-timeout"))
	viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	// Environment Variables
	viper.SetEnvPrefix("iris") // will be uppercased automatically - Become "IRIS_"
	viper.AutomaticEnv()       // read in environment variables that match
	viper.BindEnv("user_name", "IRIS_USER")
	viper.BindEnv("cluster_host")
	viper.BindEnv("private_key")
	viper.BindEnv("password", "IRIS_PASSWORD")

	// Setting Defaults
	viper.SetDefault("cluster_host", config.DefaultClusterHost)
	viper.SetDefault("ssh_port", config.DefaultSSHPort)
	viper.SetDefault("user_name", os.Getenv("USER"))
	viper.SetDefault("private_key", config.DefaultPrivateKeyPath)
	viper.SetDefault("ssh_config_path", config.DefaultSSHConfigPath)
	viper.SetDefault("singularity_module", config.DefaultSingularityModule)
	viper.SetDefault("allocation_timeout", config.DefaultAllocationTimeout)
	viper.SetDefault("allocation_polling_interval", config.DefaultAllocationPollingInterval)

	// Configuration file directories
	viper.SetConfigName("config.iristools") // name of config file (without extension)
	viper.AddConfigPath("$HOME/.iristools")
	viper.AddConfigPath(".")
}

// GetConfig returns the configuration filled by Cobra and Viper
func GetConfig() config.Configuration {
	if viper.GetBool("debug") {
		log.SetDebug(true)
	}
	return config.Configuration{
		ClusterHost:               viper.GetString("cluster_host"),
		SSHPort:                   viper.GetInt("ssh_port"),
		UserName:                  viper.GetString("user_name"),
		PrivateKey:                viper.GetString("private_key"),
		Password:                  viper.GetString("password"),
		ScratchDir:                viper.GetString("scratch_dir"),
		SSHConfigPath:             viper.GetString("ssh_config_path"),
		SingularityModule:         viper.GetString("singularity_module"),
		AllocationTimeout:         getDuration("allocation_timeout", config.DefaultAllocationTimeout),
		AllocationPollingInterval: getDuration("allocation_polling_interval", config.DefaultAllocationPollingInterval),
		Extra:                     config.DynamicMap(viper.GetStringMap("extra")),
	}
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return defaultValue
}
