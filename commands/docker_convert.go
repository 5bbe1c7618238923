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

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/irishpc/iristools/log"
	"github.com/irishpc/iristools/singularity"
	"github.com/irishpc/iristools/slurm"
)

var convertTag string
var convertSIFPath string
var convertSource string

var dockerConvertCmd = &cobra.Command{
	Use:   "docker-convert",
	Short: "Convert a Docker image to a Singularity image (SIF file) on the cluster",
	Long: `Converts a Docker image to a Singularity SIF file stored on the cluster.

A 'local' image is exported from your local Docker daemon and uploaded to the
cluster first; a 'registry' image is pulled directly on the conversion node.
The conversion itself runs on a short-lived allocation which is always
released when the command returns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		client, err := slurm.GetSSHClient(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sifPath, err := singularity.NewDriver(cfg, client).Convert(ctx, singularity.ConversionRequest{
			Source:  singularity.Source(convertSource),
			Tag:     convertTag,
			SIFPath: convertSIFPath,
		})
		if err != nil {
			return err
		}
		log.Println(color.GreenString("Image %q is now available at %s on %s", convertTag, sifPath, cfg.ClusterHost))
		log.Printf("Use it with: iristools run --singularity-image %s ...", sifPath)
		return nil
	},
}

func init() {
	dockerConvertCmd.Flags().StringVar(&convertTag, "tag", "", "The Docker image tag to convert (eg. 'myimage:latest')")
	dockerConvertCmd.Flags().StringVar(&convertSIFPath, "sif-path", "", "The destination path of the SIF file on the cluster")
	dockerConvertCmd.Flags().StringVar(&convertSource, "source", string(singularity.SourceLocal), "Where to find the Docker image: 'local' for your local Docker daemon, 'registry' for a remote registry")
	dockerConvertCmd.MarkFlagRequired("tag")
	dockerConvertCmd.MarkFlagRequired("sif-path")
	RootCmd.AddCommand(dockerConvertCmd)
}
