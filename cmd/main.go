/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seliom/fiskal"
	"github.com/seliom/fiskal/config"
	"github.com/seliom/fiskal/database"
	"github.com/seliom/fiskal/internal/notification"
)

// Fiskal is the CLI application wrapping the root cobra command.
type Fiskal struct {
	cmd *cobra.Command
}

// fiskalInstance carries the pipeline service and its configuration through
// the command tree.
type fiskalInstance struct {
	fiskal *fiskal.Fiskal
	queue  *fiskal.Queue // inspector-backed stats for the health probe
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and constructs the pipeline before any
// subcommand runs. A missing signing credential fails here, not at the
// first job.
func preRun(app *fiskalInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("fiskal.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newFiskal, err := setupFiskal(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.fiskal = newFiskal
		app.cnf = cnf
		return nil
	}
}

func setupFiskal(cfg *config.Configuration) (*fiskal.Fiskal, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newFiskal, err := fiskal.NewFiskal(db)
	if err != nil {
		return nil, fmt.Errorf("error creating fiskal: %v", err)
	}
	return newFiskal, nil
}

// NewCLI assembles the command tree: server, workers and migrate.
func NewCLI() *Fiskal {
	var configFile string
	f := &fiskalInstance{}

	var rootCmd = &cobra.Command{
		Use:   "fiskal",
		Short: "Tax document processing pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./fiskal.json", "Configuration file for the pipeline")
	rootCmd.PersistentPreRunE = preRun(f)

	rootCmd.AddCommand(serverCommands(f))
	rootCmd.AddCommand(workerCommands(f))
	rootCmd.AddCommand(migrateCommands(f))

	return &Fiskal{cmd: rootCmd}
}

func (w Fiskal) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
