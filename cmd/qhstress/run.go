// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qhash/internal/workload"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	runConfig = workload.DefaultConfig()
	runCmd    = &cobra.Command{
		Use:   "run",
		Short: "Run a workload",
		Long: `Run a randomized workload against qhash tables. Every flag can also be set
through an environment variable QHASH_<FLAG> (e.g. QHASH_BLOB_WIDTH=32), or in
a .env file.`,
		PreRunE: processRunConfig,
		RunE:    run,
	}
)

func init() {
	d := workload.DefaultConfig()
	flags := runCmd.Flags()

	key := "keys"
	flags.Int(key, d.Keys, wrapString("The size of the keyspace operations draw keys from"))
	key = "ops"
	flags.Int(key, d.Ops, wrapString("The number of operations each worker performs"))
	key = "workers"
	flags.Int(key, d.Workers, wrapString("The number of concurrent workers, each with its own table"))
	key = "kind"
	flags.String(key, d.Kind, wrapString("The key kind (u32, u64, string, blob)"))
	key = "blob-width"
	flags.Int(key, d.BlobWidth, wrapString("The width of blob keys in bytes"))
	key = "cache-hashes"
	flags.Bool(key, d.CacheHashes, wrapString("Whether tables cache key hashes (string and blob keys only)"))
	key = "min-size"
	flags.Int(key, d.MinSize, wrapString("The number of entries tables are sized for at least"))
	key = "mix"
	flags.String(key, d.Mix.String(), wrapString("The operation mix as insert,find,delete percentages"))
	key = "seed"
	flags.Int64(key, d.Seed, wrapString("The seed of the operation streams"))
	key = "verify"
	flags.Bool(key, d.Verify, wrapString("Whether to cross-check every result against a shadow set"))
	key = "baseline"
	flags.Bool(key, d.Baseline, wrapString("Whether to also run the workload against Go's builtin map"))
	key = "prometheus"
	flags.Bool(key, false, wrapString("Whether to print the collected metrics in Prometheus text format"))
}

// processRunConfig reads the configuration from the command line flags and
// environment variables.
func processRunConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}

	mix, err := workload.ParseMix(viper.GetString("mix"))
	if err != nil {
		return err
	}
	runConfig = workload.Config{
		Keys:        viper.GetInt("keys"),
		Ops:         viper.GetInt("ops"),
		Workers:     viper.GetInt("workers"),
		Kind:        viper.GetString("kind"),
		BlobWidth:   viper.GetInt("blob-width"),
		CacheHashes: viper.GetBool("cache-hashes"),
		MinSize:     viper.GetInt("min-size"),
		Mix:         mix,
		Seed:        viper.GetInt64("seed"),
		Verify:      viper.GetBool("verify"),
		Baseline:    viper.GetBool("baseline"),
	}
	if err := runConfig.Validate(); err != nil {
		return errors.Wrap(err, "invalid run configuration")
	}
	return workload.InitLoggers(viper.GetString("log-level"), "workload", "qhstress")
}

func run(cmd *cobra.Command, _ []string) error {
	log := logger.GetLogger("qhstress")
	log.Infof("configuration:\n%s", runConfig)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := workload.Run(ctx, runConfig, logger.GetLogger("workload"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warningf("interrupted")
		}
		return errors.Wrap(err, "workload failed")
	}

	out := cmd.OutOrStdout()
	if err := report.WriteText(out); err != nil {
		return err
	}
	if viper.GetBool("prometheus") {
		report.WritePrometheus(out)
	}
	return nil
}
