// Copyright 2024 geyser Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geyser-io/geyser/base/log"
	"github.com/geyser-io/geyser/cmd/version"
	"github.com/geyser-io/geyser/config"
	"github.com/geyser-io/geyser/dataset"
	"github.com/geyser-io/geyser/model"
	"github.com/geyser-io/geyser/storage"
	"github.com/geyser-io/geyser/updater"
)

var rootCommand = &cobra.Command{
	Use:   "geyser",
	Short: "Vote scraper and recommender for the SCP wiki.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

var updateCommand = &cobra.Command{
	Use:   "update",
	Short: "Scrape articles and votes from the wiki into the vote database.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		db := openDatabase(conf)
		defer db.Close()
		u, err := updater.NewUpdater(conf, db)
		if err != nil {
			log.Logger().Fatal("failed to create updater", zap.Error(err))
		}
		if err = u.Run(ctx); err != nil {
			log.Logger().Fatal("failed to update", zap.Error(err))
		}
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the vote prediction model on the scraped votes.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		db := openDatabase(conf)
		defer db.Close()
		set, err := db.LoadDataset(ctx)
		if err != nil {
			log.Logger().Fatal("failed to load votes", zap.Error(err))
		}
		m := model.NewSVD(conf.Train.GetParams())
		score, err := m.Fit(ctx, set, conf.Train.GetFitConfig())
		if err != nil {
			log.Logger().Fatal("failed to train", zap.Error(err))
		}
		if err = storage.SaveModel(conf.Database.ModelPath, m); err != nil {
			log.Logger().Fatal("failed to save model", zap.Error(err))
		}
		log.Logger().Info("saved model",
			zap.String("path", conf.Database.ModelPath),
			zap.Float32("RMSE", score.RMSE))
	},
}

var predictCommand = &cobra.Command{
	Use:   "predict USER...",
	Short: "Recommend articles a user is likely to upvote.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		m, set := openModel(ctx, conf)
		for _, user := range args {
			recommendations, err := model.TopItems(ctx, m, set, user,
				conf.Recommend.TopN, conf.Recommend.NumJobs)
			if errors.Is(err, errors.NotFound) {
				log.Logger().Error("unknown user", zap.String("user", user))
				continue
			} else if err != nil {
				log.Logger().Fatal("failed to recommend", zap.Error(err))
			}
			printRecommendations(user, recommendations)
		}
	},
}

var advertiseCommand = &cobra.Command{
	Use:   "advertise ARTICLE...",
	Short: "Find the users most likely to upvote an article.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		m, set := openModel(ctx, conf)
		for _, article := range args {
			recommendations, err := model.TopUsers(ctx, m, set, article,
				conf.Recommend.TopN, conf.Recommend.NumJobs)
			if errors.Is(err, errors.NotFound) {
				log.Logger().Error("unknown article", zap.String("article", article))
				continue
			} else if err != nil {
				log.Logger().Fatal("failed to recommend", zap.Error(err))
			}
			printRecommendations(article, recommendations)
		}
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "geyser version")
	defaults := config.GetDefaultConfig()
	updateCommand.Flags().Int("from", defaults.Wiki.From,
		"first article number to scrape (inclusive)")
	updateCommand.Flags().Int("to", defaults.Wiki.To,
		"article number to stop scraping before (exclusive)")
	trainCommand.Flags().Int("n-factors", defaults.Train.NFactors, "number of latent factors")
	trainCommand.Flags().Int("n-epochs", defaults.Train.NEpochs, "number of SGD epochs")
	trainCommand.Flags().Float64("lr", defaults.Train.Lr, "learning rate")
	trainCommand.Flags().Float64("reg", defaults.Train.Reg, "regularization strength")
	predictCommand.Flags().IntP("top", "n", defaults.Recommend.TopN, "number of recommendations")
	advertiseCommand.Flags().IntP("top", "n", defaults.Recommend.TopN, "number of recommendations")
	rootCommand.AddCommand(updateCommand, trainCommand, predictCommand, advertiseCommand)
}

func setup(cmd *cobra.Command) *config.Config {
	debug, _ := cmd.Flags().GetBool("debug")
	log.SetLogger(cmd.Flags(), debug)
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		log.Logger().Info("load config", zap.String("config", configPath))
	}
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	applyFlags(cmd, conf)
	if err = conf.Validate(); err != nil {
		log.Logger().Fatal("invalid config", zap.Error(err))
	}
	return conf
}

// applyFlags overlays command line flags on the loaded config. A flag set on
// the command line wins over the config file and the environment.
func applyFlags(cmd *cobra.Command, conf *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("from") {
		conf.Wiki.From, _ = flags.GetInt("from")
	}
	if flags.Changed("to") {
		conf.Wiki.To, _ = flags.GetInt("to")
	}
	if flags.Changed("n-factors") {
		conf.Train.NFactors, _ = flags.GetInt("n-factors")
	}
	if flags.Changed("n-epochs") {
		conf.Train.NEpochs, _ = flags.GetInt("n-epochs")
	}
	if flags.Changed("lr") {
		conf.Train.Lr, _ = flags.GetFloat64("lr")
	}
	if flags.Changed("reg") {
		conf.Train.Reg, _ = flags.GetFloat64("reg")
	}
	if flags.Changed("top") {
		conf.Recommend.TopN, _ = flags.GetInt("top")
	}
}

func openDatabase(conf *config.Config) *storage.Database {
	db, err := storage.Open(conf.Database.Path)
	if err != nil {
		log.Logger().Fatal("failed to open database",
			zap.String("path", conf.Database.Path), zap.Error(err))
	}
	return db
}

// openModel loads the trained model next to the votes it was trained on. A
// model trained before the latest scrape is rejected, retrain first.
func openModel(ctx context.Context, conf *config.Config) (*model.SVD, *dataset.Dataset) {
	db := openDatabase(conf)
	defer db.Close()
	set, err := db.LoadDataset(ctx)
	if err != nil {
		log.Logger().Fatal("failed to load votes", zap.Error(err))
	}
	m, err := storage.LoadModel(conf.Database.ModelPath)
	if errors.Is(err, errors.NotFound) {
		log.Logger().Fatal("no trained model, run `geyser train` first",
			zap.String("path", conf.Database.ModelPath))
	} else if err != nil {
		log.Logger().Fatal("failed to load model", zap.Error(err))
	}
	if err = m.CheckDimensions(set); err != nil {
		log.Logger().Fatal("model is out of date, run `geyser train` again", zap.Error(err))
	}
	return m, set
}

func printRecommendations(header string, recommendations []model.Recommendation) {
	fmt.Printf("%s:\n", header)
	lines := lo.Map(recommendations, func(r model.Recommendation, i int) string {
		return fmt.Sprintf("%2d. %-24s %+.4f", i+1, r.Id, r.Score)
	})
	for _, line := range lines {
		fmt.Println(line)
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
