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

// Package config loads the geyser configuration from a TOML file via viper.
package config

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/geyser-io/geyser/model"
)

// Config is the configuration for geyser.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Wiki      WikiConfig      `mapstructure:"wiki"`
	Train     TrainConfig     `mapstructure:"train"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// DatabaseConfig is the configuration for the vote store and the model file.
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`       // SQLite vote database
	ModelPath string `mapstructure:"model_path"` // trained model file
}

// WikiConfig is the configuration for the wiki scraper.
type WikiConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`   // wiki base URL
	UserAgent string        `mapstructure:"user_agent"` // User-Agent header
	From      int           `mapstructure:"from"`       // first article number, inclusive
	To        int           `mapstructure:"to"`         // last article number, exclusive
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
	Timeout   time.Duration `mapstructure:"timeout"`    // per-request timeout
}

// TrainConfig is the configuration for model training.
type TrainConfig struct {
	NFactors    int     `mapstructure:"n_factors"`    // number of latent factors
	NEpochs     int     `mapstructure:"n_epochs"`     // number of epochs
	Lr          float64 `mapstructure:"lr"`           // learning rate
	Reg         float64 `mapstructure:"reg"`          // regularization strength
	RandomState int64   `mapstructure:"random_state"` // random seed
	Verbose     int     `mapstructure:"verbose"`      // epochs between progress logs
}

// GetParams converts the training section to model hyper-parameters.
func (c TrainConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:    c.NFactors,
		model.NEpochs:     c.NEpochs,
		model.Lr:          float32(c.Lr),
		model.Reg:         float32(c.Reg),
		model.RandomState: c.RandomState,
	}
}

// GetFitConfig converts the training section to a fit config.
func (c TrainConfig) GetFitConfig() *model.FitConfig {
	return model.NewFitConfig().SetVerbose(c.Verbose)
}

// RecommendConfig is the configuration for ranking.
type RecommendConfig struct {
	TopN    int `mapstructure:"top_n"`    // number of recommendations
	NumJobs int `mapstructure:"num_jobs"` // number of scoring workers
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "geyser.db",
			ModelPath: "geyser.model",
		},
		Wiki: WikiConfig{
			Endpoint:  "http://www.scp-wiki.net",
			UserAgent: "geyser",
			From:      6000,
			To:        8000,
			RateLimit: 1,
			Timeout:   30 * time.Second,
		},
		Train: TrainConfig{
			NFactors:    30,
			NEpochs:     120,
			Lr:          0.004,
			Reg:         0.02,
			RandomState: 0,
			Verbose:     10,
		},
		Recommend: RecommendConfig{
			TopN:    10,
			NumJobs: 1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.path", defaultConfig.Database.Path)
	viper.SetDefault("database.model_path", defaultConfig.Database.ModelPath)
	// [wiki]
	viper.SetDefault("wiki.endpoint", defaultConfig.Wiki.Endpoint)
	viper.SetDefault("wiki.user_agent", defaultConfig.Wiki.UserAgent)
	viper.SetDefault("wiki.from", defaultConfig.Wiki.From)
	viper.SetDefault("wiki.to", defaultConfig.Wiki.To)
	viper.SetDefault("wiki.rate_limit", defaultConfig.Wiki.RateLimit)
	viper.SetDefault("wiki.timeout", defaultConfig.Wiki.Timeout)
	// [train]
	viper.SetDefault("train.n_factors", defaultConfig.Train.NFactors)
	viper.SetDefault("train.n_epochs", defaultConfig.Train.NEpochs)
	viper.SetDefault("train.lr", defaultConfig.Train.Lr)
	viper.SetDefault("train.reg", defaultConfig.Train.Reg)
	viper.SetDefault("train.random_state", defaultConfig.Train.RandomState)
	viper.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	// [recommend]
	viper.SetDefault("recommend.top_n", defaultConfig.Recommend.TopN)
	viper.SetDefault("recommend.num_jobs", defaultConfig.Recommend.NumJobs)
}

// Validate rejects configurations that no component can run with.
func (config *Config) Validate() error {
	if config.Wiki.From < 0 || config.Wiki.To <= config.Wiki.From {
		return errors.NotValidf("article range [%d, %d)", config.Wiki.From, config.Wiki.To)
	}
	if config.Wiki.RateLimit <= 0 {
		return errors.NotValidf("wiki.rate_limit = %v", config.Wiki.RateLimit)
	}
	if config.Train.NFactors <= 0 {
		return errors.NotValidf("train.n_factors = %d", config.Train.NFactors)
	}
	if config.Train.NEpochs < 0 {
		return errors.NotValidf("train.n_epochs = %d", config.Train.NEpochs)
	}
	if config.Train.Lr < 0 {
		return errors.NotValidf("train.lr = %v", config.Train.Lr)
	}
	if config.Train.Reg < 0 {
		return errors.NotValidf("train.reg = %v", config.Train.Reg)
	}
	if config.Recommend.TopN <= 0 {
		return errors.NotValidf("recommend.top_n = %d", config.Recommend.TopN)
	}
	return nil
}

// LoadConfig loads the configuration from a TOML file. Missing keys take
// their default values. An empty path returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	if path != "" {
		viper.SetConfigType("toml")
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	viper.SetEnvPrefix("geyser")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}
