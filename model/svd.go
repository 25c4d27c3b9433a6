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

package model

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/geyser-io/geyser/base/encoding"
	"github.com/geyser-io/geyser/base/log"
	"github.com/geyser-io/geyser/common/floats"
	"github.com/geyser-io/geyser/dataset"
)

// FitConfig controls the verbosity of a training run.
type FitConfig struct {
	Verbose int // epochs between progress logs
}

// NewFitConfig creates a default fit config.
func NewFitConfig() *FitConfig {
	return &FitConfig{Verbose: 10}
}

// SetVerbose sets the number of epochs between progress logs.
func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

// Score is the result of a training run.
type Score struct {
	RMSE float32
}

// SVD factorizes the user-article vote matrix in the way popularized by Simon
// Funk during the Netflix Prize. The predicted vote is:
//
//	\hat{r}_{ui} = \mu + b_u + b_i + q_i^T p_u
//
// where \mu is the dataset mean vote, fixed after initialization. Biases and
// factors are trained by stochastic gradient descent on the squared error.
//
// Hyper-parameters:
//
//	Lr       - The learning rate of SGD. Default is 0.004.
//	Reg      - The regularization strength. Default is 0.02.
//	NFactors - The number of latent factors. Default is 30.
//	NEpochs  - The number of SGD epochs. Default is 120.
//	InitLow  - The lower bound of initial random factors. Default is -0.1.
//	InitHigh - The upper bound of initial random factors. Default is 0.1.
type SVD struct {
	BaseModel
	UserDict *dataset.Dict
	ItemDict *dataset.Dict
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	UserBias   []float32   // b_u
	ItemBias   []float32   // b_i
	GlobalMean float32     // mu
	// Hyper parameters
	nFactors int
	nEpochs  int
	lr       float32
	reg      float32
	initLow  float32
	initHigh float32
}

// NewSVD creates a SVD model.
func NewSVD(params Params) *SVD {
	svd := new(SVD)
	svd.SetParams(params)
	return svd
}

// SetParams sets hyper-parameters of the SVD model.
func (svd *SVD) SetParams(params Params) {
	svd.BaseModel.SetParams(params)
	svd.nFactors = svd.Params.GetInt(NFactors, 30)
	svd.nEpochs = svd.Params.GetInt(NEpochs, 120)
	svd.lr = svd.Params.GetFloat32(Lr, 0.004)
	svd.reg = svd.Params.GetFloat32(Reg, 0.02)
	svd.initLow = svd.Params.GetFloat32(InitLow, -0.1)
	svd.initHigh = svd.Params.GetFloat32(InitHigh, 0.1)
}

// Predict the vote given by a user to an article. Unknown users and articles
// fall back to the trained portions of the formula.
func (svd *SVD) Predict(userId, itemId string) float32 {
	userIndex := svd.UserDict.Id(userId)
	itemIndex := svd.ItemDict.Id(itemId)
	if userIndex == dataset.NotId {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
	}
	if itemIndex == dataset.NotId {
		log.Logger().Warn("unknown article", zap.String("item_id", itemId))
	}
	return svd.internalPredict(userIndex, itemIndex)
}

func (svd *SVD) internalPredict(userIndex, itemIndex int32) float32 {
	ret := svd.GlobalMean
	// + b_u
	if userIndex != dataset.NotId {
		ret += svd.UserBias[userIndex]
	}
	// + b_i
	if itemIndex != dataset.NotId {
		ret += svd.ItemBias[itemIndex]
	}
	// + q_i^T p_u
	if userIndex != dataset.NotId && itemIndex != dataset.NotId {
		ret += floats.Dot(svd.UserFactor[userIndex], svd.ItemFactor[itemIndex])
	}
	return ret
}

// Init allocates and initializes the model parameters for a train set. Biases
// start at zero, factors are drawn uniformly from [InitLow, InitHigh] by the
// seeded random generator, and the global mean is fixed to the dataset mean.
func (svd *SVD) Init(trainSet *dataset.Dataset) {
	svd.UserDict = trainSet.GetUserDict()
	svd.ItemDict = trainSet.GetItemDict()
	svd.GlobalMean = trainSet.Mean()
	svd.UserBias = make([]float32, trainSet.CountUsers())
	svd.ItemBias = make([]float32, trainSet.CountItems())
	svd.UserFactor = svd.rng.UniformMatrix(trainSet.CountUsers(), svd.nFactors, svd.initLow, svd.initHigh)
	svd.ItemFactor = svd.rng.UniformMatrix(trainSet.CountItems(), svd.nFactors, svd.initLow, svd.initHigh)
}

// Fit the SVD model. Observations are visited once per epoch in an order
// shuffled deterministically by the seeded random generator, so two runs with
// the same seed and train set produce identical parameters. The context is
// checked at epoch boundaries only.
func (svd *SVD) Fit(ctx context.Context, trainSet *dataset.Dataset, config *FitConfig) (Score, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if svd.nFactors <= 0 {
		return Score{}, errors.NotValidf("NFactors = %d", svd.nFactors)
	}
	if svd.nEpochs < 0 {
		return Score{}, errors.NotValidf("NEpochs = %d", svd.nEpochs)
	}
	if svd.lr < 0 {
		return Score{}, errors.NotValidf("Lr = %v", svd.lr)
	}
	if svd.reg < 0 {
		return Score{}, errors.NotValidf("Reg = %v", svd.reg)
	}
	if trainSet.Count() == 0 {
		return Score{}, errors.NotValidf("empty train set")
	}
	log.Logger().Info("fit svd",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("n_votes", trainSet.Count()),
		zap.Any("params", svd.GetParams()))
	svd.Init(trainSet)
	// Create buffers
	a := make([]float32, svd.nFactors)
	b := make([]float32, svd.nFactors)
	score := Score{RMSE: RMSE(svd, trainSet)}
	for epoch := 1; epoch <= svd.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return score, errors.Trace(err)
		}
		perm := svd.rng.Perm(trainSet.Count())
		for _, i := range perm {
			userIndex, itemIndex, rating := trainSet.Get(i)
			svd.gradientStep(userIndex, itemIndex, rating, a, b)
		}
		score.RMSE = RMSE(svd, trainSet)
		if epoch%config.Verbose == 0 || epoch == svd.nEpochs {
			log.Logger().Info(fmt.Sprintf("fit svd %v/%v", epoch, svd.nEpochs),
				zap.Float32("RMSE", score.RMSE))
		}
	}
	log.Logger().Info("fit svd complete", zap.Float32("RMSE", score.RMSE))
	return score, nil
}

// gradientStep updates the parameters touched by a single observation. Both
// factor gradients are computed from the same snapshot before either table is
// written, so the item update sees the pre-update user factor.
func (svd *SVD) gradientStep(userIndex, itemIndex int32, rating float32, a, b []float32) {
	userFactor := svd.UserFactor[userIndex]
	itemFactor := svd.ItemFactor[itemIndex]
	// Compute error: e_{ui} = r - \hat{r}
	e := rating - svd.internalPredict(userIndex, itemIndex)
	// Update user bias: b_u <- b_u + \gamma (e_{ui} - \lambda b_u)
	svd.UserBias[userIndex] += svd.lr * (e - svd.reg*svd.UserBias[userIndex])
	// Update item bias: b_i <- b_i + \gamma (e_{ui} - \lambda b_i)
	svd.ItemBias[itemIndex] += svd.lr * (e - svd.reg*svd.ItemBias[itemIndex])
	// a <- \gamma (e_{ui} q_i - \lambda p_u)
	floats.MulConstTo(itemFactor, e, a)
	floats.MulConstAdd(userFactor, -svd.reg, a)
	floats.MulConst(a, svd.lr)
	// b <- \gamma (e_{ui} p_u - \lambda q_i)
	floats.MulConstTo(userFactor, e, b)
	floats.MulConstAdd(itemFactor, -svd.reg, b)
	floats.MulConst(b, svd.lr)
	floats.Add(userFactor, a)
	floats.Add(itemFactor, b)
}

// CheckDimensions verifies that a loaded model matches the index space of a
// loaded dataset.
func (svd *SVD) CheckDimensions(set *dataset.Dataset) error {
	if len(svd.UserFactor) != set.CountUsers() || len(svd.ItemFactor) != set.CountItems() {
		return errors.NotValidf("model dimensions (%d users, %d items) against dataset dimensions (%d users, %d items)",
			len(svd.UserFactor), len(svd.ItemFactor), set.CountUsers(), set.CountItems())
	}
	return nil
}

// Clear model weights.
func (svd *SVD) Clear() {
	svd.UserDict = nil
	svd.ItemDict = nil
	svd.UserFactor = nil
	svd.ItemFactor = nil
	svd.UserBias = nil
	svd.ItemBias = nil
	svd.GlobalMean = 0
}

// Invalid reports whether the model holds no trained weights.
func (svd *SVD) Invalid() bool {
	return svd == nil ||
		svd.UserDict == nil ||
		svd.ItemDict == nil ||
		svd.UserFactor == nil ||
		svd.ItemFactor == nil
}

// Marshal model into byte stream.
func (svd *SVD) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, svd.Params); err != nil {
		return errors.Trace(err)
	}
	// write dimensions and global mean
	if err := binary.Write(w, binary.LittleEndian, int64(len(svd.UserFactor))); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(svd.ItemFactor))); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, svd.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	// write dictionaries
	if err := svd.UserDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	if err := svd.ItemDict.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	// write biases and factors
	if err := encoding.WriteVector(w, svd.UserBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteVector(w, svd.ItemBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, svd.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, svd.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Unmarshal model from byte stream. The decoded model reproduces the exact
// dimensions it was saved with.
func (svd *SVD) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &svd.Params); err != nil {
		return errors.Trace(err)
	}
	svd.SetParams(svd.Params)
	// read dimensions and global mean
	var numUsers, numItems int64
	if err := binary.Read(r, binary.LittleEndian, &numUsers); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &numItems); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &svd.GlobalMean); err != nil {
		return errors.Trace(err)
	}
	// read dictionaries
	svd.UserDict = dataset.NewDict()
	if err := svd.UserDict.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	svd.ItemDict = dataset.NewDict()
	if err := svd.ItemDict.Unmarshal(r); err != nil {
		return errors.Trace(err)
	}
	if int64(svd.UserDict.Count()) != numUsers || int64(svd.ItemDict.Count()) != numItems {
		return errors.NotValidf("dictionary sizes (%d users, %d items) against saved dimensions (%d users, %d items)",
			svd.UserDict.Count(), svd.ItemDict.Count(), numUsers, numItems)
	}
	// read biases and factors
	svd.UserBias = make([]float32, numUsers)
	svd.ItemBias = make([]float32, numItems)
	if err := encoding.ReadVector(r, svd.UserBias); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadVector(r, svd.ItemBias); err != nil {
		return errors.Trace(err)
	}
	svd.UserFactor = make([][]float32, numUsers)
	for i := range svd.UserFactor {
		svd.UserFactor[i] = make([]float32, svd.nFactors)
	}
	svd.ItemFactor = make([][]float32, numItems)
	for i := range svd.ItemFactor {
		svd.ItemFactor[i] = make([]float32, svd.nFactors)
	}
	if err := encoding.ReadMatrix(r, svd.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadMatrix(r, svd.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	return nil
}
