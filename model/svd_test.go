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
	"bytes"
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/geyser-io/geyser/common/floats"
	"github.com/geyser-io/geyser/dataset"
)

// newTrainSet returns votes where alice and bob agree and carol disagrees, so
// biases alone cannot fit the data.
func newTrainSet() *dataset.Dataset {
	d := dataset.NewDataset()
	d.AddVote("alice", "scp-173", 1)
	d.AddVote("alice", "scp-682", 1)
	d.AddVote("alice", "scp-914", -1)
	d.AddVote("bob", "scp-173", 1)
	d.AddVote("bob", "scp-914", -1)
	d.AddVote("carol", "scp-173", -1)
	d.AddVote("carol", "scp-682", -1)
	d.AddVote("carol", "scp-914", 1)
	return d
}

func TestSVD_Predict(t *testing.T) {
	trainSet := dataset.NewDataset()
	trainSet.AddVote("alice", "scp-173", 1)
	trainSet.AddVote("bob", "scp-682", -1)
	m := NewSVD(Params{NFactors: 2})
	m.Init(trainSet)
	m.GlobalMean = 0.5
	m.UserBias = []float32{0.1, 0}
	m.ItemBias = []float32{0.2, 0}
	m.UserFactor = [][]float32{{1, 2}, {0, 0}}
	m.ItemFactor = [][]float32{{3, 4}, {0, 0}}
	// mu + b_u + b_i + q_i^T p_u
	assert.InDelta(t, 0.5+0.1+0.2+1*3+2*4, m.Predict("alice", "scp-173"), 1e-6)
	// unknown article falls back to mu + b_u
	assert.InDelta(t, 0.5+0.1, m.Predict("alice", "scp-999"), 1e-6)
	// unknown user falls back to mu + b_i
	assert.InDelta(t, 0.5+0.2, m.Predict("dave", "scp-173"), 1e-6)
	// both unknown falls back to mu
	assert.InDelta(t, 0.5, m.Predict("dave", "scp-999"), 1e-6)
}

func TestSVD_GradientStep(t *testing.T) {
	trainSet := newTrainSet()
	m := NewSVD(Params{NFactors: 2, RandomState: 42})
	m.Init(trainSet)
	userIndex, itemIndex, rating := trainSet.Get(0)
	// biases start at zero, so the fresh prediction is mu + q_i^T p_u
	assert.InDelta(t, m.GlobalMean+floats.Dot(m.UserFactor[userIndex], m.ItemFactor[itemIndex]),
		m.internalPredict(userIndex, itemIndex), 1e-6)
	before := rating - m.internalPredict(userIndex, itemIndex)
	a := make([]float32, 2)
	b := make([]float32, 2)
	m.gradientStep(userIndex, itemIndex, rating, a, b)
	after := rating - m.internalPredict(userIndex, itemIndex)
	assert.Less(t, after*after, before*before)
}

func TestSVD_Fit(t *testing.T) {
	trainSet := newTrainSet()
	m := NewSVD(Params{
		NFactors:    4,
		NEpochs:     100,
		Lr:          0.01,
		Reg:         0.01,
		RandomState: 42,
	})
	score, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.False(t, m.Invalid())
	assert.Less(t, score.RMSE, RMSE(NewSVD(m.GetParams()).mustInit(trainSet), trainSet))
	// votes are recovered with the right sign
	assert.Positive(t, m.Predict("alice", "scp-173"))
	assert.Negative(t, m.Predict("alice", "scp-914"))
	assert.Negative(t, m.Predict("carol", "scp-682"))
}

// mustInit initializes weights without training, for baseline comparisons.
func (svd *SVD) mustInit(trainSet *dataset.Dataset) *SVD {
	svd.Init(trainSet)
	return svd
}

func TestSVD_FitReducesError(t *testing.T) {
	params := Params{
		NFactors:    2,
		Lr:          0.01,
		Reg:         0.01,
		RandomState: 42,
	}
	trainSet := dataset.NewDataset()
	trainSet.AddVote("A", "X", 1)
	trainSet.AddVote("A", "Y", -1)
	trainSet.AddVote("B", "Y", 1)
	trainSet.AddVote("B", "Z", -1)

	one := NewSVD(params.Overwrite(Params{NEpochs: 1}))
	_, err := one.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	fifty := NewSVD(params.Overwrite(Params{NEpochs: 50}))
	_, err = fifty.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.Less(t, MSE(fifty, trainSet), MSE(one, trainSet))
}

func TestSVD_SingleObservation(t *testing.T) {
	trainSet := dataset.NewDataset()
	trainSet.AddVote("alice", "scp-173", 1)
	m := NewSVD(Params{NFactors: 2, NEpochs: 200, RandomState: 42})
	_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.InDelta(t, 1, m.Predict("alice", "scp-173"), 0.05)
}

func TestSVD_Reproducible(t *testing.T) {
	trainSet := newTrainSet()
	params := Params{NFactors: 4, NEpochs: 20, RandomState: 42}
	a := NewSVD(params)
	scoreA, err := a.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	b := NewSVD(params)
	scoreB, err := b.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	// identical parameters bit for bit
	assert.Equal(t, scoreA, scoreB)
	assert.Equal(t, a.UserFactor, b.UserFactor)
	assert.Equal(t, a.ItemFactor, b.ItemFactor)
	assert.Equal(t, a.UserBias, b.UserBias)
	assert.Equal(t, a.ItemBias, b.ItemBias)
	// another seed initializes different factors
	c := NewSVD(params.Overwrite(Params{RandomState: int64(43)}))
	_, err = c.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.NotEqual(t, a.UserFactor, c.UserFactor)
}

func TestSVD_InvalidHyperParams(t *testing.T) {
	trainSet := newTrainSet()
	for _, params := range []Params{
		{NFactors: 0},
		{NFactors: -1},
		{NEpochs: -1},
		{Lr: float32(-0.1)},
		{Reg: float32(-0.1)},
	} {
		m := NewSVD(params)
		_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
		assert.True(t, errors.Is(err, errors.NotValid), "params %v", params)
	}
	// empty train set
	m := NewSVD(nil)
	_, err := m.Fit(context.Background(), dataset.NewDataset(), NewFitConfig())
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSVD_FitCancelled(t *testing.T) {
	trainSet := newTrainSet()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewSVD(Params{NEpochs: 100})
	_, err := m.Fit(ctx, trainSet, NewFitConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSVD_Marshal(t *testing.T) {
	trainSet := newTrainSet()
	m := NewSVD(Params{NFactors: 4, NEpochs: 10, RandomState: 42})
	_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	// marshal
	buf := bytes.NewBuffer(nil)
	assert.NoError(t, m.Marshal(buf))
	// unmarshal
	decoded := new(SVD)
	assert.NoError(t, decoded.Unmarshal(buf))
	assert.False(t, decoded.Invalid())
	assert.Equal(t, m.GlobalMean, decoded.GlobalMean)
	assert.Equal(t, m.UserFactor, decoded.UserFactor)
	assert.Equal(t, m.ItemFactor, decoded.ItemFactor)
	assert.Equal(t, m.UserBias, decoded.UserBias)
	assert.Equal(t, m.ItemBias, decoded.ItemBias)
	assert.Equal(t, m.Predict("alice", "scp-173"), decoded.Predict("alice", "scp-173"))
	assert.NoError(t, decoded.CheckDimensions(trainSet))
}

func TestSVD_CheckDimensions(t *testing.T) {
	trainSet := newTrainSet()
	m := NewSVD(Params{NFactors: 2, NEpochs: 1})
	_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.NoError(t, m.CheckDimensions(trainSet))
	grown := newTrainSet()
	grown.AddVote("dave", "scp-999", 1)
	err = m.CheckDimensions(grown)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSVD_Clear(t *testing.T) {
	trainSet := newTrainSet()
	m := NewSVD(Params{NFactors: 2, NEpochs: 1})
	_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	assert.False(t, m.Invalid())
	m.Clear()
	assert.True(t, m.Invalid())
}
