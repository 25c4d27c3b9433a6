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
	"testing"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"github.com/geyser-io/geyser/dataset"
)

func newRankingModel(t *testing.T, trainSet *dataset.Dataset) *SVD {
	m := NewSVD(Params{NFactors: 4, NEpochs: 50, RandomState: 42})
	_, err := m.Fit(context.Background(), trainSet, NewFitConfig())
	assert.NoError(t, err)
	return m
}

func TestTopItems(t *testing.T) {
	trainSet := newTrainSet()
	trainSet.AddVote("bob", "scp-999", 1)
	trainSet.AddVote("carol", "scp-999", -1)
	m := newRankingModel(t, trainSet)
	// alice voted everything except scp-999
	recommendations, err := TopItems(context.Background(), m, trainSet, "alice", 10, 1)
	assert.NoError(t, err)
	assert.Equal(t, []string{"scp-999"}, lo.Map(recommendations, func(r Recommendation, _ int) string { return r.Id }))
}

func TestTopItems_Order(t *testing.T) {
	trainSet := newTrainSet()
	m := newRankingModel(t, trainSet)
	// rank against an empty exclusion set to see all articles
	recommendations, err := TopItems(context.Background(), m, dataset.NewDataset(), "alice", 2, 1)
	assert.NoError(t, err)
	assert.Len(t, recommendations, 2)
	assert.GreaterOrEqual(t, recommendations[0].Score, recommendations[1].Score)
	// n larger than the candidate count returns all of them
	recommendations, err = TopItems(context.Background(), m, dataset.NewDataset(), "alice", 100, 1)
	assert.NoError(t, err)
	assert.Len(t, recommendations, trainSet.CountItems())
}

func TestTopItems_Deterministic(t *testing.T) {
	trainSet := newTrainSet()
	m := newRankingModel(t, trainSet)
	sequential, err := TopItems(context.Background(), m, dataset.NewDataset(), "bob", 3, 1)
	assert.NoError(t, err)
	parallelized, err := TopItems(context.Background(), m, dataset.NewDataset(), "bob", 3, 4)
	assert.NoError(t, err)
	assert.Equal(t, sequential, parallelized)
}

func TestTopItems_Errors(t *testing.T) {
	trainSet := newTrainSet()
	m := newRankingModel(t, trainSet)
	_, err := TopItems(context.Background(), m, trainSet, "nobody", 10, 1)
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = TopItems(context.Background(), m, trainSet, "alice", 0, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = TopItems(context.Background(), new(SVD), trainSet, "alice", 10, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestTopUsers(t *testing.T) {
	trainSet := newTrainSet()
	trainSet.AddVote("dave", "scp-173", 1)
	m := newRankingModel(t, trainSet)
	// everyone voted scp-682 except bob and dave
	recommendations, err := TopUsers(context.Background(), m, trainSet, "scp-682", 10, 1)
	assert.NoError(t, err)
	names := lo.Map(recommendations, func(r Recommendation, _ int) string { return r.Id })
	assert.ElementsMatch(t, []string{"bob", "dave"}, names)
	_, err = TopUsers(context.Background(), m, trainSet, "scp-000", 10, 1)
	assert.True(t, errors.Is(err, errors.NotFound))
}
