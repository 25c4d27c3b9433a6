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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"

	"github.com/geyser-io/geyser/common/parallel"
	"github.com/geyser-io/geyser/dataset"
)

// Recommendation is a ranked identifier with its predicted vote.
type Recommendation struct {
	Id    string
	Score float32
}

// TopItems returns the n articles with the highest predicted vote for a user.
// Articles the user has already voted in set are excluded. Ties are broken by
// the article's dense index, so the order is deterministic. Fewer than n
// recommendations are returned when fewer candidates remain.
func TopItems(ctx context.Context, m *SVD, set *dataset.Dataset, userId string, n, nWorkers int) ([]Recommendation, error) {
	if m.Invalid() {
		return nil, errors.NotValidf("model without trained weights")
	}
	if n <= 0 {
		return nil, errors.NotValidf("n = %d", n)
	}
	userIndex := m.UserDict.Id(userId)
	if userIndex == dataset.NotId {
		return nil, errors.NotFoundf("user %q", userId)
	}
	seen := mapset.NewThreadUnsafeSet[int32]()
	if set != nil {
		seen = seenBy(set.GetUserDict().Id(userId), set.GetUserFeedback())
	}
	scores := make([]float32, m.ItemDict.Count())
	if err := parallel.Parallel(ctx, len(scores), nWorkers, func(_, itemIndex int) error {
		scores[itemIndex] = m.internalPredict(userIndex, int32(itemIndex))
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return collect(m.ItemDict, scores, seen, n), nil
}

// TopUsers returns the n users with the highest predicted vote for an
// article, the audience an advertisement for it should target. Users who
// already voted the article in set are excluded. The same deterministic order
// rules as TopItems apply.
func TopUsers(ctx context.Context, m *SVD, set *dataset.Dataset, itemId string, n, nWorkers int) ([]Recommendation, error) {
	if m.Invalid() {
		return nil, errors.NotValidf("model without trained weights")
	}
	if n <= 0 {
		return nil, errors.NotValidf("n = %d", n)
	}
	itemIndex := m.ItemDict.Id(itemId)
	if itemIndex == dataset.NotId {
		return nil, errors.NotFoundf("article %q", itemId)
	}
	seen := mapset.NewThreadUnsafeSet[int32]()
	if set != nil {
		seen = seenBy(set.GetItemDict().Id(itemId), set.GetItemFeedback())
	}
	scores := make([]float32, m.UserDict.Count())
	if err := parallel.Parallel(ctx, len(scores), nWorkers, func(_, userIndex int) error {
		scores[userIndex] = m.internalPredict(int32(userIndex), itemIndex)
		return nil
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return collect(m.UserDict, scores, seen, n), nil
}

// seenBy returns the set of counterpart indices already voted at index, read
// from one side of the feedback lists.
func seenBy(index int32, feedback [][]int32) mapset.Set[int32] {
	seen := mapset.NewThreadUnsafeSet[int32]()
	if index == dataset.NotId || int(index) >= len(feedback) {
		return seen
	}
	seen.Append(feedback[index]...)
	return seen
}

// collect sorts the unseen candidates by score in descending order, breaking
// ties by ascending index, and resolves the top n back to external names.
func collect(dict *dataset.Dict, scores []float32, seen mapset.Set[int32], n int) []Recommendation {
	candidates := make([]int32, 0, len(scores))
	for i := range scores {
		if !seen.Contains(int32(i)) {
			candidates = append(candidates, int32(i))
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a < b
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	recommendations := make([]Recommendation, 0, len(candidates))
	for _, index := range candidates {
		id, _ := dict.String(index)
		recommendations = append(recommendations, Recommendation{Id: id, Score: scores[index]})
	}
	return recommendations
}
