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

// Package dataset holds sparse vote observations and the dictionaries that
// map external user names and article names to dense indices.
package dataset

import (
	"github.com/juju/errors"

	"github.com/geyser-io/geyser/common/floats"
)

// Dataset is the sparse store of (user, article, vote) observations used to
// train and rank. Observations keep their first-insertion order, so iterating
// the dataset multiple times yields the same stable sequence. A repeated vote
// by the same user on the same article overwrites the stored rating in place
// (last write wins).
type Dataset struct {
	userDict     *Dict
	itemDict     *Dict
	userIndices  []int32
	itemIndices  []int32
	ratings      []float32
	positions    map[[2]int32]int
	userFeedback [][]int32
	itemFeedback [][]int32
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		userDict:  NewDict(),
		itemDict:  NewDict(),
		positions: make(map[[2]int32]int),
	}
}

// AddVote adds an observation. Dense indices for the user and the article are
// assigned lazily on their first occurrence.
func (d *Dataset) AddVote(userId, itemId string, rating float32) {
	userIndex := d.userDict.Add(userId)
	itemIndex := d.itemDict.Add(itemId)
	for int(userIndex) >= len(d.userFeedback) {
		d.userFeedback = append(d.userFeedback, nil)
	}
	for int(itemIndex) >= len(d.itemFeedback) {
		d.itemFeedback = append(d.itemFeedback, nil)
	}
	if pos, exist := d.positions[[2]int32{userIndex, itemIndex}]; exist {
		d.ratings[pos] = rating
		return
	}
	d.positions[[2]int32{userIndex, itemIndex}] = len(d.ratings)
	d.userIndices = append(d.userIndices, userIndex)
	d.itemIndices = append(d.itemIndices, itemIndex)
	d.ratings = append(d.ratings, rating)
	d.userFeedback[userIndex] = append(d.userFeedback[userIndex], itemIndex)
	d.itemFeedback[itemIndex] = append(d.itemFeedback[itemIndex], userIndex)
}

// Count returns the number of observations.
func (d *Dataset) Count() int {
	return len(d.ratings)
}

// CountUsers returns the number of distinct users.
func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

// CountItems returns the number of distinct articles.
func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

// Get returns the i-th observation.
func (d *Dataset) Get(i int) (userIndex, itemIndex int32, rating float32) {
	return d.userIndices[i], d.itemIndices[i], d.ratings[i]
}

// GetUserDict returns the user dictionary.
func (d *Dataset) GetUserDict() *Dict {
	return d.userDict
}

// GetItemDict returns the article dictionary.
func (d *Dataset) GetItemDict() *Dict {
	return d.itemDict
}

// GetUserFeedback returns the article indices voted by each user.
func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

// GetItemFeedback returns the user indices that voted each article.
func (d *Dataset) GetItemFeedback() [][]int32 {
	return d.itemFeedback
}

// UserId returns the external user name for a dense index.
func (d *Dataset) UserId(userIndex int32) (string, error) {
	if s, ok := d.userDict.String(userIndex); ok {
		return s, nil
	}
	return "", errors.NotFoundf("user index %d", userIndex)
}

// ItemId returns the external article name for a dense index.
func (d *Dataset) ItemId(itemIndex int32) (string, error) {
	if s, ok := d.itemDict.String(itemIndex); ok {
		return s, nil
	}
	return "", errors.NotFoundf("item index %d", itemIndex)
}

// Mean returns the mean rating over all observations.
func (d *Dataset) Mean() float32 {
	return floats.Mean(d.ratings)
}
