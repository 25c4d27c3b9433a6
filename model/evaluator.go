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
	"github.com/chewxy/math32"

	"github.com/geyser-io/geyser/dataset"
)

// MSE computes the mean squared error of predictions over the observations of
// a set. An empty set scores zero.
func MSE(m *SVD, set *dataset.Dataset) float32 {
	if set.Count() == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < set.Count(); i++ {
		userIndex, itemIndex, rating := set.Get(i)
		e := rating - m.internalPredict(userIndex, itemIndex)
		sum += e * e
	}
	return sum / float32(set.Count())
}

// RMSE computes the root mean squared error of predictions over the
// observations of a set.
func RMSE(m *SVD, set *dataset.Dataset) float32 {
	return math32.Sqrt(MSE(m, set))
}
