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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_GetInt(t *testing.T) {
	p := Params{}
	// Empty case
	assert.Equal(t, 10, p.GetInt(NEpochs, 10))
	// Normal case
	p[NEpochs] = 0
	assert.Equal(t, 0, p.GetInt(NEpochs, 10))
	// Wrong type case
	p[NEpochs] = "hello"
	assert.Equal(t, 10, p.GetInt(NEpochs, 10))
}

func TestParams_GetInt64(t *testing.T) {
	p := Params{}
	assert.Equal(t, int64(10), p.GetInt64(RandomState, 10))
	p[RandomState] = int64(0)
	assert.Equal(t, int64(0), p.GetInt64(RandomState, 10))
	// Int is converted
	p[RandomState] = 42
	assert.Equal(t, int64(42), p.GetInt64(RandomState, 10))
}

func TestParams_GetFloat32(t *testing.T) {
	p := Params{}
	assert.Equal(t, float32(0.1), p.GetFloat32(Lr, 0.1))
	p[Lr] = float32(1)
	assert.Equal(t, float32(1), p.GetFloat32(Lr, 0.1))
	// Float64 and int are converted
	p[Lr] = 0.004
	assert.Equal(t, float32(0.004), p.GetFloat32(Lr, 0.1))
	p[Lr] = 2
	assert.Equal(t, float32(2), p.GetFloat32(Lr, 0.1))
}

func TestParams_Copy(t *testing.T) {
	p := Params{NFactors: 10}
	q := p.Copy()
	q[NFactors] = 20
	assert.Equal(t, 10, p.GetInt(NFactors, 0))
	assert.Equal(t, 20, q.GetInt(NFactors, 0))
}

func TestParams_Overwrite(t *testing.T) {
	a := Params{NFactors: 10, NEpochs: 100}
	b := Params{NFactors: 20, Lr: 0.01}
	merged := a.Overwrite(b)
	assert.Equal(t, 20, merged.GetInt(NFactors, 0))
	assert.Equal(t, 100, merged.GetInt(NEpochs, 0))
	assert.Equal(t, float32(0.01), merged.GetFloat32(Lr, 0))
}
