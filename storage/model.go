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

package storage

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/juju/errors"

	"github.com/geyser-io/geyser/model"
)

// SaveModel writes a trained model to a file. The model is written to a
// temporary file first and renamed, so a crash cannot leave a truncated
// model behind.
func SaveModel(path string, m *model.SVD) error {
	if m.Invalid() {
		return errors.NotValidf("model without trained weights")
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".geyser-model-*")
	if err != nil {
		return errors.Trace(err)
	}
	w := bufio.NewWriter(temp)
	if err = m.Marshal(w); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return errors.Trace(err)
	}
	if err = w.Flush(); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return errors.Trace(err)
	}
	if err = temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(temp.Name(), path))
}

// LoadModel reads a trained model from a file.
func LoadModel(path string) (*model.SVD, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("model file %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	m := new(model.SVD)
	if err = m.Unmarshal(bufio.NewReader(f)); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}
