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

package dataset

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"

	"github.com/geyser-io/geyser/base/encoding"
)

// NotId is the dense index of an unknown external identifier.
const NotId = int32(-1)

// Dict maps external string identifiers to dense zero-based indices. Indices
// are assigned on first observation and never change for the lifetime of the
// dictionary.
type Dict struct {
	si map[string]int32
	is []string
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{si: make(map[string]int32)}
}

// Count returns the number of distinct identifiers.
func (d *Dict) Count() int {
	return len(d.is)
}

// Add returns the dense index of s, assigning the next free index if s has
// not been seen before.
func (d *Dict) Add(s string) int32 {
	if id, ok := d.si[s]; ok {
		return id
	}
	id := int32(len(d.is))
	d.si[s] = id
	d.is = append(d.is, s)
	return id
}

// Id returns the dense index of s, or NotId if s is unknown.
func (d *Dict) Id(s string) int32 {
	if id, ok := d.si[s]; ok {
		return id
	}
	return NotId
}

// String returns the external identifier for a dense index.
func (d *Dict) String(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

// Marshal dictionary into byte stream. Identifiers are written in index order
// so the decoded dictionary assigns the same indices.
func (d *Dict) Marshal(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(d.is))); err != nil {
		return errors.Trace(err)
	}
	for _, s := range d.is {
		if err := encoding.WriteString(w, s); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal dictionary from byte stream.
func (d *Dict) Unmarshal(r io.Reader) error {
	var count int64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return errors.Trace(err)
	}
	for i := int64(0); i < count; i++ {
		s, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		d.Add(s)
	}
	return nil
}
