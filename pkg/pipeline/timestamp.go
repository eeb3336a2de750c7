// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pipeline

import "time"

// Timestamp is a stream-relative presentation time.
type Timestamp time.Duration

// TimestampNone means no timestamp.
const TimestampNone Timestamp = -1

// IsValid returns true unless the timestamp is unset.
func (t Timestamp) IsValid() bool {
	return t >= 0
}

// Duration converts the timestamp. Only valid timestamps convert.
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t)
}

func (t Timestamp) String() string {
	if !t.IsValid() {
		return "none"
	}
	return time.Duration(t).String()
}
