// SPDX-License-Identifier: Apache-2.0

package domain

import "math"

// Version is the per-record commit counter. It starts at 0 and grows by
// exactly one on every committed mutation.
type Version int64

// Next returns v+1, refusing to wrap.
func (v Version) Next() (Version, error) {
	if v < 0 || v == math.MaxInt64 {
		return v, ErrVersionOverflow
	}
	return v + 1, nil
}
