// Copyright The agentcg Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ephemeral

import (
	"strconv"
	"strings"
)

// HintClass is the caller-declared memory class for one operation.
type HintClass int

const (
	// HintNone means no usable hint was declared; the operation runs
	// unconstrained.
	HintNone HintClass = iota
	// HintLow maps to a 256 MiB soft ceiling.
	HintLow
	// HintMedium maps to a 1 GiB soft ceiling.
	HintMedium
	// HintHigh runs unconstrained.
	HintHigh
	// HintExplicit carries an explicit byte amount.
	HintExplicit
)

const (
	lowCeiling    = int64(256) << 20
	mediumCeiling = int64(1) << 30
)

// Hint is a parsed resource hint. The zero value means unconstrained.
type Hint struct {
	// Declared is the hint string as the caller passed it, recorded
	// verbatim in the usage log.
	Declared string
	// Class is the resolved hint class.
	Class HintClass
	// Bytes is the explicit byte amount for HintExplicit.
	Bytes int64
}

// ParseHint resolves a declared-intent string of the form memory:low,
// memory:medium, memory:high, memory:<N>g or memory:<N>m. Absent or
// unrecognized hints resolve to unconstrained rather than failing; a
// bad hint must never block the operation it describes.
func ParseHint(declared string) Hint {
	h := Hint{Declared: declared}

	class, ok := strings.CutPrefix(declared, "memory:")
	if !ok {
		return h
	}

	switch class {
	case "low":
		h.Class = HintLow
	case "medium":
		h.Class = HintMedium
	case "high":
		h.Class = HintHigh
	default:
		unit := int64(0)
		switch {
		case strings.HasSuffix(class, "g"):
			unit = 1 << 30
		case strings.HasSuffix(class, "m"):
			unit = 1 << 20
		default:
			return h
		}
		n, err := strconv.ParseInt(class[:len(class)-1], 10, 64)
		if err != nil || n <= 0 {
			return h
		}
		h.Class = HintExplicit
		h.Bytes = n * unit
	}
	return h
}

// Ceiling returns the soft ceiling in bytes and whether one applies.
func (h Hint) Ceiling() (int64, bool) {
	switch h.Class {
	case HintLow:
		return lowCeiling, true
	case HintMedium:
		return mediumCeiling, true
	case HintExplicit:
		return h.Bytes, true
	}
	return 0, false
}
