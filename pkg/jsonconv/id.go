// SPDX-License-Identifier: Apache-2.0

package jsonconv

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// idColumnNames are tried, case-insensitively, in order, before falling
// back to a monotonic row counter.
var idColumnNames = []string{"id", "_id", "rowid"}

// rowCounters hands out a monotonically increasing row number per table
// tag (see NextRowNumber). No adapter or pipeline in this repository
// attaches a synthetic row-number column, so every row without a natural
// id column takes its id from the single "__unscoped__" counter shared by
// all tables in the process: such ids are unique within the process but
// are not numbered per table and differ from one run to the next.
var (
	rowCountersMu sync.Mutex
	rowCounters   = map[string]*uint64{}
)

// tableTagKey is the pseudo-column deriveID reads a synthetic row number
// from, when a row carries one.
const tableTagKey = "__seren_row_number"

// NextRowNumber returns the next 1-based row number for tableTag,
// allocating a counter on first use.
func NextRowNumber(tableTag string) uint64 {
	rowCountersMu.Lock()
	counter, ok := rowCounters[tableTag]
	if !ok {
		counter = new(uint64)
		rowCounters[tableTag] = counter
	}
	rowCountersMu.Unlock()
	return atomic.AddUint64(counter, 1)
}

func deriveID(row SourceRow) string {
	for _, want := range idColumnNames {
		for i, col := range row.Columns {
			if strings.EqualFold(col, want) {
				if id := stringifyID(row.Values[i]); id != "" {
					return id
				}
			}
		}
	}

	// Synthetic row-number column, when the row carries one.
	for i, col := range row.Columns {
		if col == tableTagKey {
			return stringifyID(row.Values[i])
		}
	}

	// Otherwise: the process-wide fallback counter shared by all tables.
	return strconv.FormatUint(NextRowNumber("__unscoped__"), 10)
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case primitive.ObjectID:
		return t.Hex()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32, float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
