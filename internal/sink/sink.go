// Package sink holds the durable destinations that drained batches are written to. Every
// implementation treats a Write call as a unit: either all rows become durable or the call
// returns an error and the caller must assume none did.
package sink

import (
	"context"
	"fmt"
	"sort"
)

// Row is one output record. A nil value is an explicit missing field.
type Row map[string]any

// Sink appends rows to a destination, partitioned by the value of partitionColumn.
type Sink interface {
	Write(ctx context.Context, destination string, rows []Row, partitionColumn string) error
	Close() error
}

// Partition groups rows by the string value of column, preserving the relative order of rows
// inside each group. Groups are returned in order of first appearance.
func Partition(rows []Row, column string) ([]string, map[string][]Row, error) {
	var order []string
	groups := make(map[string][]Row)
	for i, r := range rows {
		v, ok := r[column]
		if !ok || v == nil {
			return nil, nil, fmt.Errorf("row %d has no value for partition column %q", i, column)
		}
		key := fmt.Sprint(v)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	return order, groups, nil
}

// Columns returns the sorted union of column names across rows.
func Columns(rows []Row) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
