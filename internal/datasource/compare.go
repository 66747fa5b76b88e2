package datasource

import (
	"reflect"
	"strings"
	"time"

	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// toFloat reports the numeric value of v for integer and float kinds.
// Booleans are not numbers here.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// valuesEqual compares a cell with a filter value. Numbers compare by value
// across int/float types; other comparable values use ==.
func valuesEqual(cell, want any) bool {
	if isNil(cell) || isNil(want) {
		return isNil(cell) && isNil(want)
	}
	if a, ok := toFloat(cell); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
		return false
	}
	if at, ok := cell.(time.Time); ok {
		if bt, ok := want.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	ct, wt := reflect.TypeOf(cell), reflect.TypeOf(want)
	if ct == wt && ct.Comparable() {
		return cell == want
	}
	return false
}

// compareOrdered returns -1, 0 or 1 for two non-nil values of an orderable
// kind. ok is false when the values cannot be ordered against each other.
func compareOrdered(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmp3(fa < fb, fa > fb), true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return cmp3(ta.Before(tb), ta.After(tb)), true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

// compareSortKeys orders two cells for sorting, ignoring direction. nil
// handling is done by the caller. Numbers order before text; text compares
// as normalized lower-case.
func compareSortKeys(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return cmp3(fa < fb, fa > fb)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(textnorm.FoldValue(a, false, true), textnorm.FoldValue(b, false, true))
}

// sliceValues expands a membership filter value into its elements.
func sliceValues(v any) []any {
	if isNil(v) {
		return nil
	}
	if vals, ok := v.([]any); ok {
		return vals
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
