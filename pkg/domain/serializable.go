package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// NotSerializableError reports a bound value that cannot cross a suspend point.
type NotSerializableError struct {
	Path string
	Type string
}

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("variable %s holds a non-serializable %s", e.Path, e.Type)
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	numberType = reflect.TypeOf(json.Number(""))
)

// CheckSerializable verifies that v is plain data: nil, booleans, strings,
// numbers, json.Number, time.Time, and slices or string-keyed maps of those.
// Anything else (functions, channels, pointers, structs) is rejected.
func CheckSerializable(path string, v any) error {
	if v == nil {
		return nil
	}
	return checkValue(path, reflect.ValueOf(v))
}

// CheckScope runs CheckSerializable over every entry of vars, in name order.
func CheckScope(prefix string, vars map[string]any) error {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := CheckSerializable(prefix+k, vars[k]); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(path string, v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	t := v.Type()
	if t == timeType || t == numberType {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkValue(path, v.Elem())
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return &NotSerializableError{Path: path, Type: t.String()}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkValue(path+"."+iter.Key().String(), iter.Value()); err != nil {
				return err
			}
		}
		return nil
	default:
		return &NotSerializableError{Path: path, Type: t.String()}
	}
}
