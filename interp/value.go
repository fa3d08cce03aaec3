package interp

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/Shopify/go-lua"
)

const maxValueDepth = 32

// toValue converts the value at idx to a Go value. Integral numbers become
// int64, sequences become []any and other tables map[string]any. Functions
// and userdata convert to nil.
func toValue(l *lua.State, idx, depth int) any {
	idx = l.AbsIndex(idx)
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		if depth >= maxValueDepth {
			return nil
		}
		return tableValue(l, idx, depth+1)
	default:
		return nil
	}
}

func tableValue(l *lua.State, idx, depth int) any {
	n := l.RawLength(idx)
	fields := make(map[string]any)
	count := 0

	l.PushNil()
	for l.Next(idx) {
		count++
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			key, _ = l.ToString(-2)
		case lua.TypeNumber:
			k, _ := l.ToNumber(-2)
			key = strconv.FormatFloat(k, 'f', -1, 64)
		default:
			l.Pop(1)
			continue
		}
		fields[key] = toValue(l, -1, depth)
		l.Pop(1)
	}

	if count == 0 || count == n {
		list := make([]any, n)
		for i := 1; i <= n; i++ {
			list[i-1] = fields[strconv.Itoa(i)]
		}
		return list
	}
	return fields
}

// pushValue pushes a Go value. Unsupported types are pushed as their
// string form.
func pushValue(l *lua.State, v any, depth int) {
	if depth > maxValueDepth {
		l.PushNil()
		return
	}
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case string:
		l.PushString(x)
	case []byte:
		l.PushString(string(x))
	case int:
		l.PushInteger(x)
	case int64:
		l.PushNumber(float64(x))
	case int32:
		l.PushInteger(int(x))
	case uint64:
		l.PushNumber(float64(x))
	case uint32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case float32:
		l.PushNumber(float64(x))
	case []any:
		l.CreateTable(len(x), 0)
		for i, item := range x {
			pushValue(l, item, depth+1)
			l.RawSetInt(-2, i+1)
		}
	case []string:
		l.CreateTable(len(x), 0)
		for i, item := range x {
			l.PushString(item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.CreateTable(0, len(x))
		for _, k := range keys {
			pushValue(l, x[k], depth+1)
			l.SetField(-2, k)
		}
	case map[string]string:
		l.CreateTable(0, len(x))
		for k, s := range x {
			l.PushString(s)
			l.SetField(-2, k)
		}
	case error:
		l.PushString(x.Error())
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			l.PushNumber(float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			l.PushNumber(float64(rv.Uint()))
		default:
			l.PushString(fmt.Sprint(v))
		}
	}
}
