// Package qs encodes nested parameter trees into the PHP-style bracket
// notation the Bitrix24 REST server expects, and decodes it back.
//
// {a: {b: 1, c: 2}} becomes a[b]=1&a[c]=2, {xs: [10, 20]} becomes
// xs[0]=10&xs[1]=20. Booleans map to "1"/"0", nil to the empty string.
package qs

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Encode flattens params into form values. Keys of nested maps are emitted
// as parent[child][...], slice elements by stringified index. A later value
// for the same flattened key overwrites the earlier one.
func Encode(params map[string]any) url.Values {
	values := url.Values{}
	for key, v := range params {
		encodeValue(values, key, v)
	}
	return values
}

// EncodeString is Encode rendered as a query string. url.Values sorts by
// flattened key, which keeps the output stable across calls.
func EncodeString(params map[string]any) string {
	return Encode(params).Encode()
}

func encodeValue(values url.Values, key string, v any) {
	switch val := v.(type) {
	case nil:
		values.Set(key, "")
	case string:
		values.Set(key, val)
	case bool:
		if val {
			values.Set(key, "1")
		} else {
			values.Set(key, "0")
		}
	case int:
		values.Set(key, strconv.Itoa(val))
	case int64:
		values.Set(key, strconv.FormatInt(val, 10))
	case float64:
		values.Set(key, formatFloat(val))
	case map[string]any:
		for k, child := range val {
			encodeValue(values, key+"["+k+"]", child)
		}
	case []any:
		for i, child := range val {
			encodeValue(values, key+"["+strconv.Itoa(i)+"]", child)
		}
	case []string:
		for i, child := range val {
			values.Set(key+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		encodeReflected(values, key, v)
	}
}

// encodeReflected handles less common shapes (typed maps, typed slices,
// numeric aliases) without enumerating every type.
func encodeReflected(values url.Values, key string, v any) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		for _, mk := range rv.MapKeys() {
			encodeValue(values, key+"["+fmt.Sprint(mk.Interface())+"]", rv.MapIndex(mk).Interface())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			encodeValue(values, key+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
		}
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			values.Set(key, "")
			return
		}
		encodeValue(values, key, rv.Elem().Interface())
	default:
		values.Set(key, fmt.Sprint(v))
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Decode is the inverse of Encode: it parses a bracket-notation query string
// back into a tree of maps, slices and strings. Scalars stay strings; the
// encoding is not self-describing enough to recover numbers or booleans.
func Decode(query string) (map[string]any, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	tree := map[string]any{}
	for key, vs := range values {
		path, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		insert(tree, path, vs[len(vs)-1])
	}
	return liftSlices(tree).(map[string]any), nil
}

// splitKey turns "a[b][0]" into ["a", "b", "0"].
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}, nil
	}
	path := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return nil, fmt.Errorf("unterminated bracket in key %q", key)
		}
		path = append(path, rest[1:close])
		rest = rest[close+1:]
	}
	return path, nil
}

func insert(node map[string]any, path []string, value string) {
	if len(path) == 1 {
		node[path[0]] = value
		return
	}
	child, ok := node[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		node[path[0]] = child
	}
	insert(child, path[1:], value)
}

// liftSlices converts maps whose keys are exactly 0..n-1 into []any, which
// restores arrays that the encoder flattened into index keys.
func liftSlices(v any) any {
	node, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range node {
		node[k] = liftSlices(child)
	}
	if len(node) == 0 {
		return node
	}
	indexes := make([]int, 0, len(node))
	for k := range node {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return node
		}
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for want, got := range indexes {
		if want != got {
			return node
		}
	}
	out := make([]any, len(indexes))
	for i := range out {
		out[i] = node[strconv.Itoa(i)]
	}
	return out
}
