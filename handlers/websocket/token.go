package websocket

import (
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"tomoboard-server/middleware"
)

// tokenFromHandshake looks for a bearer token in the handshake auth object, then the
// "token" query parameter, then the Authorization header.
func tokenFromHandshake(authData, query, headers any) string {
	for _, source := range []any{authData, query} {
		if token := lookup(source, "token"); token != "" {
			return token
		}
	}

	if token, ok := middleware.BearerToken(lookup(headers, "Authorization")); ok {
		return token
	}
	return ""
}

// lookup reads key case-insensitively from the map shapes a handshake may carry.
func lookup(values any, key string) string {
	switch v := values.(type) {
	case url.Values:
		return firstFold(v, key)
	case http.Header:
		return firstFold(v, key)
	case map[string][]string:
		return firstFold(v, key)
	case map[string]string:
		for k, s := range v {
			if strings.EqualFold(k, key) {
				return s
			}
		}
	case nil:
		return ""
	}

	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return ""
	}
	iter := rv.MapRange()
	for iter.Next() {
		if !strings.EqualFold(iter.Key().String(), key) {
			continue
		}
		return firstString(iter.Value())
	}
	return ""
}

func firstString(v reflect.Value) string {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		if v.Len() > 0 {
			return firstString(v.Index(0))
		}
	}
	return ""
}

func firstFold(values map[string][]string, key string) string {
	for k, vs := range values {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
