// Package configstruct binds a map[string]string configuration
// envelope onto a backend's Options struct via "config" struct tags,
// mirroring the teacher's fs/config/configstruct + fs/config/configmap
// pair used throughout every backend (see e.g. backend/discord's
// Options struct with `config:"auth_token"` tags).
package configstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Set walks dst (a pointer to a struct) and fills each field tagged
// `config:"key"` from raw[key], applying Defaults supplied via the
// "default" tag when raw omits the key. Supported field kinds: string,
// bool, int, int64, float64, and named types whose underlying kind is
// one of those (e.g. a `type Duration int64`).
func Set(raw map[string]string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("configstruct: Set requires a pointer to a struct")
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("config")
		if tag == "" || tag == "-" {
			continue
		}
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		raw, present := raw[tag]
		if !present {
			if def, ok := field.Tag.Lookup("default"); ok {
				raw, present = def, true
			}
		}
		if !present {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("configstruct: field %s (config %q): %w", field.Name, tag, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element kind %s", fv.Type().Elem().Kind())
		}
		parts := splitCSV(raw)
		out := reflect.MakeSlice(fv.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(p)
		}
		fv.Set(out)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
