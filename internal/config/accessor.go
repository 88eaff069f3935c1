package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// GetByPath returns the setting at a dotted JSON path such as
// "simulation.maxSpeakers". A path may stop at a section, in which case the
// whole section is returned. Optional settings that are empty still resolve.
func GetByPath(cfg *Config, path string) (any, error) {
	var out any
	err := walk(reflect.ValueOf(cfg).Elem(), splitPath(path), path, false, func(f reflect.Value) error {
		out = f.Interface()
		return nil
	})
	return out, err
}

// SetByPath parses text according to the type of the setting at path and
// stores it in cfg. Unknown paths are rejected rather than created, with one
// exception: a new entry under a map section such as generator.providers.
// On error cfg is left unchanged.
func SetByPath(cfg *Config, path, text string) error {
	return walk(reflect.ValueOf(cfg).Elem(), splitPath(path), path, true, func(f reflect.Value) error {
		return setText(f, path, text)
	})
}

func splitPath(path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// walk follows parts from v and hands the addressed value to leaf. Map
// entries are copies, so in set mode they are written back once leaf
// succeeds.
func walk(v reflect.Value, parts []string, path string, set bool, leaf func(reflect.Value) error) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if len(parts) == 0 {
		return leaf(v)
	}
	key := parts[0]
	switch v.Kind() {
	case reflect.Struct:
		f, ok := jsonField(v, key)
		if !ok {
			return fmt.Errorf("unknown setting: %s", path)
		}
		return walk(f, parts[1:], path, set, leaf)
	case reflect.Map:
		k := reflect.ValueOf(key).Convert(v.Type().Key())
		cur := v.MapIndex(k)
		if !cur.IsValid() && !set {
			return fmt.Errorf("unknown setting: %s", path)
		}
		elem := reflect.New(v.Type().Elem()).Elem()
		if cur.IsValid() {
			elem.Set(cur)
		}
		if err := walk(elem, parts[1:], path, set, leaf); err != nil {
			return err
		}
		if set {
			if v.IsNil() {
				v.Set(reflect.MakeMap(v.Type()))
			}
			v.SetMapIndex(k, elem)
		}
		return nil
	case reflect.Slice:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= v.Len() {
			return fmt.Errorf("invalid index %q in %s", key, path)
		}
		return walk(v.Index(idx), parts[1:], path, set, leaf)
	default:
		return fmt.Errorf("%s: cannot look up %q inside a value", path, key)
	}
}

// jsonField finds the struct field whose JSON name is name.
func jsonField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = sf.Name
		}
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setText converts text to the kind of f. String lists take a
// comma-separated value; an empty value clears them.
func setText(f reflect.Value, path, text string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(text)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("%s wants true or false, got %q", path, text)
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s wants a whole number, got %q", path, text)
		}
		f.SetInt(n)
	case reflect.Float32, reflect.Float64:
		x, err := strconv.ParseFloat(strings.TrimSpace(text), f.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s wants a number, got %q", path, text)
		}
		f.SetFloat(x)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%s cannot be set from text", path)
		}
		var items []string
		for _, it := range strings.Split(text, ",") {
			if it = strings.TrimSpace(it); it != "" {
				items = append(items, it)
			}
		}
		list := reflect.MakeSlice(f.Type(), len(items), len(items))
		for i, it := range items {
			list.Index(i).SetString(it)
		}
		f.Set(list)
	default:
		return fmt.Errorf("%s is a section; set one of its fields instead", path)
	}
	return nil
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg // Return original on marshal error
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for name, prov := range copy.Generator.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		copy.Generator.Providers[name] = prov
	}

	if copy.Channels.Telegram.Token != "" {
		copy.Channels.Telegram.Token = maskString(copy.Channels.Telegram.Token)
	}

	if copy.Store.RedisPassword != "" {
		copy.Store.RedisPassword = "***"
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
