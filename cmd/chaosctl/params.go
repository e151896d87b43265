package main

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// parseParams turns key=value pairs into the nested map chaos.Decode
// expects. Dotted keys nest: partition.service_name=fabric:/app/svc. A JSON
// object in raw, if any, is the base that the pairs override.
func parseParams(raw string, pairs []string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, errors.Wrap(err, "invalid --params JSON")
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Newf("parameter %q is not key=value", pair)
		}

		path := strings.Split(key, ".")
		m := params
		for _, part := range path[:len(path)-1] {
			next, ok := m[part].(map[string]interface{})
			if !ok {
				if _, exists := m[part]; exists {
					return nil, errors.Newf("parameter %q conflicts with scalar %q", key, part)
				}
				next = make(map[string]interface{})
				m[part] = next
			}
			m = next
		}
		m[path[len(path)-1]] = value
	}
	return params, nil
}
