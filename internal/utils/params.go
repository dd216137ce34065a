package utils

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseParam splits a key=value flag. The value is decoded as a YAML
// scalar or flow collection so "3" becomes an int, "true" a bool and
// "[a, b]" a list; anything that does not decode stays a string.
func ParseParam(raw string) (string, interface{}, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("invalid parameter %q, expected key=value", raw)
	}

	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", nil, fmt.Errorf("parameter key cannot be empty")
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return key, "", nil
	}

	var decoded interface{}
	if err := yaml.Unmarshal([]byte(value), &decoded); err != nil || decoded == nil {
		return key, value, nil
	}
	if _, isMap := decoded.(map[string]interface{}); isMap {
		// "a: b" is almost always meant literally
		return key, value, nil
	}
	return key, decoded, nil
}

// ParseParams parses repeated key=value flags; later keys win
func ParseParams(raw []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(raw))
	for _, r := range raw {
		k, v, err := ParseParam(r)
		if err != nil {
			return nil, err
		}
		params[k] = v
	}
	return params, nil
}
