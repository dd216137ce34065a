package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParam(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		key     string
		want    interface{}
		wantErr bool
	}{
		{name: "string", raw: "operation=lifecycle.start", key: "operation", want: "lifecycle.start"},
		{name: "int", raw: "retries=3", key: "retries", want: 3},
		{name: "bool", raw: "run_by_dependency_order=true", key: "run_by_dependency_order", want: true},
		{name: "list", raw: "node_ids=[web, db]", key: "node_ids", want: []interface{}{"web", "db"}},
		{name: "spaces trimmed", raw: "  env  =  production  ", key: "env", want: "production"},
		{name: "empty value", raw: "note=", key: "note", want: ""},
		{name: "value with equals", raw: "filter=a=b", key: "filter", want: "a=b"},
		{name: "colon kept literal", raw: "msg=a: b", key: "msg", want: "a: b"},
		{name: "unbalanced stays string", raw: "x=[oops", key: "x", want: "[oops"},
		{name: "missing equals", raw: "backup", wantErr: true},
		{name: "empty key", raw: "=value", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, err := ParseParam(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"a=1", "b=two", "a=3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 3, "b": "two"}, params)

	_, err = ParseParams([]string{"ok=1", "broken"})
	assert.Error(t, err)
}

func TestExtractZoneName(t *testing.T) {
	link := "https://www.googleapis.com/compute/v1/projects/acme/zones/us-central1-a"
	assert.Equal(t, "us-central1-a", ExtractZoneName(link))
	assert.Equal(t, "europe-west1-b", ExtractZoneName("europe-west1-b"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
}
