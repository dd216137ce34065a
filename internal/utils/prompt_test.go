package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		auto  bool
		want  bool
	}{
		{name: "auto approve", auto: true, want: true},
		{name: "yes", input: "yes\n", want: true},
		{name: "y uppercase", input: "Y\n", want: true},
		{name: "no", input: "no\n", want: false},
		{name: "eof without newline", input: "yes", want: true},
		{name: "empty", input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			ok, err := Confirm(strings.NewReader(tt.input), &out, tt.auto, "force resume", []string{"web.create"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if tt.auto {
				assert.Empty(t, out.String())
			} else {
				assert.Contains(t, out.String(), "web.create")
			}
		})
	}
}

func TestBox_Render(t *testing.T) {
	out := NewBox(ErrorMessage, "Execution failed").
		WithWidth(60).
		AddKeyValue("Execution", "exec-1").
		AddBullet("web.create").
		Render()

	assert.Contains(t, out, "Execution failed")
	assert.Contains(t, out, "Execution: exec-1")
	assert.Contains(t, out, "• web.create")
	assert.Contains(t, out, "╭")
}
