package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeFenced(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "python fence",
			text: "Here you go:\n```python\nresult = {\"type\": \"scalar\", \"value\": 42}\n```\nLet me know.",
			want: "result = {\"type\": \"scalar\", \"value\": 42}",
		},
		{
			name: "starlark fence",
			text: "```starlark\ntotal = sum([r[\"units\"] for r in df[\"rows\"]])\nresult = {\"type\": \"scalar\", \"value\": total}\n```",
			want: "total = sum([r[\"units\"] for r in df[\"rows\"]])\nresult = {\"type\": \"scalar\", \"value\": total}",
		},
		{
			name: "bare fence",
			text: "```\nresult = {\"type\": \"textual\", \"value\": \"hi\"}\n```",
			want: "result = {\"type\": \"textual\", \"value\": \"hi\"}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := ExtractCode(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestExtractCodeBare(t *testing.T) {
	code, err := ExtractCode("result = {\"type\": \"scalar\", \"value\": 1}")
	require.NoError(t, err)
	assert.Contains(t, code, "result =")
}

func TestExtractCodeRejectsProse(t *testing.T) {
	_, err := ExtractCode("I cannot answer that question.")
	assert.Error(t, err)

	_, err = ExtractCode("")
	assert.Error(t, err)

	_, err = ExtractCode("```python\n```")
	assert.Error(t, err)
}

func TestExtractCodeFirstBlockWins(t *testing.T) {
	text := "```python\na = 1\n```\nand then\n```python\nb = 2\n```"
	code, err := ExtractCode(text)
	require.NoError(t, err)
	assert.Equal(t, "a = 1", code)
}
