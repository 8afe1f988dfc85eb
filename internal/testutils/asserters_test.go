package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserterDiff(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []Option
		match    bool
	}{
		{name: "identical", actual: `{"a":1}`, expected: `{"a":1}`, match: true},
		{name: "extra keys ignored by default", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, match: true},
		{name: "extra keys reported when strict", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, opts: []Option{WithIgnoreExtraKeys(false)}, match: false},
		{name: "any value", actual: `{"ts":"2025-01-01T00:00:00Z","v":3}`, expected: `{"ts":"<<ANY>>","v":3}`, match: true},
		{name: "any value still requires the key", actual: `{"v":3}`, expected: `{"ts":"<<ANY>>","v":3}`, match: false},
		{name: "value mismatch", actual: `{"a":1}`, expected: `{"a":2}`, match: false},
		{name: "ignored fields", actual: `{"a":1,"t":5}`, expected: `{"a":1,"t":9}`, opts: []Option{WithIgnoredFields("t")}, match: true},
		{name: "root arrays in order", actual: `[{"id":"x"},{"id":"y"}]`, expected: `[{"id":"x"},{"id":"y"}]`, match: true},
		{name: "root arrays out of order", actual: `[{"id":"y"},{"id":"x"}]`, expected: `[{"id":"x"},{"id":"y"}]`, match: false},
		{name: "array order ignored", actual: `[{"id":"y"},{"id":"x"}]`, expected: `[{"id":"x"},{"id":"y"}]`, opts: []Option{WithIgnoreArrayOrder(true)}, match: true},
		{name: "invalid actual", actual: `{`, expected: `{}`, match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserterDiff(t *testing.T) {
	ta := NewTextAsserter(t)

	assert.Empty(t, ta.Diff("a  \nb\n\n", "a\nb"))

	diff := ta.Diff("a\nc", "a\nb")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")

	assert.NotEmpty(t, ta.Diff("a\n\nb", "a\nb"))
	assert.Empty(t, NewTextAsserter(t).WithOptions(WithIgnoreEmptyLines(true)).Diff("a\n\nb", "a\nb"))
}
