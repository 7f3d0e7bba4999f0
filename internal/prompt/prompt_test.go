package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAskYesNoAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"anything else\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		p := NewTerminal(strings.NewReader(tt.input), &out)
		got := p.AskYesNo("Title", "Body")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Title")
	}
}

func TestAskYesNoEOFIsNo(t *testing.T) {
	p := NewTerminal(strings.NewReader(""), &bytes.Buffer{})
	assert.False(t, p.AskYesNo("Title", "Body"))
}

func TestConfirmAcceptsOK(t *testing.T) {
	p := NewTerminal(strings.NewReader("ok\n"), &bytes.Buffer{})
	assert.True(t, p.Confirm("Title", "Body"))
}

func TestWarnWritesNotice(t *testing.T) {
	var out bytes.Buffer
	p := NewTerminal(strings.NewReader(""), &out)
	p.Warn("Stalled", "Synchronization has not advanced.")
	assert.Contains(t, out.String(), "Stalled")
	assert.Contains(t, out.String(), "Synchronization has not advanced.")
}
