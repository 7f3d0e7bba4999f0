package channel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("connection refused")
	te := &TransientError{Op: "dial mail.example.com:993", Err: base}

	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("listing folder: %w", te)))
	assert.False(t, IsTransient(base))
	assert.ErrorIs(t, te, base)
}

func TestExtractTextBodyPlainText(t *testing.T) {
	raw := []byte("From: server@example.com\r\n" +
		"To: user@example.com\r\n" +
		"Subject: update\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		`{"kind":"clear"}`)

	body, err := extractTextBody(raw)
	assert.NoError(t, err)
	assert.Equal(t, `{"kind":"clear"}`, body)
}

func TestParseUpdateItemNoBody(t *testing.T) {
	_, err := parseUpdateItem("1", nil)
	assert.Error(t, err)
}
