package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedacted(t *testing.T) {
	f := Redacted("token", "s.abcdef")
	assert.Equal(t, "token", f.Key)
	assert.Equal(t, "[REDACTED]", f.String)

	empty := Redacted("token", "")
	assert.Equal(t, "", empty.String)
}

func TestL_LazyInit(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, S())
	assert.NotNil(t, Named("test"))
}
