package redisstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "climate:capacity", New(nil, "climate").key("capacity"))
	assert.Equal(t, "feedback", New(nil, "").key("feedback"))
}
