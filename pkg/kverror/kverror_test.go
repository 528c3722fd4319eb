package kverror_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/pg-sharding/shardkv/pkg/kverror"
)

func TestCodeOf(t *testing.T) {
	assert := assert.New(t)

	err := kverror.New(kverror.KV_OVERLOADED, "queue full")
	assert.Equal(kverror.KV_OVERLOADED, kverror.CodeOf(err))
	assert.True(kverror.IsCode(err, kverror.KV_OVERLOADED))
	assert.False(kverror.IsCode(err, kverror.KV_IO_ERROR))

	assert.Equal(kverror.KV_UNKNOWN, kverror.CodeOf(errors.New("plain")))
}

func TestWrapKeepsChain(t *testing.T) {
	assert := assert.New(t)

	inner := errors.New("disk gone")
	err := kverror.Wrap(kverror.KV_IO_ERROR, inner)

	assert.ErrorIs(err, inner)
	assert.True(kverror.IsCode(errors.Wrap(err, "outer"), kverror.KV_IO_ERROR))
}

func TestMessageByCode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("read deadline exceeded", kverror.GetMessageByCode(kverror.KV_TOO_OLD))
	assert.Equal("Unexpected error", kverror.GetMessageByCode("NOPE"))
}
