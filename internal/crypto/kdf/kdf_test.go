package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandDeterministic(t *testing.T) {
	a := assert.New(t)

	secret := []byte("shared-secret")
	salt := []byte("salt")
	info := []byte("InitialRootKey")

	first, err := Expand(secret, salt, info, 32)
	a.NoError(err)
	second, err := Expand(secret, salt, info, 32)
	a.NoError(err)

	a.Equal(first, second)
	a.Len(first, 32)
}

func TestExpandVariesByInput(t *testing.T) {
	a := assert.New(t)

	base, err := Expand([]byte("s"), []byte("salt"), []byte("info"), 32)
	a.NoError(err)

	bySecret, _ := Expand([]byte("s2"), []byte("salt"), []byte("info"), 32)
	a.NotEqual(base, bySecret)

	bySalt, _ := Expand([]byte("s"), []byte("salt2"), []byte("info"), 32)
	a.NotEqual(base, bySalt)

	byInfo, _ := Expand([]byte("s"), []byte("salt"), []byte("info2"), 32)
	a.NotEqual(base, byInfo)
}

func TestExpandArbitraryLength(t *testing.T) {
	a := assert.New(t)

	out, err := Expand([]byte("s"), []byte("salt"), []byte("SendChainStep"), 64)
	a.NoError(err)
	a.Len(out, 64)
}
