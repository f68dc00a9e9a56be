// ABOUTME: Tests for the socket channel registry.
// ABOUTME: Covers authorization, bind/unbind with stale guards, and dispatch.

package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAuthorizedKey(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.IsAuthorized("key-1"))
	r.RegisterAuthorizedKey("key-1")
	assert.True(t, r.IsAuthorized("key-1"))
}

func TestSetReceiveHandlerAuthorizesImplicitly(t *testing.T) {
	r := NewRegistry(nil)

	r.SetReceiveHandler("key-1", func(payload []byte) {})
	assert.True(t, r.IsAuthorized("key-1"))
}

func TestBindRequiresAuthorization(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Bind("unknown", func(payload []byte) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrKeyNotAuthorized)
}

func TestBindAndUnbind(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterAuthorizedKey("key-1")

	assert.Nil(t, r.PushHandler("key-1"))

	bindID, err := r.Bind("key-1", func(payload []byte) error { return nil }, nil)
	require.NoError(t, err)
	assert.NotNil(t, r.PushHandler("key-1"))

	r.Unbind("key-1", bindID)
	assert.Nil(t, r.PushHandler("key-1"))
}

func TestStaleUnbindKeepsReplacement(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterAuthorizedKey("key-1")

	oldID, err := r.Bind("key-1", func(payload []byte) error { return nil }, nil)
	require.NoError(t, err)
	_, err = r.Bind("key-1", func(payload []byte) error { return nil }, nil)
	require.NoError(t, err)

	// The old connection closing late must not tear down its replacement.
	r.Unbind("key-1", oldID)
	assert.NotNil(t, r.PushHandler("key-1"))
}

func TestDispatch(t *testing.T) {
	r := NewRegistry(nil)

	var got []byte
	r.SetReceiveHandler("key-1", func(payload []byte) { got = payload })

	assert.True(t, r.Dispatch("key-1", []byte("hello")))
	assert.Equal(t, []byte("hello"), got)

	assert.False(t, r.Dispatch("key-2", []byte("nobody home")))
}

func TestUnregisterRevokesKeyAndClosesConnection(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterAuthorizedKey("key-1")

	closed := false
	_, err := r.Bind("key-1", func(payload []byte) error { return nil }, func() { closed = true })
	require.NoError(t, err)

	r.Unregister("key-1")

	assert.True(t, closed)
	assert.False(t, r.IsAuthorized("key-1"))
	assert.Nil(t, r.PushHandler("key-1"))

	_, err = r.Bind("key-1", func(payload []byte) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrKeyNotAuthorized)
}

func TestUnregisterUnknownKey(t *testing.T) {
	r := NewRegistry(nil)
	r.Unregister("never-registered")
	assert.False(t, r.IsAuthorized("never-registered"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "abcd****", Redact("abcdefgh"))
	assert.Equal(t, "****", Redact("abc"))
	assert.Equal(t, "****", Redact(""))
}
