package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDeliversInRegistrationOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.RegisterHandler("new_message", func(data json.RawMessage) error {
			got = append(got, name+":"+string(data))
			return nil
		})
	}
	r.RegisterHandler("other", func(json.RawMessage) error {
		t.Fatal("handler for another type must not run")
		return nil
	})

	r.Dispatch("new_message", json.RawMessage(`1`))

	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, got)
}

func TestRegistryFailingHandlerDoesNotStopOthers(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var got []string
	r.RegisterHandler("t", func(json.RawMessage) error { got = append(got, "first"); return nil })
	r.RegisterHandler("t", func(json.RawMessage) error { return errors.New("boom") })
	r.RegisterHandler("t", func(json.RawMessage) error { panic("observer bug") })
	r.RegisterHandler("t", func(json.RawMessage) error { got = append(got, "last"); return nil })

	require.NotPanics(t, func() { r.Dispatch("t", nil) })
	assert.Equal(t, []string{"first", "last"}, got)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var removed, kept int
	unregister := r.RegisterHandler("t", func(json.RawMessage) error { removed++; return nil })
	r.RegisterHandler("t", func(json.RawMessage) error { kept++; return nil })

	r.Dispatch("t", nil)
	unregister()
	unregister()
	r.Dispatch("t", nil)
	r.Dispatch("t", nil)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, kept)
	assert.Equal(t, 1, r.Len("t"))
}

func TestRegistryReRegisteredHandlerKeepsFiring(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var calls []string
	h := func(name string) Handler {
		return func(json.RawMessage) error { calls = append(calls, name); return nil }
	}
	first := r.RegisterHandler("t", h("old"))
	r.RegisterHandler("t", h("new"))
	first()

	r.Dispatch("t", nil)
	assert.Equal(t, []string{"new"}, calls)
}

func TestRegistryUnregisterDuringDispatch(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var selfCalls, nextCalls int
	var unregister func()
	unregister = r.RegisterHandler("t", func(json.RawMessage) error {
		selfCalls++
		unregister()
		return nil
	})
	r.RegisterHandler("t", func(json.RawMessage) error { nextCalls++; return nil })

	r.Dispatch("t", nil)
	r.Dispatch("t", nil)

	assert.Equal(t, 1, selfCalls)
	assert.Equal(t, 2, nextCalls)
	assert.Equal(t, 0, r.Len("missing"))
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				un := r.RegisterHandler("t", func(json.RawMessage) error { return nil })
				un()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Dispatch("t", nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len("t"))
}

func TestOnDecodesTypedPayload(t *testing.T) {
	type conversationUpdate struct {
		ConversationID string `json:"conversation_id"`
		Unread         int    `json:"unread"`
	}
	r := NewRegistry(zerolog.Nop())
	var got []conversationUpdate
	On(r, "conversation_update", func(u conversationUpdate) error {
		got = append(got, u)
		return nil
	})
	var after int
	r.RegisterHandler("conversation_update", func(json.RawMessage) error { after++; return nil })

	r.Dispatch("conversation_update", json.RawMessage(`{"conversation_id":"c1","unread":3}`))
	r.Dispatch("conversation_update", json.RawMessage(`"not an object"`))
	r.Dispatch("conversation_update", nil)

	require.Len(t, got, 2)
	assert.Equal(t, conversationUpdate{ConversationID: "c1", Unread: 3}, got[0])
	assert.Equal(t, conversationUpdate{}, got[1])
	assert.Equal(t, 3, after)
}
