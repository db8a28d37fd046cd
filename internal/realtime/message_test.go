package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	msg, err := decodeFrame([]byte(`{"message":"new_message","data":{"id":7}}`))
	require.NoError(t, err)
	assert.Equal(t, "new_message", msg.Type)
	assert.JSONEq(t, `{"id":7}`, string(msg.Data))

	for _, bad := range []string{``, `not json`, `[1,2]`, `{"data":1}`, `{"message":5}`, `{"message":""}`} {
		_, err := decodeFrame([]byte(bad))
		assert.Error(t, err, "frame %q", bad)
	}
}

func TestDecodeAlert(t *testing.T) {
	a, err := decodeAlert(json.RawMessage(`{"content":"Hi","guest_id":"42","notification":{"label":"System","color":"#fff"}}`))
	require.NoError(t, err)
	assert.Equal(t, Alert{Content: "Hi", GuestID: "42", Notification: &AlertDisplay{Label: "System", Color: "#fff"}}, a)

	a, err = decodeAlert(json.RawMessage(`{"content":"Hi","guest_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", a.GuestID)
	assert.Nil(t, a.Notification)

	a, err = decodeAlert(json.RawMessage(`{"content":"Hi","guest_id":null}`))
	require.NoError(t, err)
	assert.Empty(t, a.GuestID)

	_, err = decodeAlert(json.RawMessage(`{"content":"Hi","guest_id":{"x":1}}`))
	assert.Error(t, err)
}

func TestAlertRoundTrip(t *testing.T) {
	in := Alert{Content: "Hi", GuestID: "42", Notification: &AlertDisplay{Label: "System", Color: "#fff"}}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Alert
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}
