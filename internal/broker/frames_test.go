package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		id       int64
		body     []byte
		want     string
	}{
		{
			name:     "JSON body",
			endpoint: "md/subscribeQuote",
			id:       7,
			body:     []byte(`{"symbol":"MNQH5"}`),
			want:     "md/subscribeQuote\n7\n\n{\"symbol\":\"MNQH5\"}",
		},
		{
			name:     "Bare token body for authorize",
			endpoint: "authorize",
			id:       1,
			body:     []byte("access-token-value"),
			want:     "authorize\n1\n\naccess-token-value",
		},
		{
			name:     "Empty body",
			endpoint: "user/syncrequest",
			id:       42,
			body:     nil,
			want:     "user/syncrequest\n42\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeFrame(tt.endpoint, tt.id, tt.body)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Run("Open frame", func(t *testing.T) {
		kind, msgs, err := decodeFrame([]byte("o"))
		require.NoError(t, err)
		assert.Equal(t, frameOpen, kind)
		assert.Empty(t, msgs)
	})

	t.Run("Heartbeat frame", func(t *testing.T) {
		kind, _, err := decodeFrame([]byte("h"))
		require.NoError(t, err)
		assert.Equal(t, frameHeartbeat, kind)
	})

	t.Run("Empty frame counts as heartbeat", func(t *testing.T) {
		kind, _, err := decodeFrame(nil)
		require.NoError(t, err)
		assert.Equal(t, frameHeartbeat, kind)
	})

	t.Run("Close frame", func(t *testing.T) {
		kind, _, err := decodeFrame([]byte(`c[1000,"Normal closure"]`))
		require.NoError(t, err)
		assert.Equal(t, frameClose, kind)
	})

	t.Run("Data frame with reply and event", func(t *testing.T) {
		raw := []byte(`a[{"s":200,"i":3},{"e":"md","d":{"entries":[]}}]`)
		kind, msgs, err := decodeFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, frameData, kind)
		require.Len(t, msgs, 2)

		assert.Equal(t, 200, msgs[0].Status)
		assert.Equal(t, int64(3), msgs[0].ID)
		assert.Empty(t, msgs[0].Event)

		assert.Equal(t, "md", msgs[1].Event)
		assert.Equal(t, int64(0), msgs[1].ID)
		assert.JSONEq(t, `{"entries":[]}`, string(msgs[1].Data))
	})

	t.Run("Malformed data envelope", func(t *testing.T) {
		_, _, err := decodeFrame([]byte(`a{"not":"an array"}`))
		require.Error(t, err)
	})

	t.Run("Unrecognized frame type", func(t *testing.T) {
		_, _, err := decodeFrame([]byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized stream frame")
	})
}
