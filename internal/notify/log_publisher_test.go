package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, pub.Publish(context.Background(), Message{Kind: KindSessionCompleted, SessionID: "s-9", DurationMinutes: 12}))

	out := buf.String()
	assert.Contains(t, out, `"session_id":"s-9"`)
	assert.Contains(t, out, `"duration_minutes":12`)
	assert.NotContains(t, out, "public_token")
}
