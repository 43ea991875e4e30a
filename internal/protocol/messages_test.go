package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MattCruikshank/templatebot/internal/models"
)

func TestEncodeParse(t *testing.T) {
	raw, err := Encode(TypeEvent, EventMessage{Event: models.Event{RunID: "r1", Type: models.EventCreated, Name: "General"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","data":{"event":{"run_id":"r1","guild_id":"","type":"created","name":"General","timestamp":"0001-01-01T00:00:00Z"}}}`, string(raw))

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, env.Type)

	var msg EventMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "General", msg.Event.Name)
}

func TestParseEnvelope_Rejects(t *testing.T) {
	_, err := ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)

	env, err := ParseEnvelope([]byte(`{"type":"subscribe"}`))
	require.NoError(t, err)
	assert.Error(t, env.Decode(&SubscribeMessage{}))
}
