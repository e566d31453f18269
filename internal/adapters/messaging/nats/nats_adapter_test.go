package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
)

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name  string
		event ports.Event
		want  string
	}{
		{"conversation event", ports.NewEvent(ports.EventMessageDelta, "c1", nil), "conversation.c1.message.delta"},
		{"run status", ports.NewEvent(ports.EventRunStatus, "c2", nil), "conversation.c2.run.status"},
		{"global sample", ports.NewEvent(ports.EventBenchmarkSample, "", nil), ports.SubjectBenchmarkSample},
		{"model pull", ports.NewEvent(ports.EventModelPull, "", nil), ports.SubjectModelPull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectFor(tt.event))
		})
	}
}

func TestDecodeEvent_SkipsOwnOrigin(t *testing.T) {
	event := ports.NewEvent(ports.EventMessageFinalized, "c1", map[string]string{"id": "m1"})
	event.Origin = "node-a"
	data, err := json.Marshal(event)
	require.NoError(t, err)

	got, ok, err := decodeEvent(data, "node-b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ports.EventMessageFinalized, got.Type)
	assert.Equal(t, "c1", got.ConversationID)

	_, ok, err = decodeEvent(data, "node-a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = decodeEvent([]byte("{"), "node-a")
	assert.Error(t, err)
}

func TestStreamConfigs(t *testing.T) {
	cfgs := streamConfigs(time.Hour)
	require.Len(t, cfgs, 3)
	assert.Equal(t, constants.ConversationStream, cfgs[0].Name)
	assert.Equal(t, []string{ports.SubjectConversationAll}, cfgs[0].Subjects)
	assert.Equal(t, constants.BenchmarkStream, cfgs[1].Name)
	assert.Equal(t, []string{ports.SubjectModelPull}, cfgs[2].Subjects)
	for _, c := range cfgs {
		assert.Equal(t, time.Hour, c.MaxAge)
	}
}

func TestNeedsUpdate(t *testing.T) {
	base := nats.StreamConfig{MaxAge: time.Hour, MaxMsgs: 10}
	assert.False(t, needsUpdate(base, base))

	changed := base
	changed.MaxAge = 2 * time.Hour
	assert.True(t, needsUpdate(base, changed))
}

func TestSanitizeSubjectForDurable(t *testing.T) {
	assert.Equal(t, "conversation_gt", sanitizeSubjectForDurable("conversation.>"))
	assert.Equal(t, "a_star_b", sanitizeSubjectForDurable("a.*.b"))
}
