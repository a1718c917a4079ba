package hub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherBroadcastAll(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())

	first, _ := connect(t, h)
	second, _ := connect(t, h)

	n := d.BroadcastAll(map[string]any{"message": "hello everyone"}, "")
	assert.Equal(t, 2, n)

	for _, tr := range []*fakeTransport{first, second} {
		frames := tr.received(t)
		last := frames[len(frames)-1]
		assert.Equal(t, "broadcast", last.Event)
		assert.Equal(t, map[string]any{"message": "hello everyone"}, last.Data["data"])
		assert.NotEmpty(t, last.Data["timestamp"])
		_, hasSender := last.Data["senderId"]
		assert.False(t, hasSender, "control-surface broadcasts carry no sender")
	}
}

func TestDispatcherBroadcastCarriesSender(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())

	sender, senderID := connect(t, h)
	peer, _ := connect(t, h)

	n := d.BroadcastAll("ping", senderID)
	assert.Equal(t, 2, n)

	for _, tr := range []*fakeTransport{sender, peer} {
		frames := tr.received(t)
		last := frames[len(frames)-1]
		assert.Equal(t, senderID, last.Data["senderId"])
	}
}

func TestDispatcherSendToRoom(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())

	member, memberID := connect(t, h)
	outsider, _ := connect(t, h)
	require.True(t, h.JoinRoom(memberID, "alerts"))

	n := d.SendToRoom("alerts", map[string]any{"severity": "high"})
	assert.Equal(t, 1, n)

	frames := member.received(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "room-message", last.Event)
	assert.Equal(t, "alerts", last.Data["room"])
	assert.Equal(t, map[string]any{"severity": "high"}, last.Data["data"])
	assert.NotEmpty(t, last.Data["timestamp"])

	assert.Equal(t, []string{"connected"}, outsider.events(t))
}

func TestDispatcherSendToRoomEmpty(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())
	connect(t, h)

	assert.Zero(t, d.SendToRoom("ghost", "anyone?"))
}

func TestDispatcherSendToConnection(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())

	receiver, receiverID := connect(t, h)
	bystander, _ := connect(t, h)

	require.NoError(t, d.SendToConnection(receiverID, map[string]any{"note": "just you"}))

	frames := receiver.received(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "direct-message", last.Event)
	assert.Equal(t, map[string]any{"note": "just you"}, last.Data["data"])
	assert.NotEmpty(t, last.Data["timestamp"])

	assert.Equal(t, []string{"connected"}, bystander.events(t))
}

func TestDispatcherSendToConnectionNotFound(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())
	bystander, _ := connect(t, h)

	err := d.SendToConnection("gone", "hello?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))

	// Nothing leaks to other connections on a failed direct send.
	assert.Equal(t, []string{"connected"}, bystander.events(t))
}

func TestDispatcherDisconnect(t *testing.T) {
	h := newTestHub()
	d := NewDispatcher(h, zap.NewNop())

	victim, victimID := connect(t, h)

	require.NoError(t, d.Disconnect(victimID, "policy"))
	assert.True(t, victim.isClosed())
	assert.Equal(t, "policy", victim.closeReason())
	assert.False(t, h.IsConnected(victimID))

	err := d.Disconnect(victimID, "again")
	assert.True(t, errors.Is(err, ErrNotConnected))
}
