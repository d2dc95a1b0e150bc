package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource map[string]*model.StatusTracking

func (f fakeSource) Get(_ context.Context, entityType model.EntityType, entityID string) (*model.StatusTracking, error) {
	if t, ok := f[ChannelKey(entityType, entityID)]; ok {
		return t, nil
	}
	return nil, model.ErrTrackingNotFound
}

func newStatusServer(t *testing.T, svc *Service, entityType model.EntityType, entityID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Handler().HandleConnection(w, r, entityType, entityID); err != nil {
			t.Logf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_InitialStatusThenChanges(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracking := model.NewStatusTracking(model.EntityContract, "c1")
	tracking.AddStatusChange("Draft", "alice", "", at)

	svc := NewService(fakeSource{"contract/c1": tracking}, nil)
	defer svc.Close()
	srv := newStatusServer(t, svc, model.EntityContract, "c1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readMessage(t, conn)
	assert.Equal(t, MessageTypeInitialStatus, initial.Type)
	require.NotNil(t, initial.Status)
	assert.Equal(t, "Draft", initial.Status.CurrentStatus)
	assert.Equal(t, 1, svc.SubscriberCount(model.EntityContract, "c1"))

	change := tracking.AddStatusChange("Signed", "bob", "countersigned", at.Add(time.Hour))
	svc.PublishStatusChange(tracking, change, nil)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatusChange, msg.Type)
	assert.Equal(t, model.EntityContract, msg.EntityType)
	assert.Equal(t, "c1", msg.EntityID)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "Draft", msg.Change.OldStatus)
	assert.Equal(t, "Signed", msg.Change.NewStatus)
}

func TestHandler_NoTrackingSkipsInitialStatus(t *testing.T) {
	svc := NewService(fakeSource{}, nil)
	defer svc.Close()
	srv := newStatusServer(t, svc, model.EntityTask, "t9")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHandler_ChannelsAreIsolated(t *testing.T) {
	svc := NewService(fakeSource{}, nil)
	defer svc.Close()
	srvA := newStatusServer(t, svc, model.EntityTask, "a")
	srvB := newStatusServer(t, svc, model.EntityTask, "b")

	connA, _, err := websocket.DefaultDialer.Dial(wsURL(srvA), nil)
	require.NoError(t, err)
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL(srvB), nil)
	require.NoError(t, err)
	defer connB.Close()

	// A pong round trip proves each subscription is registered.
	for _, c := range []*websocket.Conn{connA, connB} {
		require.NoError(t, c.WriteJSON(map[string]string{"type": "ping"}))
		assert.Equal(t, MessageTypePong, readMessage(t, c).Type)
	}

	tracking := model.NewStatusTracking(model.EntityTask, "a")
	change := tracking.AddStatusChange("Done", "alice", "", time.Now())
	svc.PublishStatusChange(tracking, change, nil)

	assert.Equal(t, "a", readMessage(t, connA).EntityID)

	connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err, "channel b must not receive channel a's change")
}

func TestHandler_DependentsNotified(t *testing.T) {
	svc := NewService(fakeSource{}, nil)
	defer svc.Close()
	srv := newStatusServer(t, svc, model.EntityContract, "c1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	sig := model.NewStatusTracking(model.EntitySignature, "s1")
	change := sig.AddStatusChange("Completed", "bob", "", time.Now())
	dependent := model.NewStatusTracking(model.EntityContract, "c1")
	dependent.AddDependency(model.StatusDependency{
		EntityType:     model.EntitySignature,
		EntityID:       "s1",
		RequiredStatus: "Completed",
		IsSatisfied:    true,
	})
	svc.PublishStatusChange(sig, change, []*model.StatusTracking{dependent})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatusChange, msg.Type)
	assert.Nil(t, msg.Change)
	require.NotNil(t, msg.Status)
	assert.False(t, msg.Status.IsBlocked)
}

func TestHandler_HubRemovedAfterDisconnect(t *testing.T) {
	svc := NewService(fakeSource{}, nil)
	defer svc.Close()
	srv := newStatusServer(t, svc, model.EntityDocument, "d1")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.Equal(t, MessageTypePong, readMessage(t, conn).Type)
	require.Equal(t, 1, svc.HubManager().Count())

	conn.Close()
	require.Eventually(t, func() bool { return svc.HubManager().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ConnectionManagerAgainstHandler(t *testing.T) {
	tracking := model.NewStatusTracking(model.EntityContract, "c7")
	tracking.AddStatusChange("Draft", "alice", "", time.Now())
	svc := NewService(fakeSource{"contract/c7": tracking}, nil)
	defer svc.Close()
	srv := newStatusServer(t, svc, model.EntityContract, "c7")

	sink := &frameSink{}
	c := NewConnection(ConnectionOptions{OnMessage: sink.add})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background(), wsURL(srv)))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	var msg Message
	require.NoError(t, json.Unmarshal(sink.snapshot()[0].Data, &msg))
	assert.Equal(t, MessageTypeInitialStatus, msg.Type)
}
