package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) (*coordFixture, *httptest.Server) {
	t.Helper()
	f := newCoordFixture(t, time.Minute)
	mux := http.NewServeMux()
	NewAPIHandler(f.coord, f.store).Register(mux, websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSearchCreatesThenMatches(t *testing.T) {
	_, srv := newAPIServer(t)

	resp := postJSON(t, srv.URL+"/api/rooms/search", searchRequest{Topic: "books"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[searchResponse](t, resp)
	require.Equal(t, "created", first.Status)
	require.NotEmpty(t, first.RoomID)

	resp = postJSON(t, srv.URL+"/api/rooms/search", searchRequest{Topic: "books"})
	second := decodeBody[searchResponse](t, resp)
	require.Equal(t, "matched", second.Status)
	require.Equal(t, first.RoomID, second.RoomID)
}

func TestSearchRequiresTopic(t *testing.T) {
	_, srv := newAPIServer(t)
	resp := postJSON(t, srv.URL+"/api/rooms/search", searchRequest{})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessagesEndpointReturnsTranscript(t *testing.T) {
	f, srv := newAPIServer(t)
	room := f.createRoom(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveMessage(ctx, room.ID, "alice", "hi"))
	require.NoError(t, f.store.SaveMessage(ctx, room.ID, "bob", "hello"))

	resp, err := http.Get(srv.URL + "/api/rooms/" + room.ID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[messagesResponse](t, resp)
	require.Equal(t, room.ID, got.RoomID)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "hi", got.Messages[0].Content)
	require.Equal(t, "bob", got.Messages[1].SessionID)
}

func TestMessagesUnknownRoom404(t *testing.T) {
	_, srv := newAPIServer(t)
	resp, err := http.Get(srv.URL + "/api/rooms/nope/messages")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusReportsSecondUserJoined(t *testing.T) {
	f, srv := newAPIServer(t)
	room := f.createRoom(t)

	resp, err := http.Get(srv.URL + "/api/rooms/" + room.ID + "/status")
	require.NoError(t, err)
	got := decodeBody[map[string]bool](t, resp)
	require.False(t, got["second_user_joined"])

	require.NoError(t, f.registry.MarkSecondUserJoined(context.Background(), room.ID))
	resp, err = http.Get(srv.URL + "/api/rooms/" + room.ID + "/status")
	require.NoError(t, err)
	got = decodeBody[map[string]bool](t, resp)
	require.True(t, got["second_user_joined"])
}

func TestEndEndpointTearsDownRoom(t *testing.T) {
	f, srv := newAPIServer(t)
	room := f.createRoom(t)

	resp := postJSON(t, srv.URL+"/api/rooms/end", endRequest{RoomID: room.ID, SessionID: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	gone, err := f.registry.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	resp = postJSON(t, srv.URL+"/api/rooms/end", endRequest{RoomID: room.ID})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsCountsOpenRooms(t *testing.T) {
	f, srv := newAPIServer(t)
	f.createRoom(t)
	f.createRoom(t)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	got := decodeBody[map[string]int64](t, resp)
	require.Equal(t, int64(2), got["open_rooms"])
}

func TestWebSocketRoundTrip(t *testing.T) {
	f, srv := newAPIServer(t)
	room := f.createRoom(t)

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/chat/" + room.ID
	c1, _, err := websocket.DefaultDialer.Dial(wsURL+"?session=alice", nil)
	require.NoError(t, err)
	defer func() { _ = c1.Close() }()
	c2, _, err := websocket.DefaultDialer.Dial(wsURL+"?session=bob", nil)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()

	// both sides get second_user_joined once bob is in
	readEvent := func(c *websocket.Conn, wantType string) Event {
		t.Helper()
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			_, data, err := c.ReadMessage()
			require.NoError(t, err)
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Type == wantType {
				return ev
			}
		}
	}
	readEvent(c1, EventSecondUserJoined)
	readEvent(c2, EventSecondUserJoined)

	raw, err := json.Marshal(ClientPayload{Message: "hello there", RoomID: room.ID})
	require.NoError(t, err)
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, raw))

	got := readEvent(c2, EventChatMessage)
	require.Equal(t, "hello there", got.Message)
	require.Equal(t, "alice", got.SessionID)

	msgs, err := f.store.ListMessages(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestWebSocketDuplicateSessionRejected(t *testing.T) {
	f, srv := newAPIServer(t)
	room := f.createRoom(t)

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/chat/" + room.ID
	c1, _, err := websocket.DefaultDialer.Dial(wsURL+"?session=alice", nil)
	require.NoError(t, err)
	defer func() { _ = c1.Close() }()

	dup, _, err := websocket.DefaultDialer.Dial(wsURL+"?session=alice", nil)
	require.NoError(t, err)
	defer func() { _ = dup.Close() }()

	require.NoError(t, dup.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := dup.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, EventRedirect, ev.Type)

	_, _, err = dup.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, CloseRejected, ce.Code)
}
