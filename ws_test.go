package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/relaydraw/games/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame map[string]any

func newTestServer(t *testing.T) (*httptest.Server, *relay.Server, *hub) {
	t.Helper()

	cfg := defaultConfig(t, "--grace-period", "1m")
	errs := make(chan error, 64)
	go drainErrors(errs)

	h := newHub()
	game := relay.NewServer(h, cfg.relayOptions())
	ts := httptest.NewServer(newRouter(cfg, game, h, errs))

	t.Cleanup(func() {
		h.closeAll()
		ts.Close()
	})

	return ts, game, h
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return ws, resp
}

func send(t *testing.T, ws *websocket.Conn, msg frame) {
	t.Helper()

	require.NoError(t, ws.WriteJSON(msg))
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) frame {
	t.Helper()

	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func ofType(typ string) func(frame) bool {
	return func(f frame) bool { return f["type"] == typ }
}

func withNotice(notice string) func(frame) bool {
	return func(f frame) bool { return f["type"] == relay.TypeMembership && f["notice"] == notice }
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	require.FailNow(t, "no session cookie in upgrade response")

	return nil
}

func TestWebsocket_ResumeAfterDrop(t *testing.T) {
	ts, game, _ := newTestServer(t)

	al, resp := dial(t, ts, nil)
	_, err := uuid.Parse(sessionCookie(t, resp).Value)
	require.NoError(t, err)

	send(t, al, frame{"type": relay.TypeCreateRoom, "key": "ABCD", "display_name": "al"})
	joined := readUntil(t, al, ofType(relay.TypeJoined))
	assert.Equal(t, true, joined["host"])
	assert.Equal(t, float64(0), joined["seat_id"])

	bo, resp := dial(t, ts, nil)
	cookie := sessionCookie(t, resp)

	send(t, bo, frame{"type": relay.TypeJoinRoom, "key": "ABCD", "display_name": "bo"})
	joined = readUntil(t, bo, ofType(relay.TypeJoined))
	assert.Equal(t, float64(1), joined["seat_id"])
	readUntil(t, al, withNotice("bo has joined the room"))

	require.NoError(t, bo.Close())
	readUntil(t, al, withNotice("bo lost connection"))
	assert.False(t, game.Actors("ABCD")[1].Connected)

	again, resp := dial(t, ts, http.Header{"Cookie": {cookie.String()}})
	for _, c := range resp.Cookies() {
		assert.NotEqual(t, sessionCookieName, c.Name, "known sessions keep their cookie")
	}

	resumed := readUntil(t, again, ofType(relay.TypeResumed))
	assert.Equal(t, "ABCD", resumed["key"])
	assert.Equal(t, float64(1), resumed["seat_id"])
	readUntil(t, al, withNotice("bo has reconnected"))
	assert.True(t, game.Actors("ABCD")[1].Connected)

	send(t, again, frame{"type": relay.TypeSetReady, "seat_id": 1, "ready": true})
	ready := readUntil(t, again, ofType(relay.TypeReady))
	assert.Equal(t, true, ready["ready"])
}

func TestWebsocket_Errors(t *testing.T) {
	ts, _, _ := newTestServer(t)

	ws, _ := dial(t, ts, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	e := readUntil(t, ws, ofType(relay.TypeError))
	assert.Equal(t, "bad-message", e["code"])

	send(t, ws, frame{"type": relay.TypeJoinRoom, "key": "nope", "display_name": "al"})
	e = readUntil(t, ws, ofType(relay.TypeError))
	assert.Equal(t, relay.TypeJoinRoom, e["request"])
	assert.Equal(t, "not-found", e["code"])
}

func TestWebsocket_Passphrase(t *testing.T) {
	ts, _, _ := newTestServer(t)

	host, _ := dial(t, ts, nil)
	send(t, host, frame{
		"type":         relay.TypeCreateRoom,
		"key":          "ABCD",
		"display_name": "al",
		"settings":     frame{"passphrase": "hunter2"},
	})
	readUntil(t, host, ofType(relay.TypeJoined))

	guest, _ := dial(t, ts, nil)
	send(t, guest, frame{"type": relay.TypeJoinRoom, "key": "ABCD", "display_name": "bo"})
	auth := readUntil(t, guest, ofType(relay.TypeAuthRequired))
	assert.Equal(t, "ABCD", auth["key"])

	send(t, guest, frame{"type": relay.TypeAuthenticateRoom, "key": "ABCD", "display_name": "bo", "passphrase": "hunter2"})
	joined := readUntil(t, guest, ofType(relay.TypeJoined))
	assert.Equal(t, float64(1), joined["seat_id"])
}

func TestHTTP_Routes(t *testing.T) {
	ts, game, _ := newTestServer(t)

	ws, _ := dial(t, ts, nil)
	send(t, ws, frame{"type": relay.TypeCreateRoom, "key": "ABCD", "display_name": "al", "settings": frame{"passphrase": "x"}})
	readUntil(t, ws, ofType(relay.TypeJoined))
	require.True(t, game.RoomExists("ABCD"))

	get := func(path string) (*http.Response, []byte) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp, body
	}

	resp, body := get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ok\n", string(body))

	_, body = get("/version")
	assert.Equal(t, "relaydraw v"+releaseVersion+"\n", string(body))

	resp, body = get("/rooms")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var rooms []relay.RoomInfo
	require.NoError(t, json.Unmarshal(body, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "ABCD", rooms[0].Key)
	assert.Equal(t, 1, rooms[0].Seats)
	assert.True(t, rooms[0].Locked)
	assert.NotContains(t, string(body), `"x"`)

	resp, body = get("/rooms/ABCD/qr")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))

	resp, _ = get("/rooms/nope/qr")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/ws")
}

func TestHub_Send(t *testing.T) {
	h := newHub()

	// Unknown connections are ignored.
	h.Send("nobody", relay.LeftMessage{Type: relay.TypeLeft, Key: "ABCD"})
	assert.Zero(t, h.count())

	c := &client{id: "c1", send: make(chan []byte, 1)}
	h.add(c)
	h.Send("c1", relay.LeftMessage{Type: relay.TypeLeft, Key: "ABCD"})

	data := <-c.send
	assert.JSONEq(t, `{"type":"left","key":"ABCD"}`, string(data))

	h.remove(c)
	assert.Zero(t, h.count())
	_, open := <-c.send
	assert.False(t, open)

	// A second remove is harmless.
	h.remove(c)
}

func TestSessionID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	id, cookie := sessionID(r)
	require.NotNil(t, cookie)
	assert.Equal(t, id, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: id})
	again, cookie := sessionID(r)
	assert.Equal(t, id, again)
	assert.Nil(t, cookie)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "not-a-uuid"})
	fresh, cookie := sessionID(r)
	assert.NotEqual(t, "not-a-uuid", fresh)
	assert.NotNil(t, cookie)
}
