package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/ws"
)

var secret = []byte("test-secret")

func startHub(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()
	hub := ws.NewHub(secret, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) ws.DealUpdateMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ws.DealUpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func testDeal(buyer, seller string) *domain.Deal {
	return &domain.Deal{
		ID:            uuid.New(),
		BuyerContact:  buyer,
		SellerContact: seller,
		Phase:         domain.PhasePriceNegotiating,
		TurnCount:     3,
		Log: domain.DealLog{
			{Actor: domain.ActorBuyerAgent, Message: "I can do 860.", Timestamp: time.Now().UTC()},
		},
	}
}

func TestHub_FiltersByDealID(t *testing.T) {
	hub, srv := startHub(t)
	watched := testDeal("b@example.com", "s@example.com")
	other := testDeal("x@example.com", "y@example.com")

	narrow := dial(t, srv, "?deal_id="+watched.ID.String())
	wide := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.BroadcastDealUpdate(other)
	hub.BroadcastDealUpdate(watched)

	got := readUpdate(t, narrow)
	assert.Equal(t, watched.ID, got.DealID)
	assert.Equal(t, ws.MsgTypeDealUpdate, got.Type)
	assert.Equal(t, 3, got.TurnCount)
	require.NotNil(t, got.LastEntry)
	assert.Equal(t, "I can do 860.", got.LastEntry.Message)

	assert.Equal(t, other.ID, readUpdate(t, wide).DealID)
	assert.Equal(t, watched.ID, readUpdate(t, wide).DealID)
}

func TestHub_FiltersByTokenSubject(t *testing.T) {
	hub, srv := startHub(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "seller@example.com",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	conn := dial(t, srv, "?token="+token)
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastDealUpdate(testDeal("b@example.com", "someone@example.com"))
	mine := testDeal("b@example.com", "SELLER@example.com")
	hub.BroadcastDealUpdate(mine)

	assert.Equal(t, mine.ID, readUpdate(t, conn).DealID)
	expectSilence(t, conn)
}

func TestHub_RejectsMalformedDealID(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?deal_id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectedCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
