//go:build integration
// +build integration

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/asset"
	"github.com/c360/assetmesh/identity"
)

const integrationPort = 18734

// TestGatewayLifecycle runs the service against a real listener: connect,
// subscribe, receive, lose an ack and get the sweep's redelivery, then
// shut down cleanly.
func TestGatewayLifecycle(t *testing.T) {
	raw := json.RawMessage(fmt.Sprintf(
		`{"port":%d,"delivery_mode":"at-least-once","ack_timeout":"200ms"}`, integrationPort))
	svc, _ := newTestGateway(t, raw)

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(5 * time.Second) })

	wsURL := fmt.Sprintf("ws://localhost:%d/ws", integrationPort)
	header := http.Header{}
	for k, v := range superuserHeaders() {
		header.Set(k, v)
	}

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			return false
		}
		if resp != nil {
			resp.Body.Close()
		}
		conn = c
		return true
	}, 2*time.Second, 50*time.Millisecond, "server did not come up")
	t.Cleanup(func() { conn.Close() })

	sendEnvelope(t, conn, TypeSubscribe, identity.Filter{AssetID: "room1"})
	waitForSubscription(t, svc)

	require.NoError(t, svc.PublishCompletion(context.Background(), asset.CompletionEvent{
		AssetID: "room1", Attribute: "temperature", Value: asset.NumberValue(18), Timestamp: 1,
	}))

	first := readEnvelope(t, conn)
	require.Equal(t, TypeData, first.Type)

	// Withhold the ack; the maintenance sweep resends after the ack
	// timeout expires.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var second Envelope
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, first.ID, second.ID, "sweep redelivers the unacked envelope")

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeAck, ID: second.ID, Timestamp: time.Now().UnixMilli()}))

	require.NoError(t, svc.Stop(5*time.Second))
}
