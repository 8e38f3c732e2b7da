package networking

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

// SignallingRelay is the signalling server. Serve it on a WebSocket endpoint with ServeHTTP.
//
// Every text message from a client is relayed to all other connected clients, except
// HelloMessage and ReadyToConnectMessage which the relay consumes. Once two clients have sent
// ReadyToConnectMessage, the first to do so is sent the initiator role, the second the responder
// role, and both are sent a PeerConnectedMessage. Readiness is reset whenever a client leaves.
type SignallingRelay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*relayClient
	ready   []uuid.UUID
}

type relayClient struct {
	identifier signalling.PeerIdentifier
	logger     *slog.Logger
	conn       *websocket.Conn
	writeMu    sync.Mutex
}

func (client *relayClient) send(msg signalling.Message) error {
	text, err := signalling.Encode(msg)
	if err != nil {
		return err
	}
	return client.sendText([]byte(text))
}

func (client *relayClient) sendText(text []byte) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return client.conn.WriteMessage(websocket.TextMessage, text)
}

// If no logger is given, slog.Default() is used.
func NewSignallingRelay(logger *slog.Logger) *SignallingRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignallingRelay{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Browser clients are served from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*relayClient),
	}
}

// Number of connected clients.
func (relay *SignallingRelay) ClientCount() int {
	relay.mu.Lock()
	defer relay.mu.Unlock()
	return len(relay.clients)
}

// Number of clients waiting for a role.
func (relay *SignallingRelay) ReadyCount() int {
	relay.mu.Lock()
	defer relay.mu.Unlock()
	return len(relay.ready)
}

func (relay *SignallingRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := relay.upgrader.Upgrade(w, r, nil)
	if err != nil {
		relay.logger.Error("error upgrading signalling connection", "err", err, "remoteAddr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	publicIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		publicIP = r.RemoteAddr
	}
	identifier := signalling.NewPeerIdentifier(publicIP)
	client := &relayClient{
		identifier: identifier,
		logger: relay.logger.With(
			"peer uuid", identifier.Uuid,
			"publicIP", identifier.PublicIP,
		),
		conn: conn,
	}

	relay.register(client)
	defer relay.unregister(client)

	if err := client.send(signalling.HelloMessage{Message: fmt.Sprintf("connected as %s", identifier)}); err != nil {
		client.logger.Error("error sending hello", "err", err)
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			client.logger.Info("client disconnected", "err", err)
			return
		}
		if msgType != websocket.TextMessage {
			client.logger.Warn("ignoring non-text message", "messageType", msgType)
			continue
		}
		relay.handleMessage(client, data)
	}
}

func (relay *SignallingRelay) handleMessage(client *relayClient, data []byte) {
	msg, err := signalling.Decode(string(data))
	if err == nil {
		switch m := msg.(type) {
		case signalling.HelloMessage:
			client.logger.Info("hello from client", "message", m.Message)
			return
		case signalling.ReadyToConnectMessage:
			relay.markReady(client)
			return
		}
		client.logger.Debug("relaying message", "type", msg.Type())
	} else {
		// The relay does not need to understand a message to forward it
		client.logger.Debug("relaying undecodable message", "err", err)
	}

	for _, other := range relay.others(client) {
		if err := other.sendText(data); err != nil {
			other.logger.Warn("error relaying message", "err", err)
		}
	}
}

// Record that client is ready, and hand out roles once two clients are.
func (relay *SignallingRelay) markReady(client *relayClient) {
	relay.mu.Lock()
	id := client.identifier.Uuid
	if !slices.Contains(relay.ready, id) {
		relay.ready = append(relay.ready, id)
	}
	client.logger.Info("client ready to connect", "readyClients", len(relay.ready))

	if len(relay.ready) < 2 {
		relay.mu.Unlock()
		return
	}
	initiator, initiatorOK := relay.clients[relay.ready[0]]
	responder, responderOK := relay.clients[relay.ready[1]]
	relay.ready = relay.ready[2:]
	relay.mu.Unlock()

	if !initiatorOK || !responderOK {
		return
	}

	initiator.logger.Info("assigning roles", "initiator", initiator.identifier, "responder", responder.identifier)
	for _, assignment := range []struct {
		client *relayClient
		role   string
	}{
		{initiator, signalling.RoleInitiator},
		{responder, signalling.RoleResponder},
	} {
		if err := assignment.client.send(signalling.RoleMessage{Role: assignment.role}); err != nil {
			assignment.client.logger.Warn("error sending role", "err", err)
		}
		if err := assignment.client.send(signalling.PeerConnectedMessage{}); err != nil {
			assignment.client.logger.Warn("error sending peer connected", "err", err)
		}
	}
}

func (relay *SignallingRelay) others(client *relayClient) []*relayClient {
	relay.mu.Lock()
	defer relay.mu.Unlock()

	others := make([]*relayClient, 0, len(relay.clients))
	for id, other := range relay.clients {
		if id != client.identifier.Uuid {
			others = append(others, other)
		}
	}
	return others
}

func (relay *SignallingRelay) register(client *relayClient) {
	relay.mu.Lock()
	relay.clients[client.identifier.Uuid] = client
	count := len(relay.clients)
	relay.mu.Unlock()

	client.logger.Info("client connected", "clients", count)
}

func (relay *SignallingRelay) unregister(client *relayClient) {
	relay.mu.Lock()
	delete(relay.clients, client.identifier.Uuid)
	relay.ready = nil
	count := len(relay.clients)
	relay.mu.Unlock()

	client.conn.Close()
	client.logger.Info("client removed", "clients", count)
}
