package networking

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

const testTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newRelayServer(t *testing.T) (*SignallingRelay, string) {
	t.Helper()
	relay := NewSignallingRelay(discardLogger())
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, c *websocket.Conn) signalling.Message {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := signalling.Decode(string(data))
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func writeMessage(t *testing.T, c *websocket.Conn, msg signalling.Message) {
	t.Helper()
	text, err := signalling.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRelayAssignsRolesInReadyOrder(t *testing.T) {
	relay, url := newRelayServer(t)

	first := dialWS(t, url)
	second := dialWS(t, url)
	for _, c := range []*websocket.Conn{first, second} {
		if _, ok := readMessage(t, c).(signalling.HelloMessage); !ok {
			t.Fatalf("expected hello on connect")
		}
	}

	// The second client to connect is the first to become ready.
	writeMessage(t, second, signalling.ReadyToConnectMessage{})
	waitFor(t, "second client ready", func() bool { return relay.ReadyCount() == 1 })
	writeMessage(t, first, signalling.ReadyToConnectMessage{})

	for _, tt := range []struct {
		conn *websocket.Conn
		role string
	}{
		{second, signalling.RoleInitiator},
		{first, signalling.RoleResponder},
	} {
		msg := readMessage(t, tt.conn)
		role, ok := msg.(signalling.RoleMessage)
		if !ok || role.Role != tt.role {
			t.Fatalf("expected role %s, got %#v", tt.role, msg)
		}
		if _, ok := readMessage(t, tt.conn).(signalling.PeerConnectedMessage); !ok {
			t.Fatalf("expected peer connected after role")
		}
	}
}

func TestRelayForwardsToOtherClients(t *testing.T) {
	_, url := newRelayServer(t)

	a := dialWS(t, url)
	b := dialWS(t, url)
	readMessage(t, a)
	readMessage(t, b)

	data, err := signalling.EncodeSDP("v=0")
	if err != nil {
		t.Fatalf("EncodeSDP: %v", err)
	}
	writeMessage(t, a, signalling.OfferMessage{Data: data})

	msg := readMessage(t, b)
	offer, ok := msg.(signalling.OfferMessage)
	if !ok || offer.Data != data {
		t.Fatalf("expected relayed offer, got %#v", msg)
	}

	// Nothing is echoed back to the sender.
	if err := a.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if _, _, err := a.ReadMessage(); err == nil {
		t.Fatalf("sender received its own message")
	}
}

func TestRelayResetsReadinessOnDisconnect(t *testing.T) {
	relay, url := newRelayServer(t)

	a := dialWS(t, url)
	readMessage(t, a)
	writeMessage(t, a, signalling.ReadyToConnectMessage{})
	waitFor(t, "a ready", func() bool { return relay.ReadyCount() == 1 })

	gone := dialWS(t, url)
	readMessage(t, gone)
	waitFor(t, "second client registered", func() bool { return relay.ClientCount() == 2 })
	_ = gone.Close()
	waitFor(t, "second client removed", func() bool { return relay.ClientCount() == 1 })

	// a's readiness was dropped when the other client left, so a needs to announce again.
	if n := relay.ReadyCount(); n != 0 {
		t.Fatalf("expected no ready clients after a disconnect, got %d", n)
	}

	b := dialWS(t, url)
	readMessage(t, b)
	writeMessage(t, b, signalling.ReadyToConnectMessage{})
	waitFor(t, "b ready", func() bool { return relay.ReadyCount() == 1 })
	writeMessage(t, a, signalling.ReadyToConnectMessage{})

	if role, ok := readMessage(t, b).(signalling.RoleMessage); !ok || role.Role != signalling.RoleInitiator {
		t.Fatalf("expected b to be initiator, got %#v", role)
	}
	if role, ok := readMessage(t, a).(signalling.RoleMessage); !ok || role.Role != signalling.RoleResponder {
		t.Fatalf("expected a to be responder, got %#v", role)
	}
	if n := relay.ReadyCount(); n != 0 {
		t.Fatalf("expected ready list cleared after assignment, got %d", n)
	}
}

type fakeNegotiator struct {
	roles      chan negotiation.Role
	offers     chan string
	answers    chan string
	candidates chan signalling.ICECandidate

	readyOut      chan struct{}
	offersOut     chan string
	answersOut    chan string
	candidatesOut chan signalling.ICECandidate
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{
		roles:         make(chan negotiation.Role, 4),
		offers:        make(chan string, 4),
		answers:       make(chan string, 4),
		candidates:    make(chan signalling.ICECandidate, 4),
		readyOut:      make(chan struct{}, 4),
		offersOut:     make(chan string, 4),
		answersOut:    make(chan string, 4),
		candidatesOut: make(chan signalling.ICECandidate, 4),
	}
}

func (n *fakeNegotiator) OnRoleAssigned(role negotiation.Role)                { n.roles <- role }
func (n *fakeNegotiator) OnOfferReceived(sdp string)                          { n.offers <- sdp }
func (n *fakeNegotiator) OnAnswerReceived(sdp string)                         { n.answers <- sdp }
func (n *fakeNegotiator) OnICECandidateReceived(c signalling.ICECandidate)    { n.candidates <- c }
func (n *fakeNegotiator) ReadyToConnect() <-chan struct{}                     { return n.readyOut }
func (n *fakeNegotiator) OffersToSend() <-chan string                         { return n.offersOut }
func (n *fakeNegotiator) AnswersToSend() <-chan string                        { return n.answersOut }
func (n *fakeNegotiator) ICECandidatesToSend() <-chan signalling.ICECandidate { return n.candidatesOut }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for a value")
	}
	var zero T
	return zero
}

func startClient(t *testing.T, ctx context.Context, url string, n *fakeNegotiator) (*SignallingClient, <-chan error) {
	t.Helper()
	client, err := DialSignallingServer(ctx, url, "test client", discardLogger())
	if err != nil {
		t.Fatalf("DialSignallingServer: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, n) }()
	return client, done
}

func TestSignallingClientsNegotiateThroughRelay(t *testing.T) {
	relay, url := newRelayServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFakeNegotiator()
	b := newFakeNegotiator()
	_, doneA := startClient(t, ctx, url, a)
	_, doneB := startClient(t, ctx, url, b)

	a.readyOut <- struct{}{}
	waitFor(t, "a ready", func() bool { return relay.ReadyCount() == 1 })
	b.readyOut <- struct{}{}

	if role := receive(t, a.roles); role != negotiation.RoleInitiator {
		t.Fatalf("a got role %s", role)
	}
	if role := receive(t, b.roles); role != negotiation.RoleResponder {
		t.Fatalf("b got role %s", role)
	}

	a.offersOut <- "offer sdp"
	if got := receive(t, b.offers); got != "offer sdp" {
		t.Fatalf("b got offer %q", got)
	}
	b.answersOut <- "answer sdp"
	if got := receive(t, a.answers); got != "answer sdp" {
		t.Fatalf("a got answer %q", got)
	}

	mid := "0"
	index := uint16(0)
	sent := signalling.ICECandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &index}
	a.candidatesOut <- sent
	got := receive(t, b.candidates)
	if got.Candidate != sent.Candidate || got.SDPMid == nil || *got.SDPMid != mid || got.SDPMLineIndex == nil || *got.SDPMLineIndex != index {
		t.Fatalf("b got candidate %+v", got)
	}

	cancel()
	for _, done := range []<-chan error{doneA, doneB} {
		if err := receive(t, done); err != nil {
			t.Fatalf("expected nil after cancel, got %v", err)
		}
	}
}

func TestSignallingClientReportsServerDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hang up right after the client says hello
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, done := startClient(t, context.Background(), url, newFakeNegotiator())
	if err := receive(t, done); err == nil {
		t.Fatalf("expected an error once the server went away")
	}
}

func TestSignallingClientLeavesWhenNegotiatorStops(t *testing.T) {
	relay, url := newRelayServer(t)

	n := newFakeNegotiator()
	_, done := startClient(t, context.Background(), url, n)
	waitFor(t, "client registered", func() bool { return relay.ClientCount() == 1 })

	close(n.readyOut)
	close(n.offersOut)
	close(n.answersOut)
	close(n.candidatesOut)

	if err := receive(t, done); err != nil {
		t.Fatalf("expected nil once the negotiator stopped, got %v", err)
	}
	waitFor(t, "client removed", func() bool { return relay.ClientCount() == 0 })
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := DialSignallingServer(ctx, "ws://127.0.0.1:1/ws", "", discardLogger()); err == nil {
		t.Fatalf("expected dial error")
	}
}
