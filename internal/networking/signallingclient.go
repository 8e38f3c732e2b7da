package networking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc/pool"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
	"github.com/Honorable-Knights-of-the-Roundtable/peersession/pkg/signalling"
)

const (
	writeWait = 10 * time.Second

	// SDP with many candidates can get large, but nothing legitimate comes near this
	maxMessageBytes = 1 << 20
)

// Negotiator is the session the signalling client feeds. *negotiation.Session implements it.
type Negotiator interface {
	OnRoleAssigned(role negotiation.Role)
	OnOfferReceived(sdp string)
	OnAnswerReceived(sdp string)
	OnICECandidateReceived(candidate signalling.ICECandidate)

	ReadyToConnect() <-chan struct{}
	OffersToSend() <-chan string
	AnswersToSend() <-chan string
	ICECandidatesToSend() <-chan signalling.ICECandidate
}

// SignallingClient connects a Negotiator to the signalling server over a WebSocket.
//
// Messages from the server are decoded and handed to the negotiator; HelloMessages are
// only logged. Everything the negotiator wants to send is encoded and written to the socket.
type SignallingClient struct {
	logger *slog.Logger
	conn   *websocket.Conn
	hello  string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial the signalling server at url, e.g. "ws://localhost:8000/ws".
//
// If no logger is given, slog.Default() is used.
func DialSignallingServer(ctx context.Context, url string, hello string, logger *slog.Logger) (*SignallingClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error dialling signalling server %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	logger.Info("connected to signalling server", "url", url)
	return &SignallingClient{
		logger: logger,
		conn:   conn,
		hello:  hello,
	}, nil
}

// Run relays messages between the socket and the negotiator until ctx is done, the
// negotiator's streams are closed, or the socket fails.
//
// Returns nil if ctx was canceled or the negotiator shut down, otherwise the error
// that ended the connection. The socket is closed when Run returns.
func (c *SignallingClient) Run(ctx context.Context, negotiator Negotiator) error {
	defer c.Close()

	if err := c.Send(signalling.HelloMessage{Message: c.hello}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var negotiatorDone atomic.Bool

	p := pool.New().WithContext(runCtx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		err := c.forward(ctx, negotiator)
		if err == nil {
			c.logger.Info("negotiator shut down, leaving signalling server")
			negotiatorDone.Store(true)
			cancel()
		}
		return err
	})
	p.Go(func(ctx context.Context) error {
		return c.readLoop(negotiator)
	})
	p.Go(func(ctx context.Context) error {
		// Unblocks the read loop
		<-ctx.Done()
		c.Close()
		return nil
	})

	err := p.Wait()
	if ctx.Err() != nil || negotiatorDone.Load() {
		return nil
	}
	return err
}

// Send one message to the signalling server.
func (c *SignallingClient) Send(msg signalling.Message) error {
	text, err := signalling.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("error sending %s: %w", msg.Type(), err)
	}
	c.logger.Debug("sent signalling message", "type", msg.Type())
	return nil
}

func (c *SignallingClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// Write everything the negotiator produces to the socket.
// Returns nil once the negotiator's streams are closed.
func (c *SignallingClient) forward(ctx context.Context, negotiator Negotiator) error {
	ready := negotiator.ReadyToConnect()
	offers := negotiator.OffersToSend()
	answers := negotiator.AnswersToSend()
	candidates := negotiator.ICECandidatesToSend()

	for {
		var msg signalling.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ready:
			if !ok {
				return nil
			}
			msg = signalling.ReadyToConnectMessage{}
		case sdp, ok := <-offers:
			if !ok {
				return nil
			}
			data, err := signalling.EncodeSDP(sdp)
			if err != nil {
				return err
			}
			msg = signalling.OfferMessage{Data: data}
		case sdp, ok := <-answers:
			if !ok {
				return nil
			}
			data, err := signalling.EncodeSDP(sdp)
			if err != nil {
				return err
			}
			msg = signalling.AnswerMessage{Data: data}
		case candidate, ok := <-candidates:
			if !ok {
				return nil
			}
			data, err := signalling.EncodeCandidate(candidate)
			if err != nil {
				return err
			}
			msg = signalling.ICECandidateMessage{Data: data}
		}

		if err := c.Send(msg); err != nil {
			return err
		}
	}
}

func (c *SignallingClient) readLoop(negotiator Negotiator) error {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("signalling server closed the connection: %w", err)
			}
			return fmt.Errorf("error reading from signalling server: %w", err)
		}
		if msgType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text signalling message", "messageType", msgType)
			continue
		}

		msg, err := signalling.Decode(string(data))
		if err != nil {
			if errors.Is(err, signalling.ErrUnknownMessageType) {
				c.logger.Debug("ignoring unknown signalling message", "err", err)
			} else {
				c.logger.Warn("ignoring malformed signalling message", "err", err)
			}
			continue
		}
		c.dispatch(msg, negotiator)
	}
}

func (c *SignallingClient) dispatch(msg signalling.Message, negotiator Negotiator) {
	c.logger.Debug("received signalling message", "type", msg.Type())

	switch m := msg.(type) {
	case signalling.HelloMessage:
		c.logger.Info("hello from signalling server", "message", m.Message)
	case signalling.PeerConnectedMessage:
		c.logger.Info("remote peer is present")
	case signalling.ReadyToConnectMessage:
		c.logger.Debug("remote peer is ready to connect")
	case signalling.RoleMessage:
		role, err := negotiation.ParseRole(m.Role)
		if err != nil {
			c.logger.Error("invalid role from signalling server", "err", err)
		}
		negotiator.OnRoleAssigned(role)
	case signalling.OfferMessage:
		sdp, err := signalling.DecodeSDP(m.Data)
		if err != nil {
			c.logger.Warn("ignoring malformed offer", "err", err)
			return
		}
		negotiator.OnOfferReceived(sdp)
	case signalling.AnswerMessage:
		sdp, err := signalling.DecodeSDP(m.Data)
		if err != nil {
			c.logger.Warn("ignoring malformed answer", "err", err)
			return
		}
		negotiator.OnAnswerReceived(sdp)
	case signalling.ICECandidateMessage:
		candidate, err := signalling.DecodeCandidate(m.Data)
		if err != nil {
			c.logger.Warn("ignoring malformed ICE candidate", "err", err)
			return
		}
		negotiator.OnICECandidateReceived(candidate)
	}
}
