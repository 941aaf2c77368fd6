package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/swapclient/pkg/logging"
)

const (
	updateChannel = "swap.update"
	writeWait     = 10 * time.Second
)

// ErrNoStream is returned when no WebSocket URL is configured.
var ErrNoStream = errors.New("coordinator push stream not configured")

type wsRequest struct {
	ID      string   `json:"id"`
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Args    []string `json:"args"`
}

type wsEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Args    json.RawMessage `json:"args"`
}

// Stream delivers pushed swap status updates.
type Stream struct {
	conn    *websocket.Conn
	updates chan StatusUpdate
	log     *logging.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// SubscribeSwapUpdates opens the push stream and subscribes to ids. The
// stream closes when ctx is done or the connection drops; Updates is then
// closed.
func (c *HTTPClient) SubscribeSwapUpdates(ctx context.Context, ids ...string) (*Stream, error) {
	if c.wsURL == "" {
		return nil, ErrNoStream
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.timeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	s := &Stream{
		conn:    conn,
		updates: make(chan StatusUpdate, 64),
		log:     c.log,
		done:    make(chan struct{}),
	}
	go s.read(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	if len(ids) > 0 {
		if err := s.Subscribe(ids...); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Updates returns the channel of pushed updates.
func (s *Stream) Updates() <-chan StatusUpdate {
	return s.updates
}

// Subscribe adds swaps to the stream.
func (s *Stream) Subscribe(ids ...string) error {
	return s.write(wsRequest{ID: uuid.NewString(), Op: "subscribe", Channel: updateChannel, Args: ids})
}

// Unsubscribe removes swaps from the stream.
func (s *Stream) Unsubscribe(ids ...string) error {
	return s.write(wsRequest{ID: uuid.NewString(), Op: "unsubscribe", Channel: updateChannel, Args: ids})
}

func (s *Stream) write(msg wsRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%s %v: %w", msg.Op, msg.Args, err)
	}
	return nil
}

// Close closes the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) read(ctx context.Context) {
	defer close(s.updates)
	defer s.Close()

	for {
		var ev wsEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				s.log.Warn("Malformed push message", "error", err)
				continue
			}
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Warn("Push stream closed", "error", err)
				}
			}
			return
		}
		if ev.Event != "update" || ev.Channel != updateChannel {
			continue
		}

		var updates []StatusUpdate
		if err := json.Unmarshal(ev.Args, &updates); err != nil {
			s.log.Warn("Malformed status update", "error", err)
			continue
		}
		for _, u := range updates {
			select {
			case s.updates <- u:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}
