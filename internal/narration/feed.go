package narration

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPingPeriod = 30 * time.Second
)

// FeedMessage is one websocket frame sent to log viewers.
type FeedMessage struct {
	Kind    string                  `json:"kind"` // snapshot | entry
	Entries []domain.NarrationEntry `json:"entries"`
}

// Feed streams a Log to websocket clients: a snapshot (newest first) on
// connect, then one frame per appended entry.
type Feed struct {
	log      *Log
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewFeed(log *Log, logger *slog.Logger) *Feed {
	return &Feed{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.Component(logger, "narration_feed"),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("narration feed upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	snapshot, updates, cancel := f.log.Subscribe(0)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := f.write(conn, FeedMessage{Kind: "snapshot", Entries: snapshot}); err != nil {
		return
	}

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(feedWriteWait))
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			if err := f.write(conn, FeedMessage{Kind: "entry", Entries: []domain.NarrationEntry{entry}}); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					f.logger.Debug("narration feed write failed", slog.Any("error", err))
				}
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

func (f *Feed) write(conn *websocket.Conn, msg FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteJSON(msg)
}
