package api

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/combat-score-engine/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboard
	},
}

const pingInterval = 30 * time.Second

// wsSink adapts one websocket connection to bus.Sink, the same
// write-deadline-then-evict shape as the teacher's Hub.Run loop,
// generalized from one shared broadcast channel to one sink per
// connection. Subscribe registers that sink once for each requested topic,
// and the Bus tracks delivery/drop/eviction for each of those
// subscriptions separately.
//
// A subscriber on a quiet topic can go stale without any Deliver call ever
// failing, so a background ticker writes a ping frame every pingInterval;
// a failed ping marks the sink dead for the Bus's periodic Sweep to collect.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
	dead atomic.Bool
}

func newWSSink(conn *websocket.Conn) *wsSink {
	s := &wsSink{conn: conn}
	go s.pingLoop()
	return s
}

func (s *wsSink) Deliver(msg bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.dead.Store(true)
		return err
	}
	return nil
}

func (s *wsSink) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if s.dead.Load() {
			return
		}
		s.mu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := s.conn.WriteMessage(websocket.PingMessage, nil)
		s.mu.Unlock()
		if err != nil {
			s.dead.Store(true)
			return
		}
	}
}

// IsDead reports whether the underlying connection has failed a write.
// Checked by cmd/engine's periodic bus.Sweep call.
func (s *wsSink) IsDead() bool {
	return s.dead.Load()
}

// Subscribe upgrades the connection and subscribes it to every topic named
// in the ?topics= query parameter (comma-separated; defaults to all four)
// for the bout named by the :boutId path parameter (or ?bout_id= when the
// path has none). The connection is unsubscribed from every topic when the
// client disconnects.
func Subscribe(fanout *bus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		boutID := c.Param("boutId")
		if boutID == "" {
			boutID = c.Query("bout_id")
		}
		if boutID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bout_id is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade websocket: %v", err)
			return
		}

		sink := newWSSink(conn)
		topics := requestedTopics(c.Query("topics"))
		subs := make([]bus.Subscription, 0, len(topics))
		for _, topic := range topics {
			subs = append(subs, fanout.Subscribe(boutID, topic, sink))
		}

		log.Printf("New WebSocket subscriber on bout %s (%d topics)", boutID, len(topics))

		go func() {
			defer func() {
				for _, sub := range subs {
					fanout.Unsubscribe(sub)
				}
				conn.Close()
				log.Printf("WebSocket subscriber on bout %s disconnected", boutID)
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						log.Printf("WebSocket error: %v", err)
					}
					break
				}
			}
		}()
	}
}

func requestedTopics(raw string) []bus.Topic {
	all := []bus.Topic{bus.TopicCVEvents, bus.TopicJudgeEvents, bus.TopicScoreUpdates, bus.TopicLifecycle}
	if raw == "" {
		return all
	}
	requested := make(map[string]bool)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				requested[raw[start:i]] = true
			}
			start = i + 1
		}
	}
	var out []bus.Topic
	for _, topic := range all {
		if requested[string(topic)] {
			out = append(out, topic)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
