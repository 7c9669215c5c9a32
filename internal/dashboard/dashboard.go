// Package dashboard is an operator-facing, read-only status surface for
// the relay: current round numbers, connected client count, and recent
// blame events. It is not part of the core relay protocol; it is the
// ambient observability surface a production relay ships alongside its
// engine.
package dashboard

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator-local surface, not internet-facing
	},
}

// RoundSummary is the current snapshot of protocol progress served at
// /status and pushed over /stream on every update.
type RoundSummary struct {
	BaseRound        uint64    `json:"base_round"`
	BulkRound        uint64    `json:"bulk_round"`
	ConnectedClients int       `json:"connected_clients"`
	RecentBlames     []Blame   `json:"recent_blames"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Blame is one recorded blame-verification failure.
type Blame struct {
	Round uint64 `json:"round"`
	NID   uint64 `json:"nid"`
}

// maxRecentBlames bounds the in-memory ring buffer served at /status;
// the full history lives in internal/store when persistence is enabled.
const maxRecentBlames = 50

// subscriberQueueLen bounds each /stream subscriber's pending snapshots.
// A subscriber that falls further behind misses intermediate updates;
// every snapshot carries the full state, so the next delivered one
// catches it up.
const subscriberQueueLen = 16

// Server is the dashboard's mutable state plus its HTTP/websocket
// surface. Each /stream subscriber gets its own typed snapshot queue;
// protocol events fan the updated RoundSummary out to all of them.
type Server struct {
	mu               sync.Mutex
	baseRound        uint64
	bulkRound        uint64
	connectedClients int
	recentBlames     []Blame
	subs             map[*websocket.Conn]chan RoundSummary
}

// New creates a dashboard Server.
func New() *Server {
	return &Server{subs: make(map[*websocket.Conn]chan RoundSummary)}
}

// RecordBaseRound updates the observed base-round counter and pushes the
// new snapshot to subscribers.
func (d *Server) RecordBaseRound(round uint64) {
	d.mu.Lock()
	d.baseRound = round
	d.publishLocked()
	d.mu.Unlock()
}

// RecordBulkRound updates the observed bulk-round counter.
func (d *Server) RecordBulkRound(round uint64) {
	d.mu.Lock()
	d.bulkRound = round
	d.publishLocked()
	d.mu.Unlock()
}

// RecordBlameFailure appends a blame event to the recent-events ring
// buffer.
func (d *Server) RecordBlameFailure(round, nid uint64) {
	d.mu.Lock()
	d.recentBlames = append(d.recentBlames, Blame{Round: round, NID: nid})
	if len(d.recentBlames) > maxRecentBlames {
		d.recentBlames = d.recentBlames[len(d.recentBlames)-maxRecentBlames:]
	}
	d.publishLocked()
	d.mu.Unlock()
}

// SetConnectedClients records the reactor's current connection count.
func (d *Server) SetConnectedClients(n int) {
	d.mu.Lock()
	d.connectedClients = n
	d.publishLocked()
	d.mu.Unlock()
}

// Seed primes the in-memory snapshot from persisted audit history on
// startup, so /status reflects prior rounds immediately rather than
// resetting to zero while the relay works through round 1 again.
func (d *Server) Seed(baseRound, bulkRound uint64, blames []Blame) {
	d.mu.Lock()
	d.baseRound = baseRound
	d.bulkRound = bulkRound
	d.recentBlames = append([]Blame(nil), blames...)
	d.publishLocked()
	d.mu.Unlock()
}

func (d *Server) snapshotLocked() RoundSummary {
	blames := make([]Blame, len(d.recentBlames))
	copy(blames, d.recentBlames)
	return RoundSummary{
		BaseRound:        d.baseRound,
		BulkRound:        d.bulkRound,
		ConnectedClients: d.connectedClients,
		RecentBlames:     blames,
		UpdatedAt:        time.Now(),
	}
}

func (d *Server) snapshot() RoundSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// publishLocked fans the current snapshot out to every subscriber queue.
// Sends are non-blocking: a full queue means a slow subscriber, and
// skipping an update is safe because snapshots are cumulative. Callers
// hold d.mu, which also serializes against drop closing a queue.
func (d *Server) publishLocked() {
	snap := d.snapshotLocked()
	for _, q := range d.subs {
		select {
		case q <- snap:
		default:
		}
	}
}

// drop unsubscribes a /stream connection, closing its queue so the
// write loop drains and exits.
func (d *Server) drop(conn *websocket.Conn) {
	d.mu.Lock()
	if q, ok := d.subs[conn]; ok {
		delete(d.subs, conn)
		close(q)
	}
	d.mu.Unlock()
	conn.Close()
}

// stream upgrades a /stream request and registers it as a snapshot
// subscriber. Late joiners immediately receive the current state rather
// than waiting for the next protocol event.
func (d *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("dashboard: upgrading /stream subscriber: %v", err)
		return
	}
	q := make(chan RoundSummary, subscriberQueueLen)
	d.mu.Lock()
	d.subs[conn] = q
	q <- d.snapshotLocked()
	total := len(d.subs)
	d.mu.Unlock()
	log.Printf("dashboard: /stream subscriber connected, total %d", total)

	go d.writeLoop(conn, q)
	go d.readLoop(conn)
}

func (d *Server) writeLoop(conn *websocket.Conn, q chan RoundSummary) {
	for snap := range q {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			log.Printf("dashboard: writing status snapshot: %v", err)
			d.drop(conn)
			return
		}
	}
}

// readLoop exists only to observe the peer closing; subscribers never
// send anything meaningful upstream.
func (d *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("dashboard: /stream subscriber dropped: %v", err)
			}
			d.drop(conn)
			return
		}
	}
}

// Router builds the gin engine serving /healthz, /status, and /stream.
func (d *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.snapshot())
	})
	r.GET("/stream", d.stream)
	return r
}
