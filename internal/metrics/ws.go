// =============================================================================
// 文件: internal/metrics/ws.go
// 描述: WebSocket 实时统计推送 - 周期性向订阅端广播统计快照
// =============================================================================

package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mrcgq/233/internal/dispatcher"
	"github.com/mrcgq/233/internal/timewait"
)

// StatsSnapshot 推送给订阅端的统计快照
type StatsSnapshot struct {
	Timestamp  int64             `json:"timestamp"`
	TimeWait   *timewait.Stats   `json:"time_wait,omitempty"`
	Dispatcher *dispatcher.Stats `json:"dispatcher,omitempty"`
}

// statsHub 管理 WebSocket 订阅端并周期性广播快照
type statsHub struct {
	tw       TimeWaitStatsProvider
	dp       DispatcherStatsProvider
	interval time.Duration
	log      *logrus.Entry

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	done    chan struct{}
	once    sync.Once
}

func newStatsHub(tw TimeWaitStatsProvider, dp DispatcherStatsProvider, interval time.Duration, log *logrus.Logger) *statsHub {
	return &statsHub{
		tw:       tw,
		dp:       dp,
		interval: interval,
		log:      log.WithField("component", "statsws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 仅用于本机调试端口，不做来源校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// start 启动广播循环
func (h *statsHub) start() {
	go h.broadcastLoop()
}

// stop 停止广播并断开所有订阅端
func (h *statsHub) stop() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// handleWS 处理订阅端接入
func (h *statsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket 升级失败")
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"remote":  conn.RemoteAddr().String(),
		"clients": n,
	}).Debug("订阅端接入")

	// 读循环只用于感知对端关闭，推送数据全部由广播循环完成
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *statsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *statsHub) broadcastLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *statsHub) broadcast() {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	snap := StatsSnapshot{Timestamp: time.Now().UnixMilli()}
	if h.tw != nil {
		s := h.tw.GetStats()
		snap.TimeWait = &s
	}
	if h.dp != nil {
		s := h.dp.GetStats()
		snap.Dispatcher = &s
	}

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			h.remove(conn)
		}
	}
}
