package controller

import (
	"context"
	"net/http"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWatchInterval = time.Second
	defaultWatchTimeout  = 10 * time.Minute
	writeWait            = 5 * time.Second
)

// StatusReader returns the current status projection.
type StatusReader interface {
	GetStatus(ctx context.Context, submissionID string) (model.StatusView, error)
}

// WatchConfig controls the websocket status stream.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// AllowedOrigins lists extra browser origins. Empty means same origin only.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// StatusWatcher pushes status changes over a websocket until the submission
// reaches a terminal status.
type StatusWatcher struct {
	reader   StatusReader
	interval time.Duration
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// NewStatusWatcher creates a watcher reading from reader.
func NewStatusWatcher(reader StatusReader, cfg WatchConfig) *StatusWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWatchInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWatchTimeout
	}
	w := &StatusWatcher{
		reader:   reader,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		w.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return w
}

// Watch upgrades the request and streams the status view on every change.
func (w *StatusWatcher) Watch(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Unauthorized(c, "Missing identity")
		return
	}
	ctx := c.Request.Context()
	view, err := w.reader.GetStatus(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeOwner(identity, view.UserID); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	// The client never sends data; reading only surfaces its close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	var last *model.StatusView
	for {
		if last == nil || changed(*last, view) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				logger.Debug(ctx, "websocket write failed", zap.Error(err))
				return
			}
			current := view
			last = &current
		}
		if view.Status.IsTerminal() {
			closeWith(conn, websocket.CloseNormalClosure, "final")
			return
		}

		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-deadline.C:
			closeWith(conn, websocket.CloseGoingAway, "watch timeout")
			return
		case <-ticker.C:
		}

		next, err := w.reader.GetStatus(ctx, submissionID)
		if err != nil {
			logger.Warn(ctx, "watch status read failed", zap.String("submission_id", submissionID), zap.Error(err))
			closeWith(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
		view = next
	}
}

func changed(a, b model.StatusView) bool {
	return a.Status != b.Status || a.PassedTests != b.PassedTests || a.TotalTests != b.TotalTests || a.Score != b.Score
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
