package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/middleware"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
	"github.com/gluk-w/claworc/sftpsync/internal/transferqueue"
)

// ConnectionPool is the connection manager surface the API exposes.
type ConnectionPool interface {
	GetConnectionStatus() []sftpconn.Status
	ConnectionStatus(key remote.Key) (sftpconn.Status, bool)
	EventHistory(key remote.Key) []sftpconn.ConnectionEvent
	CloseConnection(key remote.Key) error
	TrustHostKeyNow(ctx context.Context, srv remote.Server) (string, error)
}

// TrustStore administers trusted host keys.
type TrustStore interface {
	ListEntries() []hosttrust.Entry
	RemoveTrust(host string, port int) (bool, error)
}

// QueueStats reports transfer queue occupancy.
type QueueStats interface {
	Stats() transferqueue.Stats
}

// TransferAudit queries recorded transfers.
type TransferAudit interface {
	Query(opts transferlog.QueryOptions) (*transferlog.QueryResult, error)
}

// API holds the dependencies of the admin HTTP handlers. Audit and DB may be
// nil.
type API struct {
	Pool    ConnectionPool
	Trust   TrustStore
	Queue   QueueStats
	Audit   TransferAudit
	DB      *gorm.DB
	Servers []remote.Server
	LogPath string
	Logger  *zap.Logger
}

// Router builds the admin API. token protects /api/v1 when non-empty.
func (a *API) Router(token string) http.Handler {
	log := a.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "handlers"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/health", a.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(token))

		r.Get("/connections", a.ListConnections)
		r.Get("/connections/{key}", a.GetConnection)
		r.Get("/connections/{key}/events", a.GetConnectionEvents)
		r.Delete("/connections/{key}", a.CloseConnection)

		r.Get("/queue", a.GetQueueStats)

		r.Get("/hosts", a.ListTrustedHosts)
		r.Post("/hosts/{server}/trust", a.TrustHost)
		r.Delete("/hosts/{host}/{port}", a.UntrustHost)

		r.Get("/transfers", a.ListTransfers)
		r.Get("/logs", a.GetServerLogs)
	})
	return r
}
