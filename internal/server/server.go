package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/madisonstylee/thetidytoad-sub000/internal/config"
	"github.com/madisonstylee/thetidytoad-sub000/internal/handler"
	"github.com/madisonstylee/thetidytoad-sub000/internal/ledger"
	"github.com/madisonstylee/thetidytoad-sub000/internal/middleware"
	"github.com/madisonstylee/thetidytoad-sub000/internal/notify"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
	"github.com/madisonstylee/thetidytoad-sub000/internal/task"
	ws "github.com/madisonstylee/thetidytoad-sub000/internal/websocket"
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	familyH      *handler.FamilyHandler
	taskH        *handler.TaskHandler
	ledgerH      *handler.LedgerHandler
	pushH        *handler.PushHandler
	sessionStore *store.SessionStore
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	familyStore := store.NewFamilyStore(db)
	taskStore := store.NewTaskStore(db)
	ledgerStore := store.NewLedgerStore(db)
	sessionStore := store.NewSessionStore(db)
	pushStore := store.NewPushStore(db)

	// Notifications: webpush when VAPID keys are configured, log otherwise.
	var dispatcher notify.Dispatcher
	var webpushDisp *notify.WebPushDispatcher
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		webpushDisp = notify.NewWebPushDispatcher(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, pushStore, logger.With("component", "push"))
		dispatcher = webpushDisp
	} else {
		dispatcher = &notify.LogDispatcher{Logger: logger.With("component", "notify")}
	}

	engine := ledger.NewEngine(ledgerStore, familyStore, dispatcher, logger.With("component", "ledger"))
	manager := task.NewManager(taskStore, familyStore, engine, dispatcher, logger.With("component", "task"))

	return &Server{
		db:           db,
		hub:          hub,
		authH:        handler.NewAuthHandler(familyStore, sessionStore, logger.With("component", "auth")),
		familyH:      handler.NewFamilyHandler(familyStore, hub, logger.With("component", "family")),
		taskH:        handler.NewTaskHandler(manager, hub, logger.With("component", "task")),
		ledgerH:      handler.NewLedgerHandler(engine, hub, logger.With("component", "ledger")),
		pushH:        handler.NewPushHandler(pushStore, webpushDisp, logger.With("component", "push")),
		sessionStore: sessionStore,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// StartMaintenance sweeps expired sessions and stale rate limit entries until
// ctx is cancelled.
func (s *Server) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sessionStore.DeleteExpired(); err != nil {
				s.logger.Error("delete expired sessions", "error", err)
			}
			s.rateLimiter.Cleanup()
		}
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("POST /login/child", s.rateLimitedHandler(s.authH.ChildLogin))

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	protected := middleware.RequireActor(s.sessionStore)(protectedMux)
	outerMux.Handle("/", protected)

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Children (parent-only management)
	mux.Handle("POST /api/children", middleware.RequireParent(http.HandlerFunc(s.familyH.CreateChild)))
	mux.HandleFunc("GET /api/children", s.familyH.ListChildren)
	mux.HandleFunc("GET /api/children/{id}", s.familyH.GetChild)
	mux.Handle("DELETE /api/children/{id}", middleware.RequireParent(http.HandlerFunc(s.familyH.DeleteChild)))
	mux.Handle("POST /api/children/{id}/pin", middleware.RequireParent(http.HandlerFunc(s.familyH.SetPIN)))

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.taskH.Complete)
	mux.HandleFunc("POST /api/tasks/{id}/approve", s.taskH.Approve)

	// Ribbit Reserve
	mux.HandleFunc("GET /api/children/{childID}/ledger", s.ledgerH.Get)
	mux.HandleFunc("POST /api/children/{childID}/ledger/dispense-money", s.ledgerH.DispenseMoney)
	mux.HandleFunc("POST /api/children/{childID}/ledger/dispense-points", s.ledgerH.DispensePoints)
	mux.HandleFunc("POST /api/children/{childID}/ledger/interest-rate", s.ledgerH.SetInterestRate)
	mux.HandleFunc("POST /api/children/{childID}/ledger/apply-interest", s.ledgerH.ApplyInterest)
	mux.HandleFunc("POST /api/children/{childID}/rewards", s.ledgerH.GrantSpecial)
	mux.HandleFunc("POST /api/children/{childID}/rewards/{rewardID}/dispense", s.ledgerH.DispenseSpecial)
	mux.HandleFunc("POST /api/children/{childID}/rewards/{rewardID}/request-redemption", s.ledgerH.RequestRedemption)
	mux.HandleFunc("POST /api/children/{childID}/rewards/{rewardID}/approve-redemption", s.ledgerH.ApproveRedemption)

	// Push subscriptions
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDPublicKey)
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)

	// Real-time updates
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// rateLimitedHandler wraps login-type endpoints with a per-IP limit.
func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)(h)
	return limited.ServeHTTP
}
