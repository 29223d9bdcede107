package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketstore/internal/cache"
	"marketstore/internal/cachesync"
	"marketstore/internal/config"
	"marketstore/internal/database"
	"marketstore/internal/economy"
	"marketstore/internal/events"
	"marketstore/internal/migration"
	"marketstore/internal/notify"
	"marketstore/internal/repository"
	"marketstore/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Total int `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type server struct {
	t      *testing.T
	mux    http.Handler
	ledger *economy.Ledger
	inbox  *notify.Inbox
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	pool, err := database.Open(ctx, database.Options{
		Type:              database.SQLite,
		DataDir:           t.TempDir(),
		ConnectionTimeout: 2 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store := repository.NewSQLHandler(pool, zap.NewNop())
	engine := migration.NewEngine(store, migration.Options{}, zap.NewNop())
	require.NoError(t, engine.Run(ctx))

	caches := cache.NewMarket()
	inbox := notify.NewInbox()
	ledger := economy.NewLedger("vault", decimal.Zero)
	bus := events.NewBus(zap.NewNop())
	t.Cleanup(bus.Close)

	sync, err := cachesync.New(cachesync.ModeLocal, cachesync.Options{Caches: caches, Store: store, Players: inbox})
	require.NoError(t, err)

	history := service.NewTransactionLogger(store, zap.NewNop())
	listings := service.NewListingService(service.ListingDeps{
		Store:      store,
		Caches:     caches,
		Propagator: sync,
		Currency:   ledger,
		Players:    inbox,
		History:    history,
		Events:     bus,
		Messages:   config.MessagesConfig{TooExpensive: "too expensive", DoesNotExist: "gone"},
		Log:        zap.NewNop(),
	})
	culler := service.NewCullScheduler(store, listings, service.CullConfig{Retention: time.Hour}, zap.NewNop())

	health := New(store, engine, "marketstore", "test")
	lh := NewListingHandler(listings, zap.NewNop())
	ph := NewPlayerHandler(listings, history, inbox, ledger, zap.NewNop())
	ah := NewAdminHandler(store, caches, sync, inbox, culler, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/api/v1/health", health.Health)
	r.Get("/api/v1/ready", health.Ready)
	r.Get("/api/status", health.Status)
	r.Route("/api/v1/listings", func(r chi.Router) {
		r.Get("/", lh.List)
		r.Post("/", lh.Create)
		r.Get("/{id}", lh.Get)
		r.Post("/{id}/purchase", lh.Purchase)
		r.Post("/{id}/cancel", lh.Cancel)
	})
	r.Route("/api/v1/players/{id}", func(r chi.Router) {
		r.Get("/collection-box", ph.CollectionBox)
		r.Get("/expired-items", ph.ExpiredItems)
		r.Post("/{container}/{item}/claim", ph.Claim)
		r.Put("/presence", ph.Join)
		r.Delete("/presence", ph.Leave)
		r.Get("/notifications", ph.Notifications)
		r.Get("/history", ph.History)
		r.Get("/balance", ph.Balance)
		r.Put("/balance", ph.SetBalance)
	})
	r.Get("/api/v1/admin/stats", ah.GetStats)
	r.Post("/api/v1/admin/cull", ah.Cull)

	return &server{t: t, mux: r, ledger: ledger, inbox: inbox}
}

func (s *server) do(method, path string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *server) create(owner uuid.UUID, price int) uuid.UUID {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/listings", map[string]any{
		"owner":      owner,
		"owner_name": "seller",
		"item":       "diamond_sword",
		"category":   "weapons",
		"price":      price,
		"tax":        10,
	})
	require.Equal(s.t, http.StatusCreated, code)
	var l struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &l))
	return l.ID
}

func TestPurchaseAndClaim(t *testing.T) {
	s := newServer(t)
	seller, buyer := uuid.New(), uuid.New()
	id := s.create(seller, 100)

	code, env := s.do(http.MethodGet, "/api/v1/listings", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	code, _ = s.do(http.MethodPut, "/api/v1/players/"+buyer.String()+"/balance", map[string]any{"balance": "150"})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, "/api/v1/listings/"+id.String()+"/purchase", map[string]any{"buyer": buyer})
	require.Equal(t, http.StatusOK, code)
	var receipt struct {
		Payout decimal.Decimal `json:"payout"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.True(t, receipt.Payout.Equal(decimal.NewFromInt(90)), receipt.Payout.String())
	assert.True(t, s.ledger.Balance(buyer).Equal(decimal.NewFromInt(50)))

	code, _ = s.do(http.MethodGet, "/api/v1/listings/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(http.MethodGet, "/api/v1/players/"+buyer.String()+"/collection-box", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, _ = s.do(http.MethodPost, "/api/v1/players/"+buyer.String()+"/collection-box/"+id.String()+"/claim", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodGet, "/api/v1/players/"+buyer.String()+"/collection-box", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Meta.Total)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = s.do(http.MethodGet, "/api/v1/players/"+buyer.String()+"/history", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, env.Meta.Total)
}

func TestPurchaseErrors(t *testing.T) {
	s := newServer(t)
	seller, buyer := uuid.New(), uuid.New()
	id := s.create(seller, 100)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"insufficient funds", "/api/v1/listings/" + id.String() + "/purchase", map[string]any{"buyer": buyer}, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS"},
		{"unknown listing", "/api/v1/listings/" + uuid.NewString() + "/purchase", map[string]any{"buyer": buyer}, http.StatusNotFound, "NOT_FOUND"},
		{"bad id", "/api/v1/listings/nope/purchase", map[string]any{"buyer": buyer}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing buyer", "/api/v1/listings/" + id.String() + "/purchase", map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", "/api/v1/listings/" + id.String() + "/purchase", map[string]any{"buyer": buyer, "x": 1}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantErr, env.Error.Code)
		})
	}

	// the listing survives every failed attempt
	code, _ := s.do(http.MethodGet, "/api/v1/listings/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateValidation(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/listings", map[string]any{"owner": uuid.New(), "price": 10})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)

	code, _ = s.do(http.MethodPost, "/api/v1/listings", map[string]any{
		"owner": uuid.New(), "item": "stone", "price": 10, "duration_hours": -1,
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancelReturnsItem(t *testing.T) {
	s := newServer(t)
	seller := uuid.New()
	id := s.create(seller, 100)
	s.inbox.Join(seller)

	code, _ := s.do(http.MethodPost, "/api/v1/listings/"+id.String()+"/cancel", map[string]any{"actor": seller})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodGet, "/api/v1/players/"+seller.String()+"/expired-items", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, env = s.do(http.MethodGet, "/api/v1/players/"+seller.String()+"/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, _ = s.do(http.MethodPost, "/api/v1/listings/"+id.String()+"/cancel", map[string]any{"actor": seller})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/players/"+seller.String()+"/attic/"+id.String()+"/claim", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPresence(t *testing.T) {
	s := newServer(t)
	player := uuid.New()

	code, _ := s.do(http.MethodPut, "/api/v1/players/"+player.String()+"/presence", nil)
	assert.Equal(t, http.StatusNoContent, code)
	assert.True(t, s.inbox.Online(player))

	code, _ = s.do(http.MethodDelete, "/api/v1/players/"+player.String()+"/presence", nil)
	assert.Equal(t, http.StatusNoContent, code)
	assert.False(t, s.inbox.Online(player))
}

func TestHealthAndAdmin(t *testing.T) {
	s := newServer(t)
	s.create(uuid.New(), 5)

	code, _ := s.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &ready))
	assert.True(t, ready.Ready)

	code, env = s.do(http.MethodGet, "/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		DBType   string `json:"db_type"`
		SyncMode string `json:"sync_mode"`
		Market   struct {
			Listings int `json:"listings"`
		} `json:"market"`
		Pool map[string]any   `json:"pool"`
		Rows map[string]int64 `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, "sqlite", stats.DBType)
	assert.Equal(t, "local", stats.SyncMode)
	assert.Equal(t, 1, stats.Market.Listings)
	assert.NotNil(t, stats.Pool)
	assert.Equal(t, int64(1), stats.Rows["market_listings"])
	assert.Equal(t, int64(0), stats.Rows["items"])

	code, _ = s.do(http.MethodPost, "/api/v1/admin/cull", nil)
	assert.Equal(t, http.StatusOK, code)
}

type stuck struct{}

func (stuck) State() migration.State { return migration.StateSchemaApplied }

type downStore struct{}

func (downStore) Ping(context.Context) error { return context.DeadlineExceeded }

func TestReadyNotReady(t *testing.T) {
	h := New(downStore{}, stuck{}, "marketstore", "test")
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SCHEMA_APPLIED")
}
