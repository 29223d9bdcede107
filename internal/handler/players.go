package handler

import (
	"net/http"

	"marketstore/internal/economy"
	"marketstore/internal/model"
	"marketstore/internal/notify"
	"marketstore/internal/service"
	"marketstore/pkg/apierror"
	"marketstore/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlayerHandler serves a player's containers, presence, inbox and balance.
type PlayerHandler struct {
	listings *service.ListingService
	history  *service.TransactionLogger
	inbox    *notify.Inbox
	ledger   *economy.Ledger
	log      *zap.Logger
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(
	listings *service.ListingService,
	history *service.TransactionLogger,
	inbox *notify.Inbox,
	ledger *economy.Ledger,
	log *zap.Logger,
) *PlayerHandler {
	return &PlayerHandler{
		listings: listings,
		history:  history,
		inbox:    inbox,
		ledger:   ledger,
		log:      log,
	}
}

// CollectionBox handles GET /api/v1/players/{id}/collection-box
func (h *PlayerHandler) CollectionBox(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	box := h.listings.CollectionBox(player)
	response.List(w, nonNil(box.Items), len(box.Items))
}

// ExpiredItems handles GET /api/v1/players/{id}/expired-items
func (h *PlayerHandler) ExpiredItems(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	expired := h.listings.ExpiredItems(player)
	response.List(w, nonNil(expired.Items), len(expired.Items))
}

// Claim handles POST /api/v1/players/{id}/{container}/{item}/claim
func (h *PlayerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	item, err := uuidParam(r, "item")
	if err != nil {
		response.Error(w, err)
		return
	}
	c, err := model.ParseContainer(chi.URLParam(r, "container"))
	if err != nil {
		response.Error(w, apierror.NotFound(err.Error()))
		return
	}

	claimed, err := h.listings.Claim(r.Context(), player, c, item)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.OK(w, claimed)
}

// Join handles PUT /api/v1/players/{id}/presence
func (h *PlayerHandler) Join(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	h.inbox.Join(player)
	response.NoContent(w)
}

// Leave handles DELETE /api/v1/players/{id}/presence
func (h *PlayerHandler) Leave(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	h.inbox.Leave(player)
	response.NoContent(w)
}

// Notifications handles GET /api/v1/players/{id}/notifications
func (h *PlayerHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	msgs := h.inbox.Drain(player)
	response.List(w, nonNil(msgs), len(msgs))
}

// History handles GET /api/v1/players/{id}/history
func (h *PlayerHandler) History(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	hist, err := h.history.For(r.Context(), player)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.List(w, nonNil(hist.Entries), len(hist.Entries))
}

// BalanceResponse reports a player's funds in the market currency.
type BalanceResponse struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// SetBalanceRequest is the body of PUT /api/v1/players/{id}/balance.
type SetBalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// Balance handles GET /api/v1/players/{id}/balance
func (h *PlayerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, BalanceResponse{Currency: h.ledger.ID(), Balance: h.ledger.Balance(player)})
}

// SetBalance handles PUT /api/v1/players/{id}/balance
func (h *PlayerHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	player, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var req SetBalanceRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Balance.IsNegative() {
		response.Error(w, apierror.ValidationError("invalid balance",
			apierror.FieldError{Field: "balance", Message: "must not be negative"}))
		return
	}
	h.ledger.SetBalance(player, req.Balance)
	response.OK(w, BalanceResponse{Currency: h.ledger.ID(), Balance: h.ledger.Balance(player)})
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
