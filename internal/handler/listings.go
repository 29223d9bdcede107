package handler

import (
	"net/http"
	"time"

	"marketstore/internal/model"
	"marketstore/internal/service"
	"marketstore/pkg/apierror"
	"marketstore/pkg/response"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListingHandler handles listing-related HTTP requests.
type ListingHandler struct {
	listings *service.ListingService
	log      *zap.Logger
}

// NewListingHandler creates a new listing handler.
func NewListingHandler(listings *service.ListingService, log *zap.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, log: log}
}

// CreateListingRequest is the body of POST /api/v1/listings.
type CreateListingRequest struct {
	Owner     uuid.UUID       `json:"owner"`
	OwnerName string          `json:"owner_name"`
	Item      string          `json:"item"`
	Category  string          `json:"category"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	Tax       decimal.Decimal `json:"tax"`
	// DurationHours overrides the default listing lifetime.
	DurationHours int  `json:"duration_hours"`
	Biddable      bool `json:"biddable"`
}

// PurchaseRequest is the body of POST /api/v1/listings/{id}/purchase.
type PurchaseRequest struct {
	Buyer uuid.UUID `json:"buyer"`
}

// CancelRequest is the body of POST /api/v1/listings/{id}/cancel.
type CancelRequest struct {
	Actor uuid.UUID `json:"actor"`
}

// List handles GET /api/v1/listings
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	listings := h.listings.Listings()
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := listings[:0]
		for _, l := range listings {
			if l.Category == category {
				filtered = append(filtered, l)
			}
		}
		listings = filtered
	}
	response.List(w, listings, len(listings))
}

// Get handles GET /api/v1/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	l, err := h.listings.Get(id)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.OK(w, l)
}

// Create handles POST /api/v1/listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.DurationHours < 0 {
		response.Error(w, apierror.ValidationError("invalid duration",
			apierror.FieldError{Field: "duration_hours", Message: "must not be negative"}))
		return
	}

	l := model.Listing{
		Owner:     req.Owner,
		OwnerName: req.OwnerName,
		Item:      req.Item,
		Category:  req.Category,
		Currency:  req.Currency,
		Price:     req.Price,
		Tax:       req.Tax,
		Biddable:  req.Biddable,
	}
	if req.DurationHours > 0 {
		l.CreationDate = time.Now().UnixMilli()
		l.DeletionDate = l.CreationDate + (time.Duration(req.DurationHours) * time.Hour).Milliseconds()
	}

	created, err := h.listings.Create(r.Context(), l)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.Created(w, created)
}

// Purchase handles POST /api/v1/listings/{id}/purchase
func (h *ListingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var req PurchaseRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Buyer == uuid.Nil {
		response.Error(w, apierror.ValidationError("buyer is required",
			apierror.FieldError{Field: "buyer", Message: "required"}))
		return
	}

	receipt, err := h.listings.Purchase(r.Context(), id, req.Buyer)
	if err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.OK(w, receipt)
}

// Cancel handles POST /api/v1/listings/{id}/cancel
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		response.Error(w, err)
		return
	}
	var req CancelRequest
	if err := decode(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Actor == uuid.Nil {
		response.Error(w, apierror.ValidationError("actor is required",
			apierror.FieldError{Field: "actor", Message: "required"}))
		return
	}

	if err := h.listings.Cancel(r.Context(), id, req.Actor); err != nil {
		fail(w, r, h.log, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"status":     "cancelled",
		"listing_id": id,
	})
}
