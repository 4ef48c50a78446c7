package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"github.com/fjod/go_cart/techstore-cart/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// CartService is the part of service.CartService the handlers call.
type CartService interface {
	GetCart(ctx context.Context, id service.Identity) (*service.CartView, error)
	AddItem(ctx context.Context, id service.Identity, productID string, quantity int) (*service.MutationResult, error)
	UpdateQuantity(ctx context.Context, id service.Identity, productID string, quantity int) (*service.MutationResult, error)
	RemoveItem(ctx context.Context, id service.Identity, productID string) (*service.CartView, error)
	ClearCart(ctx context.Context, id service.Identity) (*service.CartView, error)
	MergeOnLogin(ctx context.Context, userID, sessionID string) (*service.CartView, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	logger  *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, logger *slog.Logger) *CartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		logger:  logger,
	}
}

type ItemRequestDTO struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type CartItemDTO struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
}

type CartDTO struct {
	ID          string        `json:"_id,omitempty"`
	UserID      string        `json:"userId,omitempty"`
	SessionID   string        `json:"sessionId,omitempty"`
	Items       []CartItemDTO `json:"items"`
	TotalAmount json.Number   `json:"totalAmount"`
	CreatedAt   *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time    `json:"updatedAt,omitempty"`
}

type CartResponse struct {
	Message string  `json:"message,omitempty"`
	Cart    CartDTO `json:"cart"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// GET /cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.GetCart(ctx, identityFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, convertCartView(view))
}

// POST /cart/add
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}
	quantity := 1
	if req.Quantity != nil && *req.Quantity != 0 {
		quantity = *req.Quantity
	}
	if quantity < 1 || quantity > domain.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("quantity must be between 1 and %d", domain.MaxLineQuantity))
		return
	}

	res, err := h.carts.AddItem(ctx, identityFromContext(r.Context()), productID, quantity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	message := "Item added to cart"
	if res.Adjusted {
		message = fmt.Sprintf("Only %d in stock, quantity adjusted", res.Quantity)
	}
	respondJSON(w, http.StatusOK, CartResponse{Message: message, Cart: convertCartView(res.Cart)})
}

// PUT /cart/update
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}
	// 0 removes the line.
	if req.Quantity == nil || *req.Quantity < 0 || *req.Quantity > domain.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("quantity must be between 0 and %d", domain.MaxLineQuantity))
		return
	}

	res, err := h.carts.UpdateQuantity(ctx, identityFromContext(r.Context()), productID, *req.Quantity)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var message string
	if res.Adjusted {
		message = fmt.Sprintf("Only %d in stock, quantity adjusted", res.Quantity)
	}
	respondJSON(w, http.StatusOK, CartResponse{Message: message, Cart: convertCartView(res.Cart)})
}

// DELETE /cart/remove/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}

	view, err := h.carts.RemoveItem(ctx, identityFromContext(r.Context()), productID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponse{Cart: convertCartView(view)})
}

// DELETE /cart/clear
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.ClearCart(ctx, identityFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponse{Cart: convertCartView(view)})
}

// POST /cart/merge is called by the auth flow right after login or
// registration, with both the new bearer token and the old session header.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFromContext(r.Context())
	if id.UserID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	if id.SessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", SessionHeader+" header is required")
		return
	}

	view, err := h.carts.MergeOnLogin(ctx, id.UserID, id.SessionID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponse{Message: "Cart merged", Cart: convertCartView(view)})
}

func convertCartView(v *service.CartView) CartDTO {
	dto := CartDTO{
		ID:          v.ID,
		Items:       make([]CartItemDTO, 0, len(v.Items)),
		TotalAmount: decimalNumber(v.TotalAmount),
	}
	if v.Owner.IsUser() {
		dto.UserID = v.Owner.ID()
	} else if v.Owner.IsSession() {
		dto.SessionID = v.Owner.ID()
	}
	if !v.CreatedAt.IsZero() {
		dto.CreatedAt = &v.CreatedAt
	}
	if !v.UpdatedAt.IsZero() {
		dto.UpdatedAt = &v.UpdatedAt
	}
	for _, line := range v.Items {
		dto.Items = append(dto.Items, CartItemDTO{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     decimalNumber(line.Price),
		})
	}
	return dto
}

func decimalNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Message: message,
		Code:    code,
	})
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product not found")
	case errors.Is(err, domain.ErrOutOfStock):
		respondError(w, http.StatusConflict, "out_of_stock", err.Error())
	case errors.Is(err, domain.ErrItemNotInCart):
		respondError(w, http.StatusNotFound, "item_not_in_cart", "item not in cart")
	case errors.Is(err, domain.ErrMissingIdentity):
		respondError(w, http.StatusBadRequest, "missing_identity", "either a bearer token or "+SessionHeader+" is required")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.logger.Error("cart request failed",
			slog.String("request_id", getRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
