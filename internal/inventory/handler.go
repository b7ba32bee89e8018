package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/httpx"
)

type StockService interface {
	GetStock(ctx context.Context, productID int64) (domain.StockLevel, error)
	DecrementStock(ctx context.Context, items []domain.StockItem) error
	RemoveProduct(ctx context.Context, productID int64) error
}

type Handler struct {
	stock  StockService
	logger *slog.Logger
}

func NewHandler(stock StockService, logger *slog.Logger) *Handler {
	return &Handler{
		stock:  stock,
		logger: logger,
	}
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	level, err := h.stock.GetStock(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("stock retrieved", "product_id", id)
	httpx.WriteJSON(w, h.logger, http.StatusOK, level)
}

type decrementRequest struct {
	Items []domain.StockItem `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) HandleDecrement(w http.ResponseWriter, r *http.Request) {
	var req decrementRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.stock.DecrementStock(r.Context(), req.Items); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("stock decremented", "items", len(req.Items))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.stock.RemoveProduct(r.Context(), id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("product removed", "product_id", id)
	httpx.WriteMessage(w, h.logger, http.StatusOK, "Product removed successfully")
}
