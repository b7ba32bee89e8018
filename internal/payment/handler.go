package payment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/grocerflow/internal/auth"
	"github.com/joao-fontenele/grocerflow/internal/domain"
	"github.com/joao-fontenele/grocerflow/internal/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type initiateRequest struct {
	OrderID     int64  `json:"order_id" validate:"required,gt=0"`
	PhoneNumber string `json:"phone_number" validate:"required,numeric,min=10,max=12"`
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, domain.Unauthorized("missing principal"))
		return
	}

	var req initiateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	payment, err := h.service.Initiate(r.Context(), p, req.OrderID, req.PhoneNumber)
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			httpx.WriteStatus(w, h.logger, http.StatusBadGateway, err.Error())
			return
		}
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, payment)
}

type callbackRequest struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID" validate:"required"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	cb := req.Body.STKCallback
	if err := h.service.HandleOutcome(r.Context(), Outcome{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
