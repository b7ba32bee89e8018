package orders

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

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

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.logger, domain.Unauthorized("missing principal"))
	}
	return p, ok
}

type createOrderRequest struct {
	CustomerID         int64                `json:"customer_id"`
	Items              []domain.StockItem   `json:"items" validate:"omitempty,dive"`
	ProductIDs         []int64              `json:"product_ids" validate:"omitempty,dive,gt=0"`
	PaymentMethod      domain.PaymentMethod `json:"payment_method"`
	PaymentStatus      domain.PaymentStatus `json:"payment_status"`
	DeliveryScheduleAt domain.Date          `json:"delivery_schedule_at"`
	TaxAmount          decimal.Decimal      `json:"tax_amount"`
	TotalAmount        *decimal.Decimal     `json:"total_amount"`
	StoreID            *int64               `json:"store_id"`
	DeliveryAddressID  *int64               `json:"delivery_address_id"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	customerID := req.CustomerID
	if p.Role == domain.RoleCustomer {
		if customerID != 0 && customerID != p.ID {
			httpx.WriteError(w, r, h.logger, domain.Forbidden("Customers can only order for themselves"))
			return
		}
		customerID = p.ID
	}

	items := req.Items
	for _, id := range req.ProductIDs {
		items = append(items, domain.StockItem{ProductID: id, Quantity: 1})
	}

	order, err := h.service.CreateOrder(r.Context(), CreateInput{
		CustomerID:        customerID,
		Items:             items,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     req.PaymentStatus,
		DeliverySchedule:  req.DeliveryScheduleAt,
		TaxAmount:         req.TaxAmount,
		TotalAmount:       req.TotalAmount,
		StoreID:           req.StoreID,
		DeliveryAddressID: req.DeliveryAddressID,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.GetOrder(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), p, filter)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	httpx.WriteJSON(w, h.logger, http.StatusOK, orders)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter

	if v := q.Get("status"); v != "" {
		st, err := domain.ParseOrderStatus(v)
		if err != nil {
			return Filter{}, err
		}
		f.Status = &st
	}
	if v := q.Get("delivery_date"); v != "" {
		d, err := domain.ParseScheduleDate(v)
		if err != nil {
			return Filter{}, err
		}
		f.DeliveryDate = &d
	}

	for name, dst := range map[string]**int64{
		"customer_id": &f.CustomerID,
		"driver_id":   &f.DriverID,
		"store_id":    &f.StoreID,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return Filter{}, domain.BadRequest("invalid " + name + " " + strconv.Quote(v))
		}
		*dst = &id
	}
	return f, nil
}

func (h *Handler) HandleAssignStore(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	storeID, err := httpx.PathID(r, "storeId")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.AssignStore(r.Context(), p, id, storeID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleAssignDriver(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	driverID, err := httpx.PathID(r, "driverId")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.AssignDriver(r.Context(), p, id, driverID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req updateStatusRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), p, id, req.Status)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type updateOrderRequest struct {
	DeliveryAddressID  *int64                `json:"delivery_address_id"`
	StoreID            *int64                `json:"store_id"`
	TaxAmount          *decimal.Decimal      `json:"tax_amount"`
	PaymentMethod      *domain.PaymentMethod `json:"payment_method"`
	PaymentStatus      *domain.PaymentStatus `json:"payment_status"`
	DeliveryScheduleAt *domain.Date          `json:"delivery_schedule_at"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	var req updateOrderRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	order, err := h.service.UpdateOrder(r.Context(), p, id, Patch{
		DeliveryAddressID: req.DeliveryAddressID,
		StoreID:           req.StoreID,
		TaxAmount:         req.TaxAmount,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     req.PaymentStatus,
		DeliverySchedule:  req.DeliveryScheduleAt,
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	if _, err := h.service.CancelOrder(r.Context(), p, id); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteMessage(w, h.logger, http.StatusOK, "Order cancelled successfully")
}
