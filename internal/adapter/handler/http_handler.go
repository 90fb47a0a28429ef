package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/opetsoft/workshop-core/internal/core/domain"
	"github.com/opetsoft/workshop-core/internal/core/service"
	"github.com/opetsoft/workshop-core/internal/port"
)

type HTTPHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	reports   *service.ReportService
}

func NewHTTPHandler(orders *service.OrderService, inventory *service.InventoryService, reports *service.ReportService) *HTTPHandler {
	return &HTTPHandler{orders: orders, inventory: inventory, reports: reports}
}

func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Metrics)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/items", h.AddLineItem)
			r.Delete("/{orderID}/items/{lineItemID}", h.RemoveLineItem)
			r.Post("/{orderID}/status", h.TransitionStatus)
		})
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/", h.ListItems)
			r.Get("/{sku}", h.GetItem)
			r.Put("/{sku}", h.UpdateItem)
			r.Delete("/{sku}", h.DeleteItem)
			r.Post("/{sku}/adjust", h.AdjustStock)
			r.Get("/{sku}/stock", h.StockLevel)
		})
		r.Get("/dashboard", h.Dashboard)
	})
	return r
}

type lineItemResponse struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Kind      domain.ItemKind `json:"kind"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Position  int             `json:"position"`
}

type orderResponse struct {
	ID           string             `json:"id"`
	CustomerID   string             `json:"customer_id"`
	TechnicianID string             `json:"technician_id"`
	Equipment    string             `json:"equipment"`
	Description  string             `json:"description"`
	Status       domain.OrderStatus `json:"status"`
	ChecklistRef string             `json:"checklist_ref,omitempty"`
	LineItems    []lineItemResponse `json:"line_items"`
	TotalPrice   decimal.Decimal    `json:"total_price"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty"`
}

func toOrderResponse(o *domain.ServiceOrder) orderResponse {
	resp := orderResponse{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		TechnicianID: o.TechnicianID,
		Equipment:    o.Equipment,
		Description:  o.Description,
		Status:       o.Status,
		ChecklistRef: o.ChecklistRef,
		LineItems:    make([]lineItemResponse, 0, len(o.LineItems)),
		TotalPrice:   o.TotalPrice,
		Version:      o.Version,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		ClosedAt:     o.ClosedAt,
	}
	for i := range o.LineItems {
		resp.LineItems = append(resp.LineItems, toLineItemResponse(&o.LineItems[i]))
	}
	return resp
}

func toLineItemResponse(li *domain.LineItem) lineItemResponse {
	return lineItemResponse{
		ID:        li.ID,
		SKU:       li.SKU,
		Kind:      li.Kind,
		UnitPrice: li.UnitPrice,
		Quantity:  li.Quantity,
		Position:  li.Position,
	}
}

type itemResponse struct {
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Kind             domain.ItemKind `json:"kind"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	CurrentQuantity  int             `json:"current_quantity"`
	ReservedQuantity int             `json:"reserved_quantity"`
	MinQuantity      int             `json:"min_quantity"`
}

func toItemResponse(i *domain.InventoryItem) itemResponse {
	return itemResponse{
		SKU:              i.SKU,
		Name:             i.Name,
		Description:      i.Description,
		Kind:             i.Kind,
		CostPrice:        i.CostPrice,
		SalePrice:        i.SalePrice,
		CurrentQuantity:  i.CurrentQuantity,
		ReservedQuantity: i.ReservedQuantity,
		MinQuantity:      i.MinQuantity,
	}
}

type createOrderRequest struct {
	RequestID    string `json:"request_id"`
	CustomerID   string `json:"customer_id"`
	TechnicianID string `json:"technician_id"`
	Equipment    string `json:"equipment"`
	Description  string `json:"description"`
	ChecklistRef string `json:"checklist_ref"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" || req.TechnicianID == "" || req.Equipment == "" {
		writeErrorMessage(w, http.StatusBadRequest, "customer_id, technician_id and equipment are required")
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderInput{
		RequestID:    req.RequestID,
		CustomerID:   req.CustomerID,
		TechnicianID: req.TechnicianID,
		Equipment:    req.Equipment,
		Description:  req.Description,
		ChecklistRef: req.ChecklistRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var filter port.OrderFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	filter.CustomerID = r.URL.Query().Get("customer_id")

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type addLineItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

func (h *HTTPHandler) AddLineItem(w http.ResponseWriter, r *http.Request) {
	var req addLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SKU == "" || req.Quantity < 1 {
		writeErrorMessage(w, http.StatusBadRequest, "sku and a positive quantity are required")
		return
	}

	line, err := h.orders.AddLineItem(r.Context(), chi.URLParam(r, "orderID"), req.SKU, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemResponse(line))
}

func (h *HTTPHandler) RemoveLineItem(w http.ResponseWriter, r *http.Request) {
	err := h.orders.RemoveLineItem(r.Context(), chi.URLParam(r, "orderID"), chi.URLParam(r, "lineItemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Target          string `json:"target"`
	ExpectedVersion int64  `json:"expected_version"`
}

func (h *HTTPHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := domain.ParseStatus(req.Target)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.TransitionStatus(r.Context(), chi.URLParam(r, "orderID"), target, req.ExpectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type itemRequest struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Kind            string          `json:"kind"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	CurrentQuantity int             `json:"current_quantity"`
	MinQuantity     int             `json:"min_quantity"`
}

func (req *itemRequest) toInput() service.ItemInput {
	return service.ItemInput{
		SKU:             req.SKU,
		Name:            req.Name,
		Description:     req.Description,
		Kind:            domain.ItemKind(req.Kind),
		CostPrice:       req.CostPrice,
		SalePrice:       req.SalePrice,
		CurrentQuantity: req.CurrentQuantity,
		MinQuantity:     req.MinQuantity,
	}
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	item, err := h.inventory.CreateItem(r.Context(), req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.inventory.GetItem(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toItemResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	item, err := h.inventory.UpdateItem(r.Context(), chi.URLParam(r, "sku"), req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.DeleteItem(r.Context(), chi.URLParam(r, "sku")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustStockRequest struct {
	Delta int `json:"delta"`
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Delta == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "delta must not be zero")
		return
	}

	item, err := h.inventory.AdjustStock(r.Context(), chi.URLParam(r, "sku"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) StockLevel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.inventory.StockLevel(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.reports.Dashboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes: missing records
// are 404, state machine refusals 422, contention and idempotency
// conflicts 409, invariant violations 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		insufficient *domain.InsufficientStockError
		invalid      *domain.InvalidTransitionError
		concurrent   *domain.ConcurrentModificationError
		invariant    *domain.InvariantViolationError
	)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrLineItemNotFound),
		errors.Is(err, domain.ErrSKUNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderClosed):
		commandFailures.WithLabelValues("order_closed").Inc()
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &invalid):
		commandFailures.WithLabelValues("invalid_transition").Inc()
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &insufficient):
		commandFailures.WithLabelValues("insufficient_stock").Inc()
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &concurrent):
		commandFailures.WithLabelValues("concurrent_modification").Inc()
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrOrderExists),
		errors.Is(err, domain.ErrSKUExists),
		errors.Is(err, service.ErrItemInUse):
		commandFailures.WithLabelValues("conflict").Inc()
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.As(err, &invariant):
		commandFailures.WithLabelValues("invariant_violation").Inc()
		writeErrorMessage(w, http.StatusInternalServerError, err.Error())
	default:
		commandFailures.WithLabelValues("internal").Inc()
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
