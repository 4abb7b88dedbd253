package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-preorders/internal/auth"
	"github.com/ariefcatur/go-preorders/internal/catalog"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	"github.com/ariefcatur/go-preorders/internal/sales"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PreorderService is the lifecycle controller as seen by the HTTP layer.
type PreorderService interface {
	Create(ctx context.Context, in preorders.CreateInput) (*preorders.Preorder, error)
	List(ctx context.Context) ([]preorders.Preorder, error)
	Get(ctx context.Context, id string) (*preorders.Preorder, error)
	Status(ctx context.Context, id string) (*preorders.StatusView, error)
	ListByCustomer(ctx context.Context, customerID string) ([]preorders.Preorder, error)
	Update(ctx context.Context, id string, in preorders.UpdateInput) (*preorders.Preorder, error)
	Delete(ctx context.Context, id string) error
	Confirm(ctx context.Context, actor auth.Actor, in preorders.ConfirmInput) (*preorders.ConfirmResult, error)
	ListProducts(ctx context.Context) ([]catalog.ProductStock, error)
	GetSale(ctx context.Context, id string) (*sales.Sale, error)
}

// Cache is the optional Redis layer. *redisx.Cache satisfies it.
type Cache interface {
	ClaimIdempotency(ctx context.Context, key string) (bool, error)
	ReleaseIdempotency(ctx context.Context, key string) error
	IdempotentPreorder(ctx context.Context, key string) (string, error)
	RememberPreorder(ctx context.Context, key, preorderID string) error
	Status(ctx context.Context, id string, out any) (bool, error)
	SetStatus(ctx context.Context, id string, v any) error
	MarkDeleted(ctx context.Context, id string) error
	Deleted(ctx context.Context, id string) (bool, error)
}

type PreordersHandler struct {
	Service PreorderService
	Cache   Cache
	Tokens  TokenParser
	Log     *zap.Logger
}

type preorderResp struct {
	Success  bool                `json:"success"`
	Preorder *preorders.Preorder `json:"preventa"`
}

type preorderListResp struct {
	Success   bool                 `json:"success"`
	Preorders []preorders.Preorder `json:"preventas"`
}

type messageResp struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Sale    *sales.Sale `json:"venta,omitempty"`
}

type confirmReq struct {
	CustomerID   string `json:"clienteId"`
	DeliveryDate string `json:"fechaEntrega"`
	Confirmed    *bool  `json:"confirmacion"`
}

func (h *PreordersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireActor(h.Tokens))

		r.With(RequirePermission(auth.PermCreatePreorder)).Post("/preorders", h.create)
		r.With(RequirePermission(auth.PermListPreorders)).Get("/preorders", h.list)
		r.With(RequirePermission(auth.PermConfirmDelivery)).Post("/preorders/confirm", h.confirm)
		r.With(RequirePermission(auth.PermCustomerPreorders)).Get("/preorders/customer/{clienteId}", h.listByCustomer)
		r.With(RequirePermission(auth.PermGetPreorder)).Get("/preorders/{id}", h.get)
		r.With(RequirePermission(auth.PermGetPreorder)).Get("/preorders/{id}/status", h.status)
		r.With(RequirePermission(auth.PermUpdatePreorder)).Put("/preorders/{id}", h.update)
		r.With(RequirePermission(auth.PermDeletePreorder)).Delete("/preorders/{id}", h.delete)

		r.With(RequirePermission(auth.PermViewProducts)).Get("/products", h.listProducts)
		r.With(RequirePermission(auth.PermViewSales)).Get("/sales/{id}", h.getSale)
	})
}

func (h *PreordersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *PreordersHandler) create(w http.ResponseWriter, r *http.Request) {
	var in preorders.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// The key is claimed with SETNX before creating, so concurrent requests
	// with the same key create at most one preorder.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		claimed, err := h.Cache.ClaimIdempotency(ctx, idemKey)
		if err != nil {
			h.log().Warn("idempotency claim", zap.Error(err))
		} else if !claimed {
			h.replay(ctx, w, r, idemKey)
			return
		}
	}

	p, err := h.Service.Create(ctx, in)
	if err != nil {
		if idemKey != "" {
			if err := h.Cache.ReleaseIdempotency(ctx, idemKey); err != nil {
				h.log().Warn("release idempotency key", zap.Error(err))
			}
		}
		writeServiceError(w, r, h.log(), err)
		return
	}

	if idemKey != "" {
		if err := h.Cache.RememberPreorder(ctx, idemKey, p.ID); err != nil {
			h.log().Warn("remember idempotency key", zap.Error(err))
		}
	}
	h.cacheStatus(ctx, p)
	writeJSON(w, http.StatusCreated, preorderResp{Success: true, Preorder: p})
}

// replay answers a request whose idempotency key was already claimed: the
// stored preorder when the first create finished, 409 while it is in flight.
func (h *PreordersHandler) replay(ctx context.Context, w http.ResponseWriter, r *http.Request, key string) {
	id, err := h.Cache.IdempotentPreorder(ctx, key)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	if id == "" {
		writeError(w, r, http.StatusConflict, "CONFLICT", "a request with this Idempotency-Key is in progress")
		return
	}
	p, err := h.Service.Get(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, preorderResp{Success: true, Preorder: p})
}

func (h *PreordersHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.List(ctx)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	if ps == nil {
		ps = []preorders.Preorder{}
	}
	writeJSON(w, http.StatusOK, preorderListResp{Success: true, Preorders: ps})
}

func (h *PreordersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, preorderResp{Success: true, Preorder: p})
}

func (h *PreordersHandler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 0) tombstone
	if gone, err := h.Cache.Deleted(ctx, id); err == nil && gone {
		writeServiceError(w, r, h.log(), fmt.Errorf("%w: %s", preorders.ErrPreorderNotFound, id))
		return
	}

	// 1) cache
	var v preorders.StatusView
	if hit, err := h.Cache.Status(ctx, id, &v); err == nil && hit {
		writeJSON(w, http.StatusOK, v)
		return
	}

	// 2) fallback DB
	sv, err := h.Service.Status(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	if err := h.Cache.SetStatus(ctx, id, sv); err != nil {
		h.log().Warn("cache status", zap.String("preorder_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sv)
}

func (h *PreordersHandler) update(w http.ResponseWriter, r *http.Request) {
	var in preorders.UpdateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Service.Update(ctx, chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	h.cacheStatus(ctx, p)
	writeJSON(w, http.StatusOK, preorderResp{Success: true, Preorder: p})
}

func (h *PreordersHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Delete(ctx, id); err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	if err := h.Cache.MarkDeleted(ctx, id); err != nil {
		h.log().Warn("evict status", zap.String("preorder_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, messageResp{
		Success: true,
		Message: "Preventa eliminada correctamente y el stock ha sido actualizado",
	})
}

func (h *PreordersHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.ListByCustomer(ctx, chi.URLParam(r, "clienteId"))
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, preorderListResp{Success: true, Preorders: ps})
}

func (h *PreordersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Confirmed == nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "confirmacion is required")
		return
	}
	actor, _ := auth.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.Confirm(ctx, actor, preorders.ConfirmInput{
		CustomerID:   req.CustomerID,
		DeliveryDate: req.DeliveryDate,
		Confirmed:    *req.Confirmed,
	})
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	h.cacheStatus(ctx, res.Preorder)

	if res.Sale != nil {
		writeJSON(w, http.StatusCreated, messageResp{
			Success: true,
			Message: "La preventa ha sido entregada y convertida en venta",
			Sale:    res.Sale,
		})
		return
	}
	writeJSON(w, http.StatusOK, messageResp{Success: true, Message: "La preventa ha sido cancelada"})
}

func (h *PreordersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	if ps == nil {
		ps = []catalog.ProductStock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "productos": ps})
}

func (h *PreordersHandler) getSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Service.GetSale(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "venta": s})
}

// cacheStatus writes through to the status cache; the projector converges it
// from events as well.
func (h *PreordersHandler) cacheStatus(ctx context.Context, p *preorders.Preorder) {
	if p == nil {
		return
	}
	sv := preorders.StatusView{ID: p.ID, Status: p.Status, Version: p.Version}
	if err := h.Cache.SetStatus(ctx, p.ID, sv); err != nil {
		h.log().Warn("cache status", zap.String("preorder_id", p.ID), zap.Error(err))
	}
}
