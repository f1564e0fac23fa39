// Package handlers provides REST API handlers for the desktop shell.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kimhsiao/petstock/internal/models"
)

// ProductService is the inventory part of the service layer.
type ProductService interface {
	Products() []models.Product
	Product(id string) (*models.Product, error)
	Movements() []models.Movement
	AddProduct(ctx context.Context, in models.ProductInput) (*models.Product, error)
	EditProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// ProductHandler handles inventory operations.
type ProductHandler struct {
	service ProductService
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service ProductService) *ProductHandler {
	return &ProductHandler{service: service}
}

// Register adds the product routes to mux.
func (h *ProductHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("PATCH /api/products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /api/products/{id}", h.DeleteProduct)
	mux.HandleFunc("GET /api/movements", h.ListMovements)
}

// ListProducts handles GET /api/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.service.Products()
	if r.URL.Query().Get("low") == "true" {
		low := make([]models.Product, 0, len(products))
		for _, p := range products {
			if p.MinStock > 0 && p.Quantity <= p.MinStock {
				low = append(low, p)
			}
		}
		products = low
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": products,
		"total": len(products),
	})
}

// CreateProduct handles POST /api/products
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Code     string `json:"codigo"`
		Name     string `json:"nombre"`
		Quantity int    `json:"cantidad"`
		MinStock int    `json:"stockMinimo"`
		Photo    string `json:"foto"`
	}
	if !decodeBody(w, r, &request) {
		return
	}

	p, err := h.service.AddProduct(r.Context(), models.ProductInput{
		Code:     request.Code,
		Name:     request.Name,
		Quantity: request.Quantity,
		MinStock: request.MinStock,
		Photo:    request.Photo,
	})
	if p == nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, p, err)
}

// GetProduct handles GET /api/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Product(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProduct handles PATCH /api/products/{id}
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name     *string `json:"nombre"`
		Quantity *int    `json:"cantidad"`
		MinStock *int    `json:"stockMinimo"`
		Photo    *string `json:"foto"`
	}
	if !decodeBody(w, r, &request) {
		return
	}

	p, err := h.service.EditProduct(r.Context(), r.PathValue("id"), models.ProductPatch{
		Name:     request.Name,
		Quantity: request.Quantity,
		MinStock: request.MinStock,
		Photo:    request.Photo,
	})
	if p == nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, p, err)
}

// DeleteProduct handles DELETE /api/products/{id}
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.service.DeleteProduct(r.Context(), id)
	writeResult(w, http.StatusOK, map[string]string{"deleted": id}, err)
}

// ListMovements handles GET /api/movements
func (h *ProductHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	movements := make([]models.Movement, 0)
	for _, m := range h.service.Movements() {
		if productID != "" && m.ProductID != productID {
			continue
		}
		movements = append(movements, m)
		if limit > 0 && len(movements) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": movements,
		"total": len(movements),
	})
}
