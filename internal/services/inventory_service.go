package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// isoMillis matches the timestamp format of movement dates.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DeriveMovement returns the stock movement of a quantity change from before
// to after, or false when the quantity did not change.
func DeriveMovement(p models.Product, before, after int, at time.Time) (models.Movement, bool) {
	switch {
	case after > before:
		return newMovement(p, models.MovementIn, before, after, at), true
	case after < before:
		return newMovement(p, models.MovementOut, before, after, at), true
	}
	return models.Movement{}, false
}

// newMovement builds a movement of the given type, even for an unchanged
// quantity. Adds and deletes always record one.
func newMovement(p models.Product, typ models.MovementType, before, after int, at time.Time) models.Movement {
	delta := after - before
	qty := delta
	if qty < 0 {
		qty = -qty
	}
	return models.Movement{
		ID:               uuid.New(),
		Type:             typ,
		ProductID:        p.ID,
		ProductName:      p.Name,
		ProductCode:      p.Code,
		Quantity:         qty,
		PreviousQuantity: before,
		NewQuantity:      after,
		Delta:            delta,
		Date:             at.UTC().Format(isoMillis),
		Details:          models.MovementDetails{Before: before, After: after},
	}
}

// Products returns the local inventory mirror, newest first.
func (s *Service) Products() []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Product(nil), s.products...)
}

// Product returns one product of the mirror.
func (s *Service) Product(id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, errors.New(errors.ErrProductNotFound, "product "+id+" not found")
	}
	p := s.products[i]
	return &p, nil
}

// Movements returns the local stock history, newest first.
func (s *Service) Movements() []models.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Movement(nil), s.movements...)
}

// AddProduct registers a product keyed by its code and records its initial
// stock, zero included, as an inbound movement. On a remote failure the
// optimistic product is returned together with the error.
func (s *Service) AddProduct(ctx context.Context, in models.ProductInput) (*models.Product, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New(errors.ErrInvalid, "product name is required")
	}
	if in.Quantity < 0 || in.MinStock < 0 {
		return nil, errors.New(errors.ErrInvalid, "quantities must not be negative")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	now := s.now()
	id := strings.TrimSpace(in.Code)
	if id == "" {
		id = strconv.FormatInt(now.UnixMilli(), 10)
	}
	if s.indexOf(id) >= 0 {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrInvalid, "product "+id+" already exists")
	}

	p := models.Product{
		ID:       id,
		Code:     id,
		Name:     name,
		Quantity: in.Quantity,
		MinStock: in.MinStock,
		Photo:    in.Photo,
	}
	s.products = append([]models.Product{p}, s.products...)
	s.persist(db.KeyInventoryMirror, s.products)

	set, err := models.NewPendingAction(models.ActionProductSet, id, p.RemoteFields())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	m := newMovement(p, models.MovementIn, 0, p.Quantity, now)
	s.addMovement(m)
	add, err := models.NewPendingAction(models.ActionMovementAdd, "", m)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	actions := []models.PendingAction{set, add}
	s.mu.Unlock()

	logging.Info("product added", map[string]interface{}{
		"product_id": id,
		"quantity":   p.Quantity,
		"online":     s.conn.IsOnline(),
	})
	return &p, s.write(ctx, "add_product", actions)
}

// EditProduct applies patch to a product. A quantity change records a
// movement. Unknown ids return PRODUCT_NOT_FOUND.
func (s *Service) EditProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrProductNotFound, "product "+id+" not found")
	}

	p := s.products[i]
	before := p.Quantity
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.MinStock != nil {
		p.MinStock = *patch.MinStock
	}
	if patch.Photo != nil {
		p.Photo = *patch.Photo
	}
	if p.Name == "" {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrInvalid, "product name is required")
	}
	if p.Quantity < 0 || p.MinStock < 0 {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrInvalid, "quantities must not be negative")
	}

	s.products[i] = p
	s.persist(db.KeyInventoryMirror, s.products)

	update, err := models.NewPendingAction(models.ActionProductUpdate, id, p.RemoteFields())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	actions := []models.PendingAction{update}

	if m, ok := DeriveMovement(p, before, p.Quantity, s.now()); ok {
		s.addMovement(m)
		add, err := models.NewPendingAction(models.ActionMovementAdd, "", m)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		actions = append(actions, add)
	}
	s.mu.Unlock()

	logging.Info("product edited", map[string]interface{}{
		"product_id": id,
		"before":     before,
		"after":      p.Quantity,
	})
	return &p, s.write(ctx, "edit_product", actions)
}

// DeleteProduct removes a product from the mirror and records its remaining
// stock, zero included, as an outbound movement, which stays in the history.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New(errors.ErrProductNotFound, "product "+id+" not found")
	}

	p := s.products[i]
	s.products = append(s.products[:i:i], s.products[i+1:]...)
	s.persist(db.KeyInventoryMirror, s.products)

	m := newMovement(p, models.MovementOut, p.Quantity, 0, s.now())
	s.addMovement(m)
	add, err := models.NewPendingAction(models.ActionMovementAdd, "", m)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	actions := []models.PendingAction{{Type: models.ActionProductDelete, DocID: id}, add}
	s.mu.Unlock()

	logging.Info("product deleted", map[string]interface{}{
		"product_id": id,
		"quantity":   p.Quantity,
	})
	return s.write(ctx, "delete_product", actions)
}

// indexOf returns the mirror position of id or -1. Callers hold s.mu.
func (s *Service) indexOf(id string) int {
	for i, p := range s.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// addMovement prepends m to the history and persists it. Callers hold s.mu.
func (s *Service) addMovement(m models.Movement) {
	s.movements = append([]models.Movement{m}, s.movements...)
	s.persist(db.KeyMovementLog, s.movements)
}
