package services

import (
	"context"

	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
)

// StartSession loads the local mirror and history for userID. When online
// with nothing queued, the mirror is refreshed from the products collection.
func (s *Service) StartSession(ctx context.Context, userID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != "" {
		s.userID = userID
	}
	s.products = nil
	s.movements = nil
	s.load(db.KeyInventoryMirror, &s.products)
	s.load(db.KeyMovementLog, &s.movements)

	logging.Info("session started", map[string]interface{}{
		"user_id":   s.userID,
		"products":  len(s.products),
		"movements": len(s.movements),
		"pending":   s.queue.Len(),
	})

	if s.conn.IsOnline() && s.queue.Len() == 0 {
		s.refreshProducts(ctx)
	}
	return ctx.Err()
}

// refreshProducts replaces the mirror with the remote products collection.
// A failed refresh keeps the local mirror. Callers hold s.mu.
func (s *Service) refreshProducts(ctx context.Context) {
	docs, err := s.store.ListDocs(ctx, models.CollectionProducts, nil)
	if err != nil {
		logging.Warn("keeping local inventory, remote refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	products := make([]models.Product, 0, len(docs))
	for _, doc := range docs {
		var p models.Product
		if err := docstore.DecodeInto(doc, &p); err != nil {
			logging.Warn("skipping undecodable product", map[string]interface{}{"doc_id": doc.ID})
			continue
		}
		p.Code = doc.ID
		products = append(products, p)
	}
	s.products = products
	s.persist(db.KeyInventoryMirror, s.products)

	logging.Debug("inventory refreshed from remote", map[string]interface{}{"products": len(products)})
}

// EndSession clears the inventory mirror and the pending queue. Queued
// actions that were never replayed are lost. The stock history is kept.
func (s *Service) EndSession(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.queue.Clear()
	if dropped > 0 {
		logging.Warn("session ended with unsynced actions, discarding them", map[string]interface{}{
			"user_id": s.userID,
			"dropped": dropped,
		})
	}

	s.products = nil
	if err := s.kv.Remove(db.KeyInventoryMirror); err != nil {
		logging.Error("failed to remove inventory mirror", err)
	}
	s.userID = s.config.UserID

	logging.Info("session ended", nil)
	return ctx.Err()
}
