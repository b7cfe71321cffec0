// Package project holds the marketplace listings that offers and
// transactions settle against.
//
// The settlement core only needs the purchasability gate and the atomic
// sold/unsold flips; listing content, search and moderation live elsewhere.
package project

import (
	"context"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
	"github.com/joseairosa/codesalvage/internal/idgen"
)

// Status represents the listing state of a project.
type Status string

const (
	StatusActive   Status = "active"   // listed and purchasable
	StatusSold     Status = "sold"     // a transaction succeeded; inventory consumed
	StatusDelisted Status = "delisted" // removed by the seller or moderation
)

// Project represents a listed project.
type Project struct {
	ID              string    `json:"id"`
	SellerID        string    `json:"sellerId"`
	Title           string    `json:"title"`
	PriceCents      int64     `json:"priceCents"`
	Status          Status    `json:"status"`
	SellerAccountID string    `json:"sellerAccountId,omitempty"` // processor payout account; empty = not payout-eligible
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Purchasable reports whether the project can currently be bought.
func (p *Project) Purchasable() bool {
	return p.Status == StatusActive
}

// Store persists project data.
type Store interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	// Transition flips the status only if the stored status equals from.
	// Returns false when another writer got there first.
	Transition(ctx context.Context, id string, from, to Status) (bool, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Project, error)
}

// CreateRequest contains the parameters for listing a project.
type CreateRequest struct {
	Title           string `json:"title" binding:"required"`
	PriceCents      int64  `json:"priceCents" binding:"required"`
	SellerAccountID string `json:"sellerAccountId"`
}

// Service implements project listing logic.
type Service struct {
	store Store
}

// NewService creates a new project service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create lists a new project for the given seller.
func (s *Service) Create(ctx context.Context, sellerID string, req CreateRequest) (*Project, error) {
	if req.PriceCents <= 0 {
		return nil, fault.Field("priceCents", "listed price must be a positive integer")
	}
	if req.Title == "" {
		return nil, fault.Field("title", "title is required")
	}

	now := time.Now()
	p := &Project{
		ID:              idgen.WithPrefix("prj_"),
		SellerID:        sellerID,
		Title:           req.Title,
		PriceCents:      req.PriceCents,
		Status:          StatusActive,
		SellerAccountID: req.SellerAccountID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a project by ID.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	return s.store.Get(ctx, id)
}

// Delist takes a project off the market. Only the seller may delist, and
// only while the project is still active.
func (s *Service) Delist(ctx context.Context, actorID, id string) (*Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.SellerID != actorID {
		return nil, fault.New(fault.KindPermission, "only the seller may delist a project")
	}
	ok, err := s.store.Transition(ctx, id, StatusActive, StatusDelisted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.New(fault.KindValidation, "project is not active")
	}
	return s.store.Get(ctx, id)
}

// ListBySeller returns a seller's projects.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Project, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}
