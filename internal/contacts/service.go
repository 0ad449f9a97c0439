package contacts

import (
	"context"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, c Contact) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Contact, error)
	List(ctx context.Context, req ListContactsRequest) ([]Contact, int, error)
}

// Service coordinates contact operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create inserts a contact.
func (s *Service) Create(ctx context.Context, req CreateContactRequest) (*Contact, error) {
	id, err := s.repo.Insert(ctx, Contact{Name: req.Name, Phone: req.Phone, Address: req.Address})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Update applies partial changes to a contact.
func (s *Service) Update(ctx context.Context, id int64, req UpdateContactRequest) (*Contact, error) {
	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a contact.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Get retrieves a contact by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Contact, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of contacts.
func (s *Service) List(ctx context.Context, req ListContactsRequest) ([]Contact, int, error) {
	return s.repo.List(ctx, req)
}
