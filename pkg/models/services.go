package models

import "time"

// Service represents a catalog entry users can order. Rate is the price per
// 1000 units in USD.
type Service struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Rate        float64 `json:"rate" db:"rate"`
	MinOrder    int     `json:"min_order" db:"min_order"`
	MaxOrder    int     `json:"max_order" db:"max_order"`
	Dripfeed    bool    `json:"dripfeed" db:"dripfeed"`
	Refill      bool    `json:"refill" db:"refill"`
	Cancel      bool    `json:"cancel" db:"cancel"`
	RefillDays  int     `json:"refill_days" db:"refill_days"`
	IsActive    bool    `json:"is_active" db:"is_active"`

	// Provider linkage: nil provider means the service is fulfilled
	// manually by panel staff.
	ProviderID        *string `json:"provider_id,omitempty" db:"provider_id"`
	ProviderServiceID *string `json:"provider_service_id,omitempty" db:"provider_service_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Forwardable reports whether orders for this service are forwarded to an
// upstream provider.
func (s *Service) Forwardable() bool {
	return s.ProviderID != nil && *s.ProviderID != "" &&
		s.ProviderServiceID != nil && *s.ProviderServiceID != ""
}
