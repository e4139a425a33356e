package domain

import (
	"fmt"
	"time"
)

type ProductState string

const (
	ProductStateDraft    ProductState = "draft"
	ProductStateActive   ProductState = "active"
	ProductStateInactive ProductState = "inactive"
	ProductStateDeleted  ProductState = "deleted"
)

type Product struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	PriceAmount   string         `json:"price_amount"` // decimal string, validated at the boundary
	PriceCurrency string         `json:"price_currency"`
	Keywords      string         `json:"keywords"`
	CategoryID    string         `json:"category_id,omitempty"`
	State         ProductState   `json:"state"`
	Attributes    map[string]any `json:"attributes,omitempty"` // specification key/value pairs
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateAttributes checks a specification attribute map at the boundary.
// Values must be strings, numbers, or booleans; free-form nested objects are
// rejected.
func ValidateAttributes(attrs map[string]any) error {
	for key, value := range attrs {
		if key == "" {
			return fmt.Errorf("attribute key must not be empty")
		}
		switch value.(type) {
		case string, bool, int, int64, float64:
		default:
			return fmt.Errorf("attribute %q: unsupported value type %T", key, value)
		}
	}
	return nil
}

// ValidState reports whether s is one of the known product states.
func ValidState(s ProductState) bool {
	switch s {
	case ProductStateDraft, ProductStateActive, ProductStateInactive, ProductStateDeleted:
		return true
	}
	return false
}
