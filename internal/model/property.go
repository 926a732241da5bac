package model

import "time"

// PropertyType classifies a listing in the inventory.
type PropertyType string

const (
	PropertyTypeHouse      PropertyType = "house"
	PropertyTypeApartment  PropertyType = "apartment"
	PropertyTypeTownhouse  PropertyType = "townhouse"
	PropertyTypeLand       PropertyType = "land"
	PropertyTypeCommercial PropertyType = "commercial"
)

// SubjectProperty is the property a CMA report is generated for. It is owned
// by the inventory; the engine only reads it. AreaSqm and YearBuilt use zero
// values to mean "not declared" and are treated as neutral by the scorer.
type SubjectProperty struct {
	ID         string       `json:"id"`
	WebsiteID  string       `json:"website_id"`
	Type       PropertyType `json:"property_type"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Bedrooms   int          `json:"bedrooms"`
	Bathrooms  float64      `json:"bathrooms"`
	AreaSqm    float64      `json:"area_sqm"`
	YearBuilt  int          `json:"year_built"`
	Street     string       `json:"street"`
	City       string       `json:"city"`
	State      string       `json:"state,omitempty"`
	PostalCode string       `json:"postal_code"`
	PriceCents int64        `json:"price_cents"`
	Currency   string       `json:"currency"`
}

// Address returns the one-line postal address of the property.
func (p SubjectProperty) Address() string {
	addr := p.Street
	if p.City != "" {
		addr += ", " + p.City
	}
	if p.PostalCode != "" {
		addr += " " + p.PostalCode
	}
	return addr
}

// CandidateProperty is a listed property drawn from the tenant's inventory
// during a comparable search. Materialized only for the duration of the
// search, never persisted by the engine.
type CandidateProperty struct {
	ID         string       `json:"id"`
	WebsiteID  string       `json:"website_id"`
	Type       PropertyType `json:"property_type"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Bedrooms   int          `json:"bedrooms"`
	Bathrooms  float64      `json:"bathrooms"`
	AreaSqm    float64      `json:"area_sqm"`
	YearBuilt  int          `json:"year_built"`
	Street     string       `json:"street"`
	City       string       `json:"city"`
	PostalCode string       `json:"postal_code"`
	PriceCents int64        `json:"price_cents"`
	Currency   string       `json:"currency"`
	ListedAt   time.Time    `json:"listed_at"`
}

// Address returns the one-line postal address of the candidate.
func (p CandidateProperty) Address() string {
	addr := p.Street
	if p.City != "" {
		addr += ", " + p.City
	}
	if p.PostalCode != "" {
		addr += " " + p.PostalCode
	}
	return addr
}
