package domain

import (
	"github.com/shopspring/decimal"
)

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

type StoreStatus string

const (
	StoreStatusActive   StoreStatus = "active"
	StoreStatusInactive StoreStatus = "inactive"
)

type Store struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Name        string      `json:"store_name"`
	Location    string      `json:"location"`
	IsVerified  bool        `json:"is_verified"`
	OpeningTime *string     `json:"opening_time,omitempty"`
	ClosingTime *string     `json:"closing_time,omitempty"`
	Status      StoreStatus `json:"status"`
}

// Driver wraps a user whose role must be driver.
type Driver struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	UserRole        Role            `json:"-"`
	IsAvailable     bool            `json:"is_available"`
	CurrentLocation string          `json:"current_location"`
	VehicleInfo     string          `json:"vehicle_info"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
}

type Location struct {
	ID           int64   `json:"id"`
	OwnerID      string  `json:"owner_id"`
	OwnerType    string  `json:"owner_type"`
	Label        string  `json:"label"`
	AddressLine1 string  `json:"address_line1"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   string  `json:"postal_code"`
	Country      string  `json:"country"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// FullAddress is the search text sent to the geocoder.
func (l Location) FullAddress() string {
	return l.AddressLine1 + ", " + l.City + ", " + l.State + ", " + l.PostalCode + ", " + l.Country
}
