package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of delivery_schedule_at.
const DateLayout = "2006-01-02"

// CancelWindow is how long before the scheduled delivery date a customer
// can still cancel.
const CancelWindow = 24 * time.Hour

type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID                 int64            `json:"id"`
	Code               string           `json:"order_code"`
	CustomerID         int64            `json:"customer_id"`
	CustomerEmail      string           `json:"-"`
	StoreID            *int64           `json:"store_id"`
	DriverID           *int64           `json:"driver_id"`
	DeliveryAddressID  *int64           `json:"delivery_address_id"`
	PaymentID          *int64           `json:"payment_id"`
	Items              []OrderItem      `json:"items"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	TaxAmount          decimal.Decimal  `json:"tax_amount"`
	DeliveryFee        *decimal.Decimal `json:"delivery_fee"`
	Status             OrderStatus      `json:"status"`
	PaymentMethod      PaymentMethod    `json:"payment_method"`
	PaymentStatus      PaymentStatus    `json:"payment_status"`
	DeliveryScheduleAt Date             `json:"delivery_schedule_at"`
	StockCommitted     bool             `json:"-"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	t = t.UTC()
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	t, err := ParseScheduleDate(s)
	if err != nil {
		return err
	}
	*d = t
	return nil
}

// Value stores the date as YYYY-MM-DD.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	}
	return fmt.Errorf("cannot scan %T into Date", src)
}

func (d *Date) scanString(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return err
	}
	*d = NewDate(t)
	return nil
}

// Amount due from the customer, delivery fee included.
func (o *Order) AmountDue() decimal.Decimal {
	due := o.TotalAmount.Add(o.TaxAmount)
	if o.DeliveryFee != nil {
		due = due.Add(*o.DeliveryFee)
	}
	return due
}

// CancelDeadline is the last instant a customer may cancel.
func (o *Order) CancelDeadline() time.Time {
	return o.DeliveryScheduleAt.Add(-CancelWindow)
}

// StockItems returns one decrement request per ordered line.
func (o *Order) StockItems() []StockItem {
	items := make([]StockItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = StockItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return items
}

// ComputeTotal sums the line snapshots.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.Round(2)
}

// ParseScheduleDate accepts a YYYY-MM-DD date or an RFC3339 timestamp and
// keeps only the calendar date, in UTC.
func ParseScheduleDate(s string) (Date, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return NewDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, BadRequest(fmt.Sprintf("Invalid delivery schedule date %q", s))
	}
	return NewDate(t), nil
}
