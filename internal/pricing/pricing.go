package pricing

import (
	"sync"

	"referral-rewards-api/internal/models"
)

// Table maps a contact method to its per-message price. Prices are read when
// a target is created; order items snapshot the value, so editing the table
// never changes existing targets or items.
type Table struct {
	mu     sync.RWMutex
	prices map[models.Method]int64
}

// DefaultPrices are the shipped per-method prices.
var DefaultPrices = map[models.Method]int64{
	models.MethodEmail:    250,
	models.MethodPhone:    500,
	models.MethodWhatsApp: 750,
	models.MethodTelegram: 350,
}

// NewTable builds a table from the given prices; methods missing from the
// map price at zero. A nil map yields DefaultPrices.
func NewTable(prices map[models.Method]int64) *Table {
	if prices == nil {
		prices = DefaultPrices
	}
	copied := make(map[models.Method]int64, len(prices))
	for method, price := range prices {
		copied[method] = price
	}
	return &Table{prices: copied}
}

// Price returns the current price for a method.
func (t *Table) Price(method models.Method) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prices[method]
}

// SetPrice updates the price for a method.
func (t *Table) SetPrice(method models.Method, price int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[method] = price
}
