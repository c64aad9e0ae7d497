package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Line describes one seeded order line and the listing behind it.
type Line struct {
	SellerID uuid.UUID
	Price    string
	Quantity int
	Stock    int
}

// SeededOrder is what SeedOrder wrote.
type SeededOrder struct {
	Order    models.Order
	Listings []models.Listing
}

// SeedOrder writes listings, an order in the given status with one item per
// line, a pending payment and a held escrow for the order total.
func SeedOrder(t testing.TB, client *db.Client, buyerID uuid.UUID, status enums.OrderStatus, lines ...Line) SeededOrder {
	t.Helper()
	seeded := SeededOrder{}
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for i, line := range lines {
		qty := line.Quantity
		if qty == 0 {
			qty = 1
		}
		listing := models.Listing{
			SellerID: line.SellerID,
			Title:    "Listing " + string(rune('A'+i)),
			Price:    decimal.RequireFromString(line.Price),
			Stock:    line.Stock,
		}
		MustCreate(t, client, &listing)
		seeded.Listings = append(seeded.Listings, listing)
		item := models.OrderItem{
			ListingID: listing.ID,
			SellerID:  line.SellerID,
			Title:     listing.Title,
			Quantity:  qty,
			Price:     listing.Price,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}

	order := models.Order{
		BuyerID:         buyerID,
		TotalPrice:      total,
		Status:          status,
		ShippingName:    "Amina Otieno",
		ShippingEmail:   "amina@example.com",
		ShippingPhone:   "254712345678",
		ShippingAddress: "Kisumu Road 4",
		ShippingCity:    "Homa Bay",
		Items:           items,
	}
	MustCreate(t, client, &order)
	MustCreate(t, client,
		&models.Payment{OrderID: order.ID, Amount: total, Method: enums.PaymentMethodMpesa, Status: enums.PaymentStatusPending},
		&models.Escrow{OrderID: order.ID, Amount: total, Status: enums.EscrowStatusHeld},
	)

	if err := client.DB().Preload("Items").Preload("Payment").Preload("Escrow").First(&seeded.Order, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload seeded order: %v", err)
	}
	return seeded
}
