package checkout_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestmarket/marketplace/internal/application/checkout"
	"github.com/zestmarket/marketplace/internal/domain/access"
	"github.com/zestmarket/marketplace/internal/domain/catalog"
	"github.com/zestmarket/marketplace/internal/domain/coupon"
	"github.com/zestmarket/marketplace/internal/domain/order"
	"github.com/zestmarket/marketplace/internal/infrastructure/memory"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type seqGen struct{ n atomic.Int64 }

func (g *seqGen) NewID() string { return fmt.Sprintf("id-%d", g.n.Add(1)) }

func (g *seqGen) NewNumber(time.Time) string { return fmt.Sprintf("ORD-TEST-%d", g.n.Add(1)) }

type fixture struct {
	uc      *checkout.UseCase
	catalog *memory.CatalogRepository
	coupons *memory.CouponRepository
	orders  *memory.OrderRepository
}

func testPricing() checkout.Pricing {
	return checkout.Pricing{
		Currency:              "USD",
		TaxRate:               d("0.10"),
		ShippingFee:           d("10.00"),
		FreeShippingThreshold: d("50.00"),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	catalogRepo := memory.NewCatalogRepository()
	couponRepo := memory.NewCouponRepository()
	orderRepo := memory.NewOrderRepository()
	store := memory.NewCheckoutStore(catalogRepo, orderRepo)

	require.NoError(t, catalogRepo.SaveSeller(ctx, &catalog.Seller{ID: "seller-a", ShopName: "Shop A", Active: true}))
	require.NoError(t, catalogRepo.SaveSeller(ctx, &catalog.Seller{ID: "seller-b", ShopName: "Shop B", Active: true}))
	require.NoError(t, catalogRepo.SaveProduct(ctx, &catalog.Product{
		ID: "p1", SellerID: "seller-a", Title: "Mug", SKU: "MUG", Price: d("20.00"), Stock: 10, Active: true,
	}))
	require.NoError(t, catalogRepo.SaveProduct(ctx, &catalog.Product{
		ID: "p2", SellerID: "seller-b", Title: "Shirt", SKU: "SHIRT", Price: d("25.00"), Stock: 10, Active: true,
		Variations: []catalog.Variation{
			{ID: "v1", Name: "size", Value: "L", SKU: "SHIRT-L", Price: d("27.00"), Stock: 5},
		},
	}))

	gen := &seqGen{}
	uc := checkout.NewUseCase(store, catalogRepo, couponRepo, gen, gen, nil, testPricing(), nil)
	return &fixture{uc: uc, catalog: catalogRepo, coupons: couponRepo, orders: orderRepo}
}

func buyer() access.Actor { return access.Actor{ID: "buyer-1", Role: access.RoleBuyer} }

func testAddress() order.Address {
	return order.Address{
		Name:       "Jamie Doe",
		Line1:      "1 Main St",
		City:       "Springfield",
		PostalCode: "12345",
		Country:    "US",
	}
}

func checkoutInput(lines ...checkout.LineInput) checkout.Input {
	return checkout.Input{
		Actor:    buyer(),
		Lines:    lines,
		Billing:  testAddress(),
		Shipping: testAddress(),
	}
}

func saveCoupon(t *testing.T, f *fixture, c *coupon.Coupon) {
	t.Helper()
	now := time.Now()
	if c.ValidFrom.IsZero() {
		c.ValidFrom = now.Add(-time.Hour)
	}
	if c.ValidUntil.IsZero() {
		c.ValidUntil = now.Add(time.Hour)
	}
	c.Active = true
	require.NoError(t, f.coupons.Save(context.Background(), c))
}

func TestCheckoutTotals(t *testing.T) {
	f := newFixture(t)

	result, err := f.uc.Execute(context.Background(), checkoutInput(
		checkout.LineInput{ProductID: "p1", Quantity: 1},
		checkout.LineInput{ProductID: "p2", Quantity: 1},
	))
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, o.Subtotal.Equal(d("45.00")))
	assert.True(t, o.Shipping.Equal(d("10.00")), "subtotal below threshold pays shipping")
	assert.True(t, o.Tax.Equal(d("4.50")))
	assert.True(t, o.Total.Equal(d("59.50")))
	require.Len(t, o.Groups, 2)

	// Stock is reserved at commit time.
	p1, err := f.catalog.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 9, p1.Stock)

	stored, err := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
}

func TestCheckoutFreeShippingOverThreshold(t *testing.T) {
	f := newFixture(t)

	result, err := f.uc.Execute(context.Background(), checkoutInput(
		checkout.LineInput{ProductID: "p1", Quantity: 3}, // 60.00
	))
	require.NoError(t, err)
	assert.True(t, result.Order.Shipping.IsZero())
	assert.True(t, result.Order.Total.Equal(d("66.00")))
}

func TestCheckoutUsesVariationPricing(t *testing.T) {
	f := newFixture(t)

	result, err := f.uc.Execute(context.Background(), checkoutInput(
		checkout.LineInput{ProductID: "p2", VariationID: "v1", Quantity: 1},
	))
	require.NoError(t, err)

	it := result.Order.Items[0]
	assert.Equal(t, "SHIRT-L", it.SKU)
	assert.True(t, it.UnitPrice.Equal(d("27.00")))

	p2, err := f.catalog.GetProduct(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 10, p2.Stock, "base stock untouched")
	assert.Equal(t, 4, p2.Variations[0].Stock)
}

func TestCheckoutOutOfStockIsAllOrNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Execute(context.Background(), checkoutInput(
		checkout.LineInput{ProductID: "p1", Quantity: 2},
		checkout.LineInput{ProductID: "p2", Quantity: 11}, // more than stock
	))
	require.ErrorIs(t, err, catalog.ErrOutOfStock)

	// The first line's reservation is rolled back with the failure.
	p1, err := f.catalog.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Stock)
}

func TestCheckoutRejectsNonBuyers(t *testing.T) {
	f := newFixture(t)

	in := checkoutInput(checkout.LineInput{ProductID: "p1", Quantity: 1})
	in.Actor = access.Actor{ID: "seller-a", Role: access.RoleSeller}
	_, err := f.uc.Execute(context.Background(), in)
	assert.ErrorIs(t, err, checkout.ErrForbidden)
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.SaveProduct(context.Background(), &catalog.Product{
		ID: "p3", SellerID: "seller-a", Title: "Gone", SKU: "GONE", Price: d("5.00"), Stock: 1, Active: false,
	}))

	_, err := f.uc.Execute(context.Background(), checkoutInput(
		checkout.LineInput{ProductID: "p3", Quantity: 1},
	))
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCheckoutAppliesCoupon(t *testing.T) {
	f := newFixture(t)
	saveCoupon(t, f, &coupon.Coupon{
		ID: "c1", Code: "SAVE10", Type: coupon.TypePercentage, Value: d("10"),
	})

	in := checkoutInput(
		checkout.LineInput{ProductID: "p1", Quantity: 1},
		checkout.LineInput{ProductID: "p2", Quantity: 1},
	)
	in.CouponCode = "SAVE10"
	result, err := f.uc.Execute(context.Background(), in)
	require.NoError(t, err)

	o := result.Order
	assert.True(t, o.Discount.Equal(d("4.50")))
	assert.True(t, o.Total.Equal(d("55.00")))
	assert.Equal(t, "SAVE10", o.CouponCode)

	// Discount allocation follows seller shares.
	assert.True(t, o.Groups[0].Discount.Equal(d("2.00")))
	assert.True(t, o.Groups[1].Discount.Equal(d("2.50")))

	used, err := f.coupons.CountRedemptions(context.Background(), "SAVE10", "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestCheckoutReleasesCouponWhenReservationFails(t *testing.T) {
	f := newFixture(t)
	saveCoupon(t, f, &coupon.Coupon{
		ID: "c1", Code: "SAVE10", Type: coupon.TypePercentage, Value: d("10"), UsageLimit: 1,
	})

	in := checkoutInput(checkout.LineInput{ProductID: "p1", Quantity: 99})
	in.CouponCode = "SAVE10"
	_, err := f.uc.Execute(context.Background(), in)
	require.ErrorIs(t, err, catalog.ErrOutOfStock)

	// The redemption claimed before the failed reservation is handed back.
	used, err := f.coupons.CountRedemptions(context.Background(), "SAVE10", "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	in.Lines = []checkout.LineInput{{ProductID: "p1", Quantity: 1}}
	_, err = f.uc.Execute(context.Background(), in)
	assert.NoError(t, err, "the released redemption is usable again")
}

func TestCheckoutRejectsExpiredCoupon(t *testing.T) {
	f := newFixture(t)
	saveCoupon(t, f, &coupon.Coupon{
		ID: "c1", Code: "OLD", Type: coupon.TypePercentage, Value: d("10"),
		ValidFrom:  time.Now().Add(-48 * time.Hour),
		ValidUntil: time.Now().Add(-24 * time.Hour),
	})

	in := checkoutInput(checkout.LineInput{ProductID: "p1", Quantity: 1})
	in.CouponCode = "OLD"
	_, err := f.uc.Execute(context.Background(), in)
	assert.ErrorIs(t, err, coupon.ErrExpired)
}

func TestCheckoutConcurrentStockRace(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.catalog.SaveProduct(context.Background(), &catalog.Product{
		ID: "scarce", SellerID: "seller-a", Title: "Last One", SKU: "LAST", Price: d("5.00"), Stock: 1, Active: true,
	}))

	const buyers = 8
	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := checkoutInput(checkout.LineInput{ProductID: "scarce", Quantity: 1})
			in.Actor = access.Actor{ID: fmt.Sprintf("buyer-%d", i), Role: access.RoleBuyer}
			if _, err := f.uc.Execute(context.Background(), in); err == nil {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load(), "exactly one buyer gets the last unit")
	p, err := f.catalog.GetProduct(context.Background(), "scarce")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestCheckoutConcurrentCouponLimit(t *testing.T) {
	f := newFixture(t)
	saveCoupon(t, f, &coupon.Coupon{
		ID: "c1", Code: "ONCE", Type: coupon.TypeFixedAmount, Value: d("5.00"), UsageLimit: 1,
	})

	const buyers = 8
	var wg sync.WaitGroup
	var redeemed atomic.Int32
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := checkoutInput(checkout.LineInput{ProductID: "p1", Quantity: 1})
			in.Actor = access.Actor{ID: fmt.Sprintf("buyer-%d", i), Role: access.RoleBuyer}
			in.CouponCode = "ONCE"
			if _, err := f.uc.Execute(context.Background(), in); err == nil {
				redeemed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), redeemed.Load(), "the single redemption goes to exactly one checkout")
}
