package sales

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/internal/stock"
	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:sales_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.StockLocation{},
		&models.StockBatch{},
		&models.StockOnHand{},
		&models.StockMove{},
		&models.Sale{},
		&models.SaleLine{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type testEnv struct {
	db    *gorm.DB
	sales Service
	stock stock.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	runner := gormTxRunner{db: db}

	stockRepo := stock.NewRepository(db)
	stockSvc, err := stock.NewService(stockRepo, runner, nil)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}
	salesSvc, err := NewService(NewRepository(db), stockRepo, stockSvc, runner, "main")
	if err != nil {
		t.Fatalf("sales service: %v", err)
	}
	return &testEnv{db: db, sales: salesSvc, stock: stockSvc}
}

func (e *testEnv) seedProduct(t *testing.T, sku string) *models.Product {
	t.Helper()
	product := &models.Product{SKU: sku, Name: sku, UnitPrice: decimal.NewFromInt(10), Active: true}
	if err := e.db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func (e *testEnv) seedLocation(t *testing.T, code string) *models.StockLocation {
	t.Helper()
	location := &models.StockLocation{Code: code, Name: code, Type: enums.LocationTypeDispensary, Active: true}
	if err := e.db.Create(location).Error; err != nil {
		t.Fatalf("seed location: %v", err)
	}
	return location
}

func (e *testEnv) receive(t *testing.T, productID uuid.UUID, batch string, qty int, expiry *time.Time) {
	t.Helper()
	_, err := e.stock.ReceiveStock(context.Background(), stock.ReceiveInput{
		LocationCode: "main",
		ProductID:    productID,
		BatchNumber:  batch,
		ExpiryDate:   expiry,
		Quantity:     qty,
		ActorID:      uuid.New(),
	})
	if err != nil {
		t.Fatalf("receive %s: %v", batch, err)
	}
}

func (e *testEnv) seedSale(t *testing.T, status enums.SaleStatus, lines []models.SaleLine) *models.Sale {
	t.Helper()
	total := decimal.Zero
	for i := range lines {
		if lines[i].LineTotal.IsZero() {
			lines[i].LineTotal = lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Quantity)))
		}
		total = total.Add(lines[i].LineTotal)
	}
	sale := &models.Sale{
		Status:        status,
		RefundStatus:  enums.RefundStatusNone,
		Subtotal:      total,
		DiscountTotal: decimal.Zero,
		Total:         total,
		Lines:         lines,
	}
	if err := e.db.Create(sale).Error; err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	return sale
}

func productLine(productID uuid.UUID, qty int) models.SaleLine {
	return models.SaleLine{
		ProductID:   &productID,
		Description: "product line",
		Quantity:    qty,
		UnitPrice:   decimal.NewFromInt(10),
		Discount:    decimal.Zero,
	}
}

func serviceLine(qty int) models.SaleLine {
	return models.SaleLine{
		Description: "consultation",
		Quantity:    qty,
		UnitPrice:   decimal.NewFromInt(50),
		Discount:    decimal.Zero,
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	reason := "changed their mind"

	cases := []struct {
		name string
		from enums.SaleStatus
		to   enums.SaleStatus
		ok   bool
	}{
		{"draft to pending", enums.SaleStatusDraft, enums.SaleStatusPending, true},
		{"draft to cancelled", enums.SaleStatusDraft, enums.SaleStatusCancelled, true},
		{"draft to paid", enums.SaleStatusDraft, enums.SaleStatusPaid, false},
		{"draft to refunded", enums.SaleStatusDraft, enums.SaleStatusRefunded, false},
		{"pending to cancelled", enums.SaleStatusPending, enums.SaleStatusCancelled, true},
		{"pending to draft", enums.SaleStatusPending, enums.SaleStatusDraft, false},
		{"paid to pending", enums.SaleStatusPaid, enums.SaleStatusPending, false},
		{"paid to cancelled", enums.SaleStatusPaid, enums.SaleStatusCancelled, false},
		{"cancelled is terminal", enums.SaleStatusCancelled, enums.SaleStatusPending, false},
		{"refunded is terminal", enums.SaleStatusRefunded, enums.SaleStatusPaid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sale := env.seedSale(t, tc.from, []models.SaleLine{serviceLine(1)})
			_, err := env.sales.TransitionTo(ctx, TransitionInput{
				SaleID:  sale.ID,
				Target:  tc.to,
				Reason:  &reason,
				ActorID: uuid.New(),
			})
			if tc.ok && err != nil {
				t.Fatalf("expected transition to succeed: %v", err)
			}
			if !tc.ok {
				if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
					t.Fatalf("expected state-conflict, got %v", err)
				}
			}
		})
	}
}

func TestCancelRequiresReason(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{serviceLine(1)})

	_, err := env.sales.TransitionTo(ctx, TransitionInput{
		SaleID: sale.ID, Target: enums.SaleStatusCancelled, ActorID: uuid.New(),
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	blank := "   "
	_, err = env.sales.TransitionTo(ctx, TransitionInput{
		SaleID: sale.ID, Target: enums.SaleStatusCancelled, Reason: &blank, ActorID: uuid.New(),
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for blank reason, got %v", err)
	}

	reason := "patient left"
	if _, err := env.sales.TransitionTo(ctx, TransitionInput{
		SaleID: sale.ID, Target: enums.SaleStatusCancelled, Reason: &reason, ActorID: uuid.New(),
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var stored models.Sale
	if err := env.db.First(&stored, "id = ?", sale.ID).Error; err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if stored.Status != enums.SaleStatusCancelled || stored.CancelReason == nil || *stored.CancelReason != "patient left" {
		t.Fatalf("unexpected sale state: %+v", stored)
	}
}

func TestConsumeAllocatesFEFO(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	product := env.seedProduct(t, "AMOX-500")

	now := time.Now().UTC()
	later := now.AddDate(0, 6, 0)
	sooner := now.AddDate(0, 1, 0)
	env.receive(t, product.ID, "B1", 10, &later)
	env.receive(t, product.ID, "B2", 3, &sooner)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{productLine(product.ID, 5)})

	moves, err := env.sales.ConsumeStockForSale(ctx, ConsumeInput{SaleID: sale.ID, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}

	var b1, b2 models.StockBatch
	if err := env.db.First(&b1, "batch_number = ?", "B1").Error; err != nil {
		t.Fatalf("load B1: %v", err)
	}
	if err := env.db.First(&b2, "batch_number = ?", "B2").Error; err != nil {
		t.Fatalf("load B2: %v", err)
	}

	// B2 expires first so it drains first: 3 from B2, then 2 from B1.
	if *moves[0].BatchID != b2.ID || moves[0].Quantity != -3 {
		t.Fatalf("unexpected first move: %+v", moves[0])
	}
	if *moves[1].BatchID != b1.ID || moves[1].Quantity != -2 {
		t.Fatalf("unexpected second move: %+v", moves[1])
	}

	var stored models.Sale
	if err := env.db.First(&stored, "id = ?", sale.ID).Error; err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if stored.Status != enums.SaleStatusPaid || stored.PaidAt == nil {
		t.Fatalf("expected paid sale with timestamp, got %+v", stored)
	}
}

func TestConsumeIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	product := env.seedProduct(t, "IBU-400")
	env.receive(t, product.ID, "B1", 10, nil)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{productLine(product.ID, 4)})
	input := ConsumeInput{SaleID: sale.ID, ActorID: uuid.New()}

	first, err := env.sales.ConsumeStockForSale(ctx, input)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	second, err := env.sales.ConsumeStockForSale(ctx, input)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if len(first) != 1 || len(second) != 1 || first[0].ID != second[0].ID {
		t.Fatalf("expected retry to return the original move set, got %+v vs %+v", first, second)
	}

	var moveCount int64
	if err := env.db.Model(&models.StockMove{}).Where("sale_id = ?", sale.ID).Count(&moveCount).Error; err != nil {
		t.Fatalf("count moves: %v", err)
	}
	if moveCount != 1 {
		t.Fatalf("expected 1 move after retry, got %d", moveCount)
	}
}

func TestConsumeInsufficientRollsBackAllLines(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	covered := env.seedProduct(t, "PARA-500")
	short := env.seedProduct(t, "CET-10")
	env.receive(t, covered.ID, "B1", 10, nil)
	env.receive(t, short.ID, "B2", 1, nil)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{
		productLine(covered.ID, 5),
		productLine(short.ID, 3),
	})

	_, err := env.sales.ConsumeStockForSale(ctx, ConsumeInput{SaleID: sale.ID, ActorID: uuid.New()})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient-stock, got %v", err)
	}

	// The covered line must roll back with the short one.
	var moveCount int64
	if err := env.db.Model(&models.StockMove{}).Where("sale_id = ?", sale.ID).Count(&moveCount).Error; err != nil {
		t.Fatalf("count moves: %v", err)
	}
	if moveCount != 0 {
		t.Fatalf("expected no moves, got %d", moveCount)
	}
	var stored models.Sale
	if err := env.db.First(&stored, "id = ?", sale.ID).Error; err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if stored.Status != enums.SaleStatusPending {
		t.Fatalf("expected sale to stay pending, got %s", stored.Status)
	}
}

func TestConsumeSkipsServiceLines(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	product := env.seedProduct(t, "OME-20")
	env.receive(t, product.ID, "B1", 10, nil)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{
		serviceLine(1),
		productLine(product.ID, 2),
	})

	moves, err := env.sales.ConsumeStockForSale(ctx, ConsumeInput{SaleID: sale.ID, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(moves) != 1 || moves[0].ProductID != product.ID {
		t.Fatalf("expected a single product move, got %+v", moves)
	}

	// A sale of services alone still reaches paid without touching stock.
	servicesOnly := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{serviceLine(2)})
	moves, err = env.sales.ConsumeStockForSale(ctx, ConsumeInput{SaleID: servicesOnly.ID, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("consume services-only: %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("expected no moves, got %+v", moves)
	}
	var stored models.Sale
	if err := env.db.First(&stored, "id = ?", servicesOnly.ID).Error; err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if stored.Status != enums.SaleStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}
}

func TestConsumeExpiredStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	product := env.seedProduct(t, "INS-100")

	past := time.Now().UTC().AddDate(0, -2, 0)
	env.receive(t, product.ID, "OLD", 10, &past)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{productLine(product.ID, 5)})

	_, err := env.sales.ConsumeStockForSale(ctx, ConsumeInput{SaleID: sale.ID, ActorID: uuid.New()})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeExpiredStock {
		t.Fatalf("expected expired-stock, got %v", err)
	}

	// An explicit override consumes the expired batch.
	moves, err := env.sales.ConsumeStockForSale(ctx, ConsumeInput{
		SaleID: sale.ID, AllowExpired: true, ActorID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("consume with override: %v", err)
	}
	if len(moves) != 1 || moves[0].Quantity != -5 {
		t.Fatalf("unexpected moves: %+v", moves)
	}
}

func TestTransitionToPaidConsumes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedLocation(t, "main")
	product := env.seedProduct(t, "VIT-D3")
	env.receive(t, product.ID, "B1", 10, nil)

	sale := env.seedSale(t, enums.SaleStatusPending, []models.SaleLine{productLine(product.ID, 4)})

	updated, err := env.sales.TransitionTo(ctx, TransitionInput{
		SaleID: sale.ID, Target: enums.SaleStatusPaid, ActorID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != enums.SaleStatusPaid {
		t.Fatalf("expected paid, got %s", updated.Status)
	}

	moves, err := env.sales.MovesForSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("moves: %v", err)
	}
	if len(moves) != 1 || moves[0].Type != enums.MoveTypeSaleOut || moves[0].Quantity != -4 {
		t.Fatalf("unexpected moves: %+v", moves)
	}
}
