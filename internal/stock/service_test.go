package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/danielcervantes/clinicpos-backend/pkg/db/models"
	"github.com/danielcervantes/clinicpos-backend/pkg/enums"
	pkgerrors "github.com/danielcervantes/clinicpos-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedProduct(t *testing.T, db *gorm.DB, sku string) *models.Product {
	t.Helper()
	product := &models.Product{
		SKU:       sku,
		Name:      "Product " + sku,
		UnitPrice: decimal.NewFromInt(10),
		Active:    true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func seedLocation(t *testing.T, db *gorm.DB, code string, active bool) *models.StockLocation {
	t.Helper()
	location := &models.StockLocation{
		Code:   code,
		Name:   "Location " + code,
		Type:   enums.LocationTypeDispensary,
		Active: active,
	}
	if err := db.Create(location).Error; err != nil {
		t.Fatalf("seed location: %v", err)
	}
	return location
}

func onHandQty(t *testing.T, db *gorm.DB, productID, locationID, batchID uuid.UUID) int {
	t.Helper()
	var row models.StockOnHand
	err := db.Where("product_id = ? AND location_id = ? AND batch_id = ?", productID, locationID, batchID).
		First(&row).Error
	if err != nil {
		t.Fatalf("load on-hand: %v", err)
	}
	return row.Quantity
}

func TestReceiveStockCreatesBatchAndBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "AMOX-500")
	location := seedLocation(t, db, "main", true)
	actor := uuid.New()
	expiry := time.Now().UTC().AddDate(1, 0, 0)

	move, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "main",
		ProductID:    product.ID,
		BatchNumber:  "LOT-1",
		ExpiryDate:   &expiry,
		Quantity:     25,
		ActorID:      actor,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if move.Type != enums.MoveTypePurchaseIn || move.Quantity != 25 {
		t.Fatalf("unexpected move: %+v", move)
	}
	if move.ActorID != actor {
		t.Fatalf("expected actor %s on move, got %s", actor, move.ActorID)
	}

	var batch models.StockBatch
	if err := db.First(&batch, "product_id = ? AND batch_number = ?", product.ID, "LOT-1").Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if got := onHandQty(t, db, product.ID, location.ID, batch.ID); got != 25 {
		t.Fatalf("expected on-hand 25, got %d", got)
	}
}

func TestReceiveStockReusesBatch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "IBU-400")
	location := seedLocation(t, db, "main", true)
	actor := uuid.New()

	for _, qty := range []int{10, 5} {
		if _, err := svc.ReceiveStock(ctx, ReceiveInput{
			LocationCode: "main",
			ProductID:    product.ID,
			BatchNumber:  "LOT-9",
			Quantity:     qty,
			ActorID:      actor,
		}); err != nil {
			t.Fatalf("receive %d: %v", qty, err)
		}
	}

	var batchCount int64
	if err := db.Model(&models.StockBatch{}).Where("product_id = ?", product.ID).Count(&batchCount).Error; err != nil {
		t.Fatalf("count batches: %v", err)
	}
	if batchCount != 1 {
		t.Fatalf("expected 1 batch, got %d", batchCount)
	}

	var batch models.StockBatch
	if err := db.First(&batch, "product_id = ?", product.ID).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if got := onHandQty(t, db, product.ID, location.ID, batch.ID); got != 15 {
		t.Fatalf("expected on-hand 15, got %d", got)
	}
}

func TestReceiveStockLocationChecks(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "PARA-500")
	seedLocation(t, db, "closed", false)

	_, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "missing", ProductID: product.ID, BatchNumber: "L", Quantity: 1, ActorID: uuid.New(),
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}

	_, err = svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "closed", ProductID: product.ID, BatchNumber: "L", Quantity: 1, ActorID: uuid.New(),
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state-conflict, got %v", err)
	}
}

func TestAdjustStockBelowZeroRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "CET-10")
	location := seedLocation(t, db, "main", true)
	actor := uuid.New()

	if _, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1", Quantity: 3, ActorID: actor,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	_, err := svc.AdjustStock(ctx, AdjustInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1",
		Quantity: -5, Reason: "count correction", ActorID: actor,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient-stock, got %v", err)
	}

	// The rejected adjustment must leave no trace: one move from the
	// receive, balance untouched.
	var moveCount int64
	if err := db.Model(&models.StockMove{}).Where("product_id = ?", product.ID).Count(&moveCount).Error; err != nil {
		t.Fatalf("count moves: %v", err)
	}
	if moveCount != 1 {
		t.Fatalf("expected 1 move, got %d", moveCount)
	}
	var batch models.StockBatch
	if err := db.First(&batch, "product_id = ?", product.ID).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if got := onHandQty(t, db, product.ID, location.ID, batch.ID); got != 3 {
		t.Fatalf("expected on-hand 3, got %d", got)
	}
}

func TestAdjustStockRequiresReason(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.AdjustStock(context.Background(), AdjustInput{
		LocationCode: "main", ProductID: uuid.New(), BatchNumber: "L", Quantity: -1, ActorID: uuid.New(),
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransferStockLinksMoves(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "OME-20")
	from := seedLocation(t, db, "storage", true)
	to := seedLocation(t, db, "front", true)
	actor := uuid.New()

	if _, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "storage", ProductID: product.ID, BatchNumber: "LOT-7", Quantity: 8, ActorID: actor,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	moves, err := svc.TransferStock(ctx, TransferInput{
		FromLocationCode: "storage", ToLocationCode: "front",
		ProductID: product.ID, BatchNumber: "LOT-7", Quantity: 6, ActorID: actor,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(moves))
	}
	out, in := moves[0], moves[1]
	if out.Type != enums.MoveTypeTransferOut || out.Quantity != -6 {
		t.Fatalf("unexpected out move: %+v", out)
	}
	if in.Type != enums.MoveTypeTransferIn || in.Quantity != 6 {
		t.Fatalf("unexpected in move: %+v", in)
	}
	if in.SourceMoveID == nil || *in.SourceMoveID != out.ID {
		t.Fatalf("expected in move to reference out move %d, got %v", out.ID, in.SourceMoveID)
	}

	var batch models.StockBatch
	if err := db.First(&batch, "product_id = ?", product.ID).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if got := onHandQty(t, db, product.ID, from.ID, batch.ID); got != 2 {
		t.Fatalf("expected 2 left at source, got %d", got)
	}
	if got := onHandQty(t, db, product.ID, to.ID, batch.ID); got != 6 {
		t.Fatalf("expected 6 at destination, got %d", got)
	}
}

func TestRecordWaste(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "INS-100")
	location := seedLocation(t, db, "fridge", true)
	actor := uuid.New()

	if _, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "fridge", ProductID: product.ID, BatchNumber: "LOT-3", Quantity: 4, ActorID: actor,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	move, err := svc.RecordWaste(ctx, WasteInput{
		LocationCode: "fridge", ProductID: product.ID, BatchNumber: "LOT-3", Quantity: 4, ActorID: actor,
	})
	if err != nil {
		t.Fatalf("waste: %v", err)
	}
	if move.Type != enums.MoveTypeWasteOut || move.Quantity != -4 {
		t.Fatalf("unexpected move: %+v", move)
	}
	if got := onHandQty(t, db, product.ID, location.ID, *move.BatchID); got != 0 {
		t.Fatalf("expected empty balance, got %d", got)
	}
}

func TestLedgerReconciliation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	repo := NewRepository(db)
	ctx := context.Background()
	product := seedProduct(t, db, "VIT-D3")
	location := seedLocation(t, db, "main", true)
	actor := uuid.New()

	if _, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1", Quantity: 20, ActorID: actor,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, err := svc.AdjustStock(ctx, AdjustInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1",
		Quantity: -3, Reason: "broken blister packs", ActorID: actor,
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if _, err := svc.RecordWaste(ctx, WasteInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1", Quantity: 2, ActorID: actor,
	}); err != nil {
		t.Fatalf("waste: %v", err)
	}

	var batch models.StockBatch
	if err := db.First(&batch, "product_id = ?", product.ID).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}

	// The cached balance and the signed move sum must always agree.
	sum, err := repo.SumMovesForKey(ctx, product.ID, location.ID, batch.ID)
	if err != nil {
		t.Fatalf("sum moves: %v", err)
	}
	balance := onHandQty(t, db, product.ID, location.ID, batch.ID)
	if sum != balance || balance != 15 {
		t.Fatalf("ledger out of balance: moves sum %d, on-hand %d", sum, balance)
	}
}

func TestOnHandSnapshot(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, "MEL-3")
	seedLocation(t, db, "main", true)
	actor := uuid.New()

	if _, err := svc.ReceiveStock(ctx, ReceiveInput{
		LocationCode: "main", ProductID: product.ID, BatchNumber: "LOT-1", Quantity: 7, ActorID: actor,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	rows, err := svc.OnHand(ctx, "main")
	if err != nil {
		t.Fatalf("on hand: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].ProductID != product.ID || rows[0].Quantity != 7 || rows[0].BatchNumber != "LOT-1" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	if _, err := svc.OnHand(ctx, "nowhere"); pkgerrors.As(err) == nil {
		t.Fatalf("expected error for unknown location, got %v", err)
	}
}
