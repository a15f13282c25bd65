package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o2o/erpsync/internal/domain/invoice"
	"github.com/o2o/erpsync/internal/domain/shared"
	"github.com/o2o/erpsync/internal/infrastructure/persistence/models"
)

func newExternalInvoiceRepo(t *testing.T) (*GormExternalInvoiceRepository, *Database) {
	t.Helper()
	db := newSQLiteDB(t)
	require.NoError(t, db.DB.AutoMigrate(&models.ExternalInvoiceModel{}))
	repo := NewGormExternalInvoiceRepository(db.DB, "")
	return repo, db
}

func sampleExternalInvoice(ref string) *invoice.ExternalInvoice {
	return &invoice.ExternalInvoice{
		InvoiceNumber: "AGO2O/25-26/0001",
		OrderCode:     "PO-7781",
		VendorCode:    "SUP-001",
		InvoiceDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		BillReference: "BILL-1",
		SubTotal:      decimal.RequireFromString("1000.00"),
		CGST:          decimal.RequireFromString("90.00"),
		SGST:          decimal.RequireFromString("90.00"),
		IGST:          decimal.Zero,
		TotalAmount:   decimal.RequireFromString("1180.00"),
		Status:        invoice.StatusApproved,
		ERPReference:  ref,
	}
}

func TestGormExternalInvoiceRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts new row", func(t *testing.T) {
		repo, _ := newExternalInvoiceRepo(t)
		inv := sampleExternalInvoice("ACC-PINV-2025-00001")

		changed, err := repo.Upsert(ctx, inv)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NotZero(t, inv.ID)

		got, err := repo.FindByERPReference(ctx, "ACC-PINV-2025-00001")
		require.NoError(t, err)
		assert.True(t, got.SameContent(inv))
	})

	t.Run("identical content is not rewritten", func(t *testing.T) {
		repo, _ := newExternalInvoiceRepo(t)
		repo.now = func() time.Time { return fixedNow }
		first := sampleExternalInvoice("ACC-PINV-2025-00002")
		_, err := repo.Upsert(ctx, first)
		require.NoError(t, err)

		repo.now = func() time.Time { return fixedNow.Add(time.Hour) }
		again := sampleExternalInvoice("ACC-PINV-2025-00002")
		changed, err := repo.Upsert(ctx, again)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, first.ID, again.ID)

		got, err := repo.FindByERPReference(ctx, "ACC-PINV-2025-00002")
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.Equal(fixedNow))
	})

	t.Run("changed content updates the row", func(t *testing.T) {
		repo, _ := newExternalInvoiceRepo(t)
		_, err := repo.Upsert(ctx, sampleExternalInvoice("ACC-PINV-2025-00003"))
		require.NoError(t, err)

		upd := sampleExternalInvoice("ACC-PINV-2025-00003")
		upd.Status = invoice.StatusPaid
		changed, err := repo.Upsert(ctx, upd)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := repo.FindByERPReference(ctx, "ACC-PINV-2025-00003")
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusPaid, got.Status)
		assert.Equal(t, upd.ID, got.ID)
	})

	t.Run("duplicate invoice number is rejected", func(t *testing.T) {
		repo, _ := newExternalInvoiceRepo(t)
		_, err := repo.Upsert(ctx, sampleExternalInvoice("ACC-PINV-2025-00004"))
		require.NoError(t, err)

		_, err = repo.Upsert(ctx, sampleExternalInvoice("ACC-PINV-2025-00005"))
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("rows without a code or reference coexist", func(t *testing.T) {
		repo, _ := newExternalInvoiceRepo(t)
		for i := 0; i < 2; i++ {
			inv := sampleExternalInvoice("")
			inv.InvoiceNumber = ""
			_, err := repo.Upsert(ctx, inv)
			require.NoError(t, err)
		}
	})
}

func TestGormExternalInvoiceRepository_FindByERPReference_NotFound(t *testing.T) {
	repo, _ := newExternalInvoiceRepo(t)
	_, err := repo.FindByERPReference(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormExternalInvoiceRepository_ListUpdatedSince(t *testing.T) {
	repo, _ := newExternalInvoiceRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, ref := range []string{"A", "B", "C"} {
		repo.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		inv := sampleExternalInvoice(ref)
		inv.InvoiceNumber = ""
		_, err := repo.Upsert(ctx, inv)
		require.NoError(t, err)
	}

	rows, err := repo.ListUpdatedSince(ctx, base, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].ERPReference)
	assert.Equal(t, "C", rows[1].ERPReference)

	rows, err = repo.ListUpdatedSince(ctx, time.Time{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0].ERPReference)
}

func TestGormExternalInvoiceRepository_SetColumnsKeepUpdatedAt(t *testing.T) {
	repo, _ := newExternalInvoiceRepo(t)
	ctx := context.Background()
	repo.now = func() time.Time { return fixedNow }

	inv := sampleExternalInvoice("")
	inv.InvoiceNumber = ""
	_, err := repo.Upsert(ctx, inv)
	require.NoError(t, err)

	require.NoError(t, repo.SetERPReference(ctx, inv.ID, "ACC-PINV-2025-00042"))
	require.NoError(t, repo.SetInvoiceNumber(ctx, inv.ID, "AGO2O/25-26/0042"))

	got, err := repo.FindByERPReference(ctx, "ACC-PINV-2025-00042")
	require.NoError(t, err)
	assert.Equal(t, "AGO2O/25-26/0042", got.InvoiceNumber)
	assert.True(t, got.UpdatedAt.Equal(fixedNow))
}
