package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/o2o/erpsync/internal/domain/invoice"
	"github.com/o2o/erpsync/internal/domain/shared"
	"github.com/o2o/erpsync/internal/infrastructure/persistence/models"
)

// GormExternalInvoiceRepository implements invoice.ExternalInvoiceRepository
// over the ProcureUAT po_invoices table.
type GormExternalInvoiceRepository struct {
	db    *gorm.DB
	table string
	now   func() time.Time
}

// NewGormExternalInvoiceRepository creates a repository. An empty table selects po_invoices.
func NewGormExternalInvoiceRepository(db *gorm.DB, table string) *GormExternalInvoiceRepository {
	if table == "" {
		table = models.ExternalInvoiceModel{}.TableName()
	}
	return &GormExternalInvoiceRepository{db: db, table: table, now: time.Now}
}

// FindByERPReference finds the row linked to an ERPNext document
func (r *GormExternalInvoiceRepository) FindByERPReference(ctx context.Context, ref string) (*invoice.ExternalInvoice, error) {
	return r.findByERPReference(r.db.WithContext(ctx), ref)
}

func (r *GormExternalInvoiceRepository) findByERPReference(db *gorm.DB, ref string) (*invoice.ExternalInvoice, error) {
	var m models.ExternalInvoiceModel
	if err := db.Table(r.table).Where("erp_reference = ?", ref).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, classifyStoreError("find po invoice", err)
	}
	inv := m.ToDomain()
	return &inv, nil
}

// Upsert inserts inv, or updates the row holding the same ERPReference.
// On return inv carries the row ID and timestamps.
func (r *GormExternalInvoiceRepository) Upsert(ctx context.Context, inv *invoice.ExternalInvoice) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *invoice.ExternalInvoice
		if inv.ERPReference != "" {
			found, err := r.findByERPReference(tx, inv.ERPReference)
			if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			existing = found
		}

		now := r.now().UTC()
		if existing == nil {
			inv.ID = 0
			inv.CreatedAt = now
			inv.UpdatedAt = now
			m := models.ExternalInvoiceModelFromDomain(inv)
			if err := tx.Table(r.table).Create(m).Error; err != nil {
				return translateWriteError("insert po invoice", err)
			}
			inv.ID = m.ID
			changed = true
			return nil
		}

		inv.ID = existing.ID
		inv.CreatedAt = existing.CreatedAt
		if existing.SameContent(inv) {
			inv.UpdatedAt = existing.UpdatedAt
			return nil
		}

		inv.UpdatedAt = now
		m := models.ExternalInvoiceModelFromDomain(inv)
		if err := tx.Table(r.table).
			Where("id = ?", inv.ID).
			Select("*").
			Omit("id", "created_at").
			Updates(m).Error; err != nil {
			return translateWriteError("update po invoice", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListUpdatedSince returns rows changed after since, oldest first
func (r *GormExternalInvoiceRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]invoice.ExternalInvoice, error) {
	var rows []models.ExternalInvoiceModel
	query := r.db.WithContext(ctx).
		Table(r.table).
		Where("updated_at > ?", since.UTC()).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, classifyStoreError("list po invoices", err)
	}
	out := make([]invoice.ExternalInvoice, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// SetERPReference links row id to an ERPNext document
func (r *GormExternalInvoiceRepository) SetERPReference(ctx context.Context, id int64, ref string) error {
	return r.setColumn(ctx, id, "erp_reference", ref)
}

// SetInvoiceNumber stores an allocated invoice code on row id
func (r *GormExternalInvoiceRepository) SetInvoiceNumber(ctx context.Context, id int64, code string) error {
	return r.setColumn(ctx, id, "invoice_number", code)
}

// setColumn writes one column without touching updated_at, so the pull cursor
// does not pick the row up again.
func (r *GormExternalInvoiceRepository) setColumn(ctx context.Context, id int64, column, value string) error {
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("id = ?", id).
		UpdateColumn(column, value).Error
	if err != nil {
		return translateWriteError("set "+column, err)
	}
	return nil
}

func translateWriteError(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s: %v", shared.ErrAlreadyExists, op, err)
	}
	return classifyStoreError(op, err)
}
