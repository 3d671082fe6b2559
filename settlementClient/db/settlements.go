package db

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crowdfund/settlement-node/settlementClient/store"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// InsertSettlement stores rec unless its signature is already known.
// It reports whether a new row was written.
func (d *DB) InsertSettlement(rec *store.SettlementRecord) (bool, error) {
	res := d.client.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "failed to insert settlement %s", rec.Signature)
	}
	return res.RowsAffected == 1, nil
}

// GetSettlement loads the record for signature.
func (d *DB) GetSettlement(signature string) (*store.SettlementRecord, error) {
	var rec store.SettlementRecord
	err := d.client.Where("signature = ?", signature).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load settlement %s", signature)
	}
	return &rec, nil
}

// MarkReported records the outcome of reporting signature to the backend.
// A nil reportErr marks it acknowledged.
func (d *DB) MarkReported(signature string, reportErr error) error {
	updates := map[string]any{"reported": reportErr == nil, "error_msg": ""}
	if reportErr != nil {
		updates["error_msg"] = reportErr.Error()
	}
	res := d.client.Model(&store.SettlementRecord{}).Where("signature = ?", signature).Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update settlement %s", signature)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConfirmed flags signature as confirmed on the ledger network.
func (d *DB) MarkConfirmed(signature string) error {
	res := d.client.Model(&store.SettlementRecord{}).Where("signature = ?", signature).Update("confirmed", true)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to confirm settlement %s", signature)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSettlements returns the newest settlements first, optionally for one project.
func (d *DB) ListSettlements(projectID string, limit int) ([]store.SettlementRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := d.client.Order("id DESC").Limit(limit)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	var out []store.SettlementRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list settlements")
	}
	return out, nil
}

// UnreportedSettlements returns settlements the backend has not acknowledged, oldest first.
func (d *DB) UnreportedSettlements(limit int) ([]store.SettlementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []store.SettlementRecord
	err := d.client.Where("reported = ?", false).Order("id ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unreported settlements")
	}
	return out, nil
}

// AppendDealStatus records a deal status change.
func (d *DB) AppendDealStatus(rec *store.DealRecord) error {
	if err := d.client.Create(rec).Error; err != nil {
		return errors.Wrapf(err, "failed to record status of deal %s", rec.DealID)
	}
	return nil
}

// DealHistory returns every recorded status of dealID, oldest first.
func (d *DB) DealHistory(dealID string) ([]store.DealRecord, error) {
	var out []store.DealRecord
	if err := d.client.Where("deal_id = ?", dealID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load deal %s", dealID)
	}
	return out, nil
}
