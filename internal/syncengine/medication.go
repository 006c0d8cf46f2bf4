package syncengine

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
	"github.com/alexjbarnes/medsync/internal/store"
)

const medicationIDField = "medicationId"

// CreateMedication stores a medication and its frequency together. Both
// rows are written in one transaction, so a failing frequency leaves no
// medication behind.
func (e *Engine) CreateMedication(ctx context.Context, ownerID string, med models.Medication, freq models.Frequency) (medID, freqID int64, err error) {
	medRow, err := models.ToRow(med)
	if err != nil {
		return 0, 0, err
	}

	freqRow, err := models.ToRow(freq)
	if err != nil {
		return 0, 0, err
	}

	for _, row := range []models.Row{medRow, freqRow} {
		row[models.FieldOwnerID] = ownerID
		delete(row, models.FieldSyncStatus)
	}

	err = e.store.InTx(ctx, func(tx *store.Store) error {
		medID, err = tx.Add(ctx, resource.Medication, medRow, models.StatusAdded)
		if err != nil {
			return fmt.Errorf("adding medication: %w", err)
		}

		freqRow[medicationIDField] = medID

		freqID, err = tx.Add(ctx, resource.Frequency, freqRow, models.StatusAdded)
		if err != nil {
			return fmt.Errorf("adding frequency: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	e.propagate(ctx, ownerID, resource.Frequency, resource.Medication)

	return medID, freqID, nil
}

// UpdateMedication applies medication changes and, when freqChanges is
// non-nil, frequency changes in one transaction. A medication without a
// live frequency gets one.
func (e *Engine) UpdateMedication(ctx context.Context, ownerID string, id int64, medChanges, freqChanges models.Row) error {
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		if err := updateRow(ctx, tx, resource.Medication, id, medChanges); err != nil {
			return err
		}

		if freqChanges == nil {
			return nil
		}

		freqs, err := tx.GetBy(ctx, resource.Frequency, medicationIDField, id)
		if err != nil {
			return err
		}

		if len(freqs) == 0 {
			row := freqChanges.Clone()
			row[medicationIDField] = id
			row[models.FieldOwnerID] = ownerID
			delete(row, models.FieldID)
			delete(row, models.FieldSyncStatus)

			_, err := tx.Add(ctx, resource.Frequency, row, models.StatusAdded)

			return err
		}

		return updateRow(ctx, tx, resource.Frequency, freqs[0].ID(), freqChanges)
	})
	if err != nil {
		return err
	}

	e.propagate(ctx, ownerID, resource.Frequency, resource.Medication)

	return nil
}

// DeleteMedication tombstones a medication and its frequency together.
func (e *Engine) DeleteMedication(ctx context.Context, ownerID string, id int64) error {
	err := e.store.InTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Delete(ctx, resource.Medication, id, ""); err != nil {
			return err
		}

		_, err := tx.Delete(ctx, resource.Frequency, id, medicationIDField)

		return err
	})
	if err != nil {
		return err
	}

	e.propagate(ctx, ownerID, resource.Frequency, resource.Medication)

	return nil
}

// Medications returns the owner's live medications.
func (e *Engine) Medications(ctx context.Context, ownerID string) ([]models.Medication, error) {
	rows, err := e.store.GetAll(ctx, resource.Medication, ownerID)
	if err != nil {
		return nil, err
	}

	meds := make([]models.Medication, 0, len(rows))

	for _, row := range rows {
		var m models.Medication
		if err := models.FromRow(row, &m); err != nil {
			return nil, err
		}

		meds = append(meds, m)
	}

	return meds, nil
}
