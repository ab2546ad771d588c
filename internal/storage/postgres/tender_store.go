package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// TenderStore upserts tenders by nomenclature.
type TenderStore struct {
	db DB
}

// NewTenderStore wraps db.
func NewTenderStore(db DB) (*TenderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TenderStore{db: db}, nil
}

const upsertTender = `
INSERT INTO tenders (nomenclatura, objeto, entidad, tipo_seleccion, url, key_dates, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (nomenclatura) DO UPDATE SET
	objeto = EXCLUDED.objeto,
	entidad = EXCLUDED.entidad,
	tipo_seleccion = EXCLUDED.tipo_seleccion,
	url = EXCLUDED.url,
	key_dates = EXCLUDED.key_dates,
	updated_at = now()
RETURNING id`

const insertStage = `INSERT INTO tender_stages (tender_id, position, name, start_date, end_date) VALUES ($1, $2, $3, $4, $5)`

// UpsertTender writes the tender row and replaces its stages in one
// transaction.
func (s *TenderStore) UpsertTender(ctx context.Context, tender scraper.TenderRecord) (err error) {
	key := strings.TrimSpace(tender.Nomenclatura)
	if key == "" {
		return fmt.Errorf("nomenclatura is required")
	}
	keyDates, err := json.Marshal(tender.KeyDates)
	if err != nil {
		return fmt.Errorf("marshal key dates: %w", err)
	}
	if tender.KeyDates == nil {
		keyDates = []byte("{}")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tender upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, upsertTender,
		key, tender.Objeto, tender.Entidad, tender.TipoSeleccion, tender.URL, keyDates,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upsert tender %s: %w", key, err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM tender_stages WHERE tender_id = $1`, id); err != nil {
		return fmt.Errorf("clear stages of %s: %w", key, err)
	}
	for i, st := range tender.Stages {
		if _, err = tx.Exec(ctx, insertStage, id, i, st.Name, st.StartDate, st.EndDate); err != nil {
			return fmt.Errorf("insert stage %d of %s: %w", i, key, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tender %s: %w", key, err)
	}
	return nil
}
