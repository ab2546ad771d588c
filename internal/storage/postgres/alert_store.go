package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/storage"
)

// AlertStore persists alerts deduplicated by fingerprint.
type AlertStore struct {
	db DB
}

// NewAlertStore wraps db.
func NewAlertStore(db DB) (*AlertStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AlertStore{db: db}, nil
}

const insertAlert = `
INSERT INTO alerts (
	source,
	fingerprint,
	titulo,
	contenido,
	fuente,
	url_origen,
	fecha_publicacion,
	region,
	entidad,
	monto,
	tipo
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (fingerprint) DO NOTHING`

// Save inserts alerts not seen before and returns the inserted ones.
func (s *AlertStore) Save(ctx context.Context, source string, alerts []scraper.NormalizedAlert) ([]scraper.NormalizedAlert, error) {
	var saved []scraper.NormalizedAlert
	for _, a := range alerts {
		tag, err := s.db.Exec(ctx, insertAlert,
			source,
			storage.Fingerprint(source, a),
			a.Titulo,
			a.Contenido,
			a.Fuente,
			a.URLOrigen,
			a.FechaPublicacion,
			a.Region,
			a.Entidad,
			a.Monto,
			a.Tipo,
		)
		if err != nil {
			return saved, fmt.Errorf("insert alert: %w", err)
		}
		if tag.RowsAffected() > 0 {
			saved = append(saved, a)
		}
	}
	return saved, nil
}

// MarkRead flags an alert as read.
func (s *AlertStore) MarkRead(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE alerts SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark alert %d read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// PurgeRead deletes read alerts of source stored before cutoff.
func (s *AlertStore) PurgeRead(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM alerts WHERE source = $1 AND read AND created_at < $2`,
		source, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge alerts of %s: %w", source, err)
	}
	return tag.RowsAffected(), nil
}

const listAlerts = `
SELECT id, source, fingerprint, read, created_at,
	titulo, contenido, fuente, url_origen, fecha_publicacion, region, entidad, monto, tipo
FROM alerts
WHERE ($1 = '' OR source = $1) AND (NOT $2 OR NOT read)
ORDER BY id DESC
LIMIT $3`

// ListAlerts returns matching alerts, newest first.
func (s *AlertStore) ListAlerts(ctx context.Context, f storage.AlertFilter) ([]storage.StoredAlert, error) {
	rows, err := s.db.Query(ctx, listAlerts, f.Source, f.UnreadOnly, f.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredAlert
	for rows.Next() {
		var a storage.StoredAlert
		if err := rows.Scan(
			&a.ID, &a.Source, &a.Fingerprint, &a.Read, &a.CreatedAt,
			&a.Alert.Titulo, &a.Alert.Contenido, &a.Alert.Fuente, &a.Alert.URLOrigen,
			&a.Alert.FechaPublicacion, &a.Alert.Region, &a.Alert.Entidad, &a.Alert.Monto, &a.Alert.Tipo,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}
