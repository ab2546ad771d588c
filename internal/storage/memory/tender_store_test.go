package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/storage"
)

func TestTenderStoreUpsertReplacesStages(t *testing.T) {
	t.Parallel()

	store := NewTenderStore()
	ctx := context.Background()
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	tender := scraper.TenderRecord{
		Nomenclatura: "AS-SM-12-2025-MDSI/CS-1",
		Objeto:       "MANTENIMIENTO DE PARQUES",
		Stages: []scraper.Stage{
			{Name: "Convocatoria", StartDate: &day},
			{Name: "Buena Pro", StartDate: &day},
		},
		KeyDates: map[string]time.Time{"publicacion": day},
	}
	require.NoError(t, store.UpsertTender(ctx, tender))
	require.NoError(t, store.UpsertTender(ctx, tender))

	all, err := store.ListTenders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Stages, 2)

	tender.Objeto = "MANTENIMIENTO DE PARQUES Y JARDINES"
	tender.Stages = tender.Stages[:1]
	require.NoError(t, store.UpsertTender(ctx, tender))

	got, err := store.GetTender(ctx, tender.Nomenclatura)
	require.NoError(t, err)
	require.Equal(t, "MANTENIMIENTO DE PARQUES Y JARDINES", got.Objeto)
	require.Len(t, got.Stages, 1)

	got.KeyDates["publicacion"] = time.Time{}
	again, err := store.GetTender(ctx, tender.Nomenclatura)
	require.NoError(t, err)
	require.Equal(t, day, again.KeyDates["publicacion"])
}

func TestTenderStoreValidation(t *testing.T) {
	t.Parallel()

	store := NewTenderStore()
	require.Error(t, store.UpsertTender(context.Background(), scraper.TenderRecord{Nomenclatura: "  "}))

	_, err := store.GetTender(context.Background(), "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))
}
