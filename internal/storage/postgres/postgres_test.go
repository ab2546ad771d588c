package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/storage"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS settings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoresRequirePool(t *testing.T) {
	t.Parallel()

	_, err := NewSettingsStore(nil)
	require.Error(t, err)
	_, err = NewTenderStore(nil)
	require.Error(t, err)
	_, err = NewAlertStore(nil)
	require.Error(t, err)
}

func TestSettingsStoreGetSet(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewSettingsStore(mock)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs("source:elperuano").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err := store.Get(ctx, "source:elperuano")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec("INSERT INTO settings").
		WithArgs("source:elperuano", `{"enabled":true}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Set(ctx, "source:elperuano", `{"enabled":true}`))

	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs("source:elperuano").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(`{"enabled":true}`))
	value, ok, err := store.Get(ctx, "source:elperuano")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"enabled":true}`, value)

	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs("source:oece").
		WillReturnError(errors.New("connection reset"))
	_, _, err = store.Get(ctx, "source:oece")
	require.ErrorContains(t, err, "connection reset")

	require.NoError(t, mock.ExpectationsWereMet())
}

func sampleTender() scraper.TenderRecord {
	day := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	return scraper.TenderRecord{
		Nomenclatura:  "AS-SM-12-2025-MDSI/CS-1",
		Objeto:        "MANTENIMIENTO DE PARQUES",
		Entidad:       "MUNICIPALIDAD DISTRITAL DE SAN ISIDRO",
		TipoSeleccion: "Adjudicación Simplificada",
		KeyDates:      map[string]time.Time{"publicacion": day},
		Stages: []scraper.Stage{
			{Name: "Convocatoria", StartDate: &day, EndDate: &day},
			{Name: "Otorgamiento de la Buena Pro", StartDate: &day},
		},
	}
}

func expectTenderUpsert(mock pgxmock.PgxPoolIface, tender scraper.TenderRecord, id int64, priorStages int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs(tender.Nomenclatura, tender.Objeto, tender.Entidad, tender.TipoSeleccion, tender.URL, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectExec("DELETE FROM tender_stages").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", priorStages))
	for i, st := range tender.Stages {
		mock.ExpectExec("INSERT INTO tender_stages").
			WithArgs(id, i, st.Name, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
}

func TestTenderStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewTenderStore(mock)
	require.NoError(t, err)
	tender := sampleTender()

	// The second upsert hits the same row and replaces the two stages.
	expectTenderUpsert(mock, tender, 7, 0)
	expectTenderUpsert(mock, tender, 7, 2)

	require.NoError(t, store.UpsertTender(context.Background(), tender))
	require.NoError(t, store.UpsertTender(context.Background(), tender))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenderStoreRollsBackOnStageFailure(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewTenderStore(mock)
	require.NoError(t, err)
	tender := sampleTender()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tenders").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("DELETE FROM tender_stages").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO tender_stages").
		WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err = store.UpsertTender(context.Background(), tender)
	require.ErrorContains(t, err, "insert stage 0")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.UpsertTender(context.Background(), scraper.TenderRecord{}))
}

func TestAlertStoreSaveCountsNewRows(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewAlertStore(mock)
	require.NoError(t, err)

	published := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	alerts := []scraper.NormalizedAlert{
		{Titulo: "Resolución 001", Contenido: "x", Fuente: "El Peruano", FechaPublicacion: published, Tipo: scraper.TipoNormaLegal},
		{Titulo: "Resolución 002", Contenido: "y", Fuente: "El Peruano", FechaPublicacion: published, Tipo: scraper.TipoNormaLegal},
	}
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(
			scraper.SourceElPeruano,
			storage.Fingerprint(scraper.SourceElPeruano, alerts[0]),
			"Resolución 001", "x", "El Peruano", "", published, "", "", pgxmock.AnyArg(), scraper.TipoNormaLegal,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO alerts").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	saved, err := store.Save(context.Background(), scraper.SourceElPeruano, alerts)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, "Resolución 001", saved[0].Titulo)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStorePurgeAndMarkRead(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewAlertStore(mock)
	require.NoError(t, err)
	ctx := context.Background()
	cutoff := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM alerts WHERE source").
		WithArgs(scraper.SourceOECE, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := store.PurgeRead(ctx, scraper.SourceOECE, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	mock.ExpectExec("DELETE FROM alerts WHERE source").
		WithArgs(scraper.SourceSEACE, cutoff).
		WillReturnError(errors.New("lock timeout"))
	_, err = store.PurgeRead(ctx, scraper.SourceSEACE, cutoff)
	require.ErrorContains(t, err, "lock timeout")

	mock.ExpectExec("UPDATE alerts SET read").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkRead(ctx, 9))

	mock.ExpectExec("UPDATE alerts SET read").
		WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.MarkRead(ctx, 10), storage.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertStoreList(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	store, err := NewAlertStore(mock)
	require.NoError(t, err)

	created := time.Date(2025, 5, 3, 8, 0, 0, 0, time.UTC)
	monto := 120000.0
	columns := []string{
		"id", "source", "fingerprint", "read", "created_at",
		"titulo", "contenido", "fuente", "url_origen", "fecha_publicacion", "region", "entidad", "monto", "tipo",
	}
	mock.ExpectQuery("SELECT id, source, fingerprint").
		WithArgs(scraper.SourceSEACE, true, storage.DefaultListLimit).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			int64(5), scraper.SourceSEACE, "fp", false, created,
			"LP-SM-1-2025-GRC-1 - CARRETERA", "Licitación Pública", "SEACE", "", created, "", "GOBIERNO REGIONAL DE CUSCO", &monto, scraper.TipoLicitacion,
		))

	got, err := store.ListAlerts(context.Background(), storage.AlertFilter{Source: scraper.SourceSEACE, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(5), got[0].ID)
	require.Equal(t, "GOBIERNO REGIONAL DE CUSCO", got[0].Alert.Entidad)
	require.NotNil(t, got[0].Alert.Monto)
	require.InDelta(t, 120000.0, *got[0].Alert.Monto, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}
