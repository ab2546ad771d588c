package seace

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

func TestParseStageRowRejectsAddressRows(t *testing.T) {
	t.Parallel()
	h := DefaultHeuristics()
	row := []string{"Av. Los Próceres 123 (LIMA/LIMA)", "", ""}

	_, err := h.ParseStageRow(row)
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)

	// Without the blocklist the row still fails the vocabulary and date checks.
	h.Blocklist = nil
	_, err = h.ParseStageRow(row)
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)

	h.StageNames = []string{"proceres"}
	_, err = h.ParseStageRow(row)
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)
	require.Contains(t, err.Error(), "no dates")
}

func TestParseStageRow(t *testing.T) {
	t.Parallel()
	h := DefaultHeuristics()

	stage, err := h.ParseStageRow([]string{"  Formulación de consultas  y observaciones ", "10/03/2025", ""})
	require.NoError(t, err)
	require.Equal(t, "Formulación de consultas y observaciones", stage.Name)
	require.NotNil(t, stage.StartDate)
	require.Nil(t, stage.EndDate)

	_, err = h.ParseStageRow([]string{"Etapa desconocida", "10/03/2025", "11/03/2025"})
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)

	_, err = h.ParseStageRow([]string{"Convocatoria " + strings.Repeat("x", 130), "10/03/2025", ""})
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)

	_, err = h.ParseStageRow([]string{"Nota: la convocatoria se publica en 01/02/2025", "01/02/2025", ""})
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)

	_, err = h.ParseStageRow(nil)
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)
}

func TestParseRow(t *testing.T) {
	t.Parallel()
	h := DefaultHeuristics()

	c, err := h.ParseRow([]string{
		"7",
		"UNIVERSIDAD NACIONAL DE INGENIERIA",
		"12/05/2025 09:30",
		"CP-SM-4-2025-UNI-1",
		"Concurso Público Abreviado",
		"S/ 120,000.00",
		"SERVICIO DE CONSULTORIA PARA EL ESTUDIO DE SUELOS",
	})
	require.NoError(t, err)
	require.Equal(t, "CP-SM-4-2025-UNI-1", c.Nomenclatura)
	require.Equal(t, "UNIVERSIDAD NACIONAL DE INGENIERIA", c.Entidad)
	require.Equal(t, "Concurso Público Abreviado", c.TipoSeleccion)
	require.Equal(t, "SERVICIO DE CONSULTORIA PARA EL ESTUDIO DE SUELOS", c.Objeto)
	require.Equal(t, "12/05/2025 09:30", c.Published)

	_, err = h.ParseRow([]string{"1", "MUNICIPALIDAD PROVINCIAL", "sin código"})
	require.ErrorIs(t, err, scraper.ErrExtractionMismatch)
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()
	h, err := DefaultHeuristics().Apply(Overrides{
		NomenclaturePattern: `\bX-\d+\b`,
		StageNames:          []string{"apertura"},
		MaxCandidates:       3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, h.MaxCandidates)
	require.Equal(t, 120, h.MaxStageRowRunes)

	c, err := h.ParseRow([]string{"X-42", "MINISTERIO DE SALUD"})
	require.NoError(t, err)
	require.Equal(t, "X-42", c.Nomenclatura)

	_, err = h.ParseStageRow([]string{"Apertura de sobres", "01/01/2025", ""})
	require.NoError(t, err)

	_, err = DefaultHeuristics().Apply(Overrides{NomenclaturePattern: "("})
	require.Error(t, err)
}

func TestStageTablePipelineDateDensity(t *testing.T) {
	t.Parallel()
	html := `<table><tr><td>Datos</td><td>Generales</td><td>x</td></tr></table>
	<table id="sched">
		<tr><td>Convocatoria</td><td>01/02/2025</td><td>01/02/2025</td></tr>
		<tr><td>Presentación de propuestas</td><td>10/02/2025</td><td>10/02/2025</td></tr>
		<tr><td>Observaciones</td><td>-</td><td>-</td></tr>
	</table>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	res, ok := DefaultHeuristics().StageTablePipeline().Run(doc, nil)
	require.True(t, ok)
	require.Equal(t, "date-density", res.Strategy)
	id, _ := res.Value.Attr("id")
	require.Equal(t, "sched", id)
	require.InDelta(t, 2.0/3.0, res.Confidence, 0.001)
}

func TestHasAllHeaders(t *testing.T) {
	t.Parallel()
	groups := DefaultHeuristics().StageHeaders
	require.True(t, hasAllHeaders([]string{"etapa", "fecha inicio", "fecha fin"}, groups))
	require.True(t, hasAllHeaders([]string{"etapa", "fecha de fin", "fecha de inicio"}, groups))
	require.False(t, hasAllHeaders([]string{"etapa", "fecha inicio"}, groups))
	require.False(t, hasAllHeaders([]string{"descripcion", "inicio", "fin"}, groups))
}
