// Package seace automates the procurement portal's authenticated search and
// turns its result grid and schedule pages into tender records.
package seace

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/govwatch/internal/extract"
	"github.com/JakeFAU/govwatch/internal/heuristic"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

// DefaultNomenclaturePattern matches identifiers such as "LP-SM-3-2024-MPL/CS-1".
const DefaultNomenclaturePattern = `\b[A-Z]{2,4}-[A-Z]{2,5}-\d{1,4}-\d{4}[A-Z0-9/\-]*`

// Heuristics are the tunable guesses used to read unstandardized markup.
// Every list is compared after accent folding and lowercasing.
type Heuristics struct {
	Nomenclature     *regexp.Regexp
	EntityKeywords   []string
	SelectionTypes   []string
	StageNames       []string
	Blocklist        []string
	StageHeaders     [3][]string
	MaxStageRowRunes int
	MaxCandidates    int
}

// DefaultHeuristics returns the built-in tuning.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		Nomenclature: regexp.MustCompile(DefaultNomenclaturePattern),
		EntityKeywords: []string{
			"MUNICIPALIDAD", "GOBIERNO REGIONAL", "MINISTERIO", "UNIVERSIDAD",
			"HOSPITAL", "PROGRAMA", "PROYECTO ESPECIAL", "SUPERINTENDENCIA",
			"INSTITUTO", "EMPRESA MUNICIPAL", "AUTORIDAD",
			"SEGURO SOCIAL", "PODER JUDICIAL", "FUERZA", "EJERCITO", "MARINA",
			"POLICIA", "UNIDAD EJECUTORA", "RED DE SALUD", "ORGANISMO",
		},
		SelectionTypes: []string{
			"Licitación Pública",
			"Concurso Público",
			"Adjudicación Simplificada",
			"Subasta Inversa Electrónica",
			"Selección de Consultores Individuales",
			"Comparación de Precios",
			"Contratación Directa",
			"Procedimiento Especial",
			"Licitación Pública Abreviada",
			"Concurso Público Abreviado",
		},
		StageNames: []string{
			"convocatoria",
			"registro de participantes",
			"formulacion de consultas",
			"absolucion de consultas",
			"consultas y observaciones",
			"integracion de las bases",
			"integracion de bases",
			"presentacion de ofertas",
			"presentacion de propuestas",
			"evaluacion",
			"calificacion",
			"otorgamiento de la buena pro",
			"buena pro",
			"consentimiento",
			"perfeccionamiento",
		},
		Blocklist: []string{
			"av.", "jr.", "calle", "(lima/lima)", "nota", "direccion",
			"referencia", "piso", "mz.", "lote", "urb.", "telefono", "correo",
		},
		StageHeaders: [3][]string{
			{"etapa"},
			{"fecha inicio", "fecha de inicio", "inicio"},
			{"fecha fin", "fecha de fin", "fin"},
		},
		MaxStageRowRunes: 120,
		MaxCandidates:    20,
	}
}

// Overrides replace parts of the default tuning. Empty fields keep defaults.
type Overrides struct {
	NomenclaturePattern string
	EntityKeywords      []string
	SelectionTypes      []string
	StageNames          []string
	Blocklist           []string
	MaxStageRowRunes    int
	MaxCandidates       int
}

// Apply returns h with o's non-empty fields substituted.
func (h Heuristics) Apply(o Overrides) (Heuristics, error) {
	if o.NomenclaturePattern != "" {
		re, err := regexp.Compile(o.NomenclaturePattern)
		if err != nil {
			return h, fmt.Errorf("compile nomenclature pattern: %w", err)
		}
		h.Nomenclature = re
	}
	if len(o.EntityKeywords) > 0 {
		h.EntityKeywords = o.EntityKeywords
	}
	if len(o.SelectionTypes) > 0 {
		h.SelectionTypes = o.SelectionTypes
	}
	if len(o.StageNames) > 0 {
		h.StageNames = o.StageNames
	}
	if len(o.Blocklist) > 0 {
		h.Blocklist = o.Blocklist
	}
	if o.MaxStageRowRunes > 0 {
		h.MaxStageRowRunes = o.MaxStageRowRunes
	}
	if o.MaxCandidates > 0 {
		h.MaxCandidates = o.MaxCandidates
	}
	return h, nil
}

// Candidate is a result-grid row that looks like a tender.
type Candidate struct {
	Row           int
	Nomenclatura  string
	Entidad       string
	Objeto        string
	TipoSeleccion string
	Published     string
}

// ParseRow reads one result row. Rows without a nomenclature are reported as
// scraper.ErrExtractionMismatch.
func (h Heuristics) ParseRow(cells []string) (Candidate, error) {
	var c Candidate
	used := make(map[int]bool, len(cells))

	for i, cell := range cells {
		if m := h.Nomenclature.FindString(cell); m != "" {
			c.Nomenclatura = m
			used[i] = true
			break
		}
	}
	if c.Nomenclatura == "" {
		return Candidate{}, fmt.Errorf("row has no nomenclature: %w", scraper.ErrExtractionMismatch)
	}

	if i, ok := h.longestMatching(cells, used, h.isEntity); ok {
		c.Entidad = cells[i]
		used[i] = true
	}
	for i, cell := range cells {
		if used[i] {
			continue
		}
		if tipo, ok := h.selectionType(cell); ok {
			c.TipoSeleccion = tipo
			used[i] = true
			break
		}
	}
	for i, cell := range cells {
		if used[i] {
			continue
		}
		if extract.LooksLikeDate(cell) {
			if c.Published == "" {
				c.Published = cell
			}
			used[i] = true
		}
	}
	if i, ok := h.longestMatching(cells, used, isDescriptive); ok {
		c.Objeto = cells[i]
	}
	return c, nil
}

func (h Heuristics) longestMatching(cells []string, used map[int]bool, accept func(string) bool) (int, bool) {
	best, bestLen := -1, 0
	for i, cell := range cells {
		if used[i] || !accept(cell) {
			continue
		}
		if n := utf8.RuneCountInString(cell); n > bestLen {
			best, bestLen = i, n
		}
	}
	return best, best >= 0
}

func (h Heuristics) isEntity(cell string) bool {
	folded := extract.Fold(cell)
	for _, kw := range h.EntityKeywords {
		if strings.Contains(folded, extract.Fold(kw)) {
			return true
		}
	}
	return false
}

func (h Heuristics) selectionType(cell string) (string, bool) {
	folded := extract.Fold(cell)
	if folded == "" {
		return "", false
	}
	// The longest matching entry wins so "abreviada" variants are kept.
	best := ""
	for _, t := range h.SelectionTypes {
		if strings.Contains(folded, extract.Fold(t)) && len(t) > len(best) {
			best = t
		}
	}
	return best, best != ""
}

var digitsOnly = regexp.MustCompile(`^[\d\s.,/:-]*$`)

// isDescriptive rejects blanks, bare numbers and amounts.
func isDescriptive(cell string) bool {
	cell = strings.TrimSpace(cell)
	return cell != "" && !digitsOnly.MatchString(cell)
}

// ParseStageRow validates one schedule row made of name, start and end cells.
func (h Heuristics) ParseStageRow(cells []string) (scraper.Stage, error) {
	if len(cells) == 0 {
		return scraper.Stage{}, fmt.Errorf("empty row: %w", scraper.ErrExtractionMismatch)
	}
	name := strings.Join(strings.Fields(cells[0]), " ")
	if name == "" {
		return scraper.Stage{}, fmt.Errorf("stage name missing: %w", scraper.ErrExtractionMismatch)
	}
	if h.MaxStageRowRunes > 0 && utf8.RuneCountInString(name) > h.MaxStageRowRunes {
		return scraper.Stage{}, fmt.Errorf("stage name too long: %w", scraper.ErrExtractionMismatch)
	}
	folded := extract.Fold(name)
	for _, blocked := range h.Blocklist {
		if strings.Contains(folded, extract.Fold(blocked)) {
			return scraper.Stage{}, fmt.Errorf("stage name %q is blocklisted: %w", name, scraper.ErrExtractionMismatch)
		}
	}
	if !h.knownStage(folded) {
		return scraper.Stage{}, fmt.Errorf("stage name %q not in vocabulary: %w", name, scraper.ErrExtractionMismatch)
	}

	stage := scraper.Stage{Name: name}
	if len(cells) > 1 {
		if t, ok := extract.ParseDateStrict(cells[1]); ok {
			stage.StartDate = &t
		}
	}
	if len(cells) > 2 {
		if t, ok := extract.ParseDateStrict(cells[2]); ok {
			stage.EndDate = &t
		}
	}
	if stage.StartDate == nil && stage.EndDate == nil {
		return scraper.Stage{}, fmt.Errorf("stage %q has no dates: %w", name, scraper.ErrExtractionMismatch)
	}
	return stage, nil
}

func (h Heuristics) knownStage(folded string) bool {
	for _, s := range h.StageNames {
		if strings.Contains(folded, extract.Fold(s)) {
			return true
		}
	}
	return false
}

// StageTablePipeline finds the schedule table of a detail page: first by its
// header labels, then by the density of date-looking cells.
func (h Heuristics) StageTablePipeline() *heuristic.Pipeline[*goquery.Document, *goquery.Selection] {
	return heuristic.New(
		heuristic.Strategy[*goquery.Document, *goquery.Selection]{
			Name:  "header-labels",
			Match: h.matchStageHeader,
		},
		heuristic.Strategy[*goquery.Document, *goquery.Selection]{
			Name:  "date-density",
			Match: matchDateDensity,
		},
	)
}

func (h Heuristics) matchStageHeader(doc *goquery.Document) (*goquery.Selection, float64, bool) {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := table.Find("thead tr, tr").First()
		var labels []string
		header.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			labels = append(labels, extract.Fold(cell.Text()))
		})
		if hasAllHeaders(labels, h.StageHeaders) {
			found = table
			return false
		}
		return true
	})
	if found == nil {
		return nil, 0, false
	}
	return found, 1, true
}

// hasAllHeaders reports whether each header group is matched by a distinct label.
func hasAllHeaders(labels []string, groups [3][]string) bool {
	taken := make(map[int]bool, len(labels))
	// Most specific groups first so "fecha fin" is not consumed by "inicio".
	for _, g := range []int{0, 2, 1} {
		matched := false
		for i, label := range labels {
			if taken[i] {
				continue
			}
			for _, want := range groups[g] {
				if strings.Contains(label, want) {
					taken[i] = true
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchDateDensity(doc *goquery.Document) (*goquery.Selection, float64, bool) {
	var (
		best      *goquery.Selection
		bestDated int
		bestRows  int
	)
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		// Nested tables are judged on their own rows only.
		rows := table.ChildrenFiltered("tbody").ChildrenFiltered("tr").AddSelection(table.ChildrenFiltered("tr"))
		dated := 0
		rows.Each(func(_ int, row *goquery.Selection) {
			cells := rowCells(row)
			if len(cells) >= 3 && (extract.LooksLikeDate(cells[1]) || extract.LooksLikeDate(cells[2])) {
				dated++
			}
		})
		if dated > bestDated {
			best, bestDated, bestRows = table, dated, rows.Length()
		}
	})
	if best == nil {
		return nil, 0, false
	}
	return best, float64(bestDated) / float64(bestRows), true
}

// rowCells returns the trimmed text of a row's direct cells.
func rowCells(row *goquery.Selection) []string {
	var cells []string
	row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
	})
	return cells
}
