// Package scraper defines the core types shared across the ingestion subsystems.
package scraper

import (
	"time"
)

// Built-in source keys.
const (
	SourceElPeruano = "elperuano"
	SourceOECE      = "oece"
	SourceSEACE     = "seace"
)

// AllSources lists every source the orchestrator knows about, in launch order.
var AllSources = []string{SourceElPeruano, SourceOECE, SourceSEACE}

// Frequency controls how often a source is allowed to run without force.
type Frequency string

// Supported run frequencies.
const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Threshold returns the minimum elapsed time between two unforced runs.
// Unknown frequencies fall back to a daily cadence.
func (f Frequency) Threshold() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SourceConfig holds the scheduling and retention settings of one source.
type SourceConfig struct {
	Enabled       bool       `json:"enabled"`
	Frequency     Frequency  `json:"frequency"`
	RetentionDays int        `json:"retention_days"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// SourceConfigPatch carries a partial update; nil fields are left untouched.
type SourceConfigPatch struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	Frequency     *Frequency `json:"frequency,omitempty"`
	RetentionDays *int       `json:"retention_days,omitempty"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

// AuthSettings holds the authenticated-mode settings of the SEACE source.
type AuthSettings struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	EntityFilter string `json:"entity_filter,omitempty"`
	TargetYear   int    `json:"target_year,omitempty"`
}

// HasCredentials reports whether both login fields are populated.
func (a AuthSettings) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// AuthSettingsPatch is a partial update of AuthSettings.
type AuthSettingsPatch struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	Username     *string `json:"username,omitempty"`
	Password     *string `json:"password,omitempty"`
	EntityFilter *string `json:"entity_filter,omitempty"`
	TargetYear   *int    `json:"target_year,omitempty"`
}

// NormalizedAlert is the unit handed to the distribution collaborator.
type NormalizedAlert struct {
	Titulo           string    `json:"titulo"`
	Contenido        string    `json:"contenido"`
	Fuente           string    `json:"fuente"`
	URLOrigen        string    `json:"url_origen,omitempty"`
	FechaPublicacion time.Time `json:"fecha_publicacion"`
	Region           string    `json:"region,omitempty"`
	Entidad          string    `json:"entidad,omitempty"`
	Monto            *float64  `json:"monto,omitempty"`
	Tipo             string    `json:"tipo"`
}

// Alert types emitted by the built-in sources.
const (
	TipoNormaLegal = "norma_legal"
	TipoComunicado = "comunicado"
	TipoLicitacion = "licitacion"
)

// Stage is one row of a tender schedule.
type Stage struct {
	Name      string     `json:"name"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// TenderRecord is a tender keyed by its nomenclature. Stages are replaced as a
// whole on every upsert.
type TenderRecord struct {
	Nomenclatura  string               `json:"nomenclatura"`
	Objeto        string               `json:"objeto"`
	Entidad       string               `json:"entidad"`
	TipoSeleccion string               `json:"tipo_seleccion,omitempty"`
	KeyDates      map[string]time.Time `json:"key_dates,omitempty"`
	URL           string               `json:"url,omitempty"`
	Stages        []Stage              `json:"stages"`
}

// SourceRunResult summarizes one source job inside an orchestration.
type SourceRunResult struct {
	Source            string `json:"source"`
	Success           bool   `json:"success"`
	Skipped           bool   `json:"skipped,omitempty"`
	AlertsFound       int    `json:"alerts_found"`
	AlertsDistributed int    `json:"alerts_distributed"`
	Error             string `json:"error,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

// RunStats are the counters of a source's last executed run.
type RunStats struct {
	AlertsFound       int   `json:"alerts_found"`
	AlertsDistributed int   `json:"alerts_distributed"`
	DurationMs        int64 `json:"duration_ms"`
}

// Totals aggregates the per-source counters.
type Totals struct {
	Sources           int `json:"sources"`
	Failed            int `json:"failed"`
	AlertsFound       int `json:"alerts_found"`
	AlertsDistributed int `json:"alerts_distributed"`
}

// OrchestratorResult is returned by every orchestration, successful or not.
type OrchestratorResult struct {
	SessionID  string                     `json:"session_id"`
	Success    bool                       `json:"success"`
	Results    map[string]SourceRunResult `json:"results"`
	PurgeCount *int64                     `json:"purge_count,omitempty"`
	Totals     Totals                     `json:"totals"`
	Errors     []string                   `json:"errors"`
	DurationMs int64                      `json:"duration_ms"`
}

// RunOptions selects what an orchestration does. An empty Sources list means
// every known source.
type RunOptions struct {
	Force    bool     `json:"force"`
	RunPurge bool     `json:"run_purge"`
	Sources  []string `json:"sources"`
}

// IsKnownSource reports whether name is one of the built-in sources.
func IsKnownSource(name string) bool {
	for _, s := range AllSources {
		if s == name {
			return true
		}
	}
	return false
}

// Output is what one source extraction produces.
type Output struct {
	Alerts  []NormalizedAlert
	Tenders []TenderRecord
}
