package seace

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

// AuthReader loads the authenticated-mode settings.
type AuthReader interface {
	GetAuth(ctx context.Context, source string) (scraper.AuthSettings, error)
}

// Source adapts the driver to the orchestrator's source contract.
type Source struct {
	driver   *Driver
	auth     AuthReader
	fallback scraper.AuthSettings
}

// NewSource wires a driver to stored settings. fallback supplies credentials
// from process configuration when none were ever stored.
func NewSource(driver *Driver, auth AuthReader, fallback scraper.AuthSettings) *Source {
	return &Source{driver: driver, auth: auth, fallback: fallback}
}

// Name returns the source key.
func (s *Source) Name() string { return scraper.SourceSEACE }

// Extract runs the browser flow and converts tenders to alerts.
func (s *Source) Extract(ctx context.Context, log *sessionlog.Logger) (scraper.Output, error) {
	settings, err := s.auth.GetAuth(ctx, scraper.SourceSEACE)
	if err != nil {
		return scraper.Output{}, fmt.Errorf("read seace auth settings: %w", err)
	}
	if settings.Username == "" && settings.Password == "" && s.fallback.HasCredentials() {
		log.Debug("Using credentials from process configuration")
		settings.Username, settings.Password = s.fallback.Username, s.fallback.Password
		settings.Enabled = true
		if settings.EntityFilter == "" {
			settings.EntityFilter = s.fallback.EntityFilter
		}
		if settings.TargetYear == 0 {
			settings.TargetYear = s.fallback.TargetYear
		}
	}
	if !settings.Enabled {
		return scraper.Output{}, &scraper.ConfigurationError{Source: scraper.SourceSEACE, Reason: "authenticated mode is disabled"}
	}

	tenders, err := s.driver.Run(ctx, settings, log)
	return scraper.Output{Alerts: TenderAlerts(tenders, s.driver.clock), Tenders: tenders}, err
}

// TenderAlerts turns tenders into alerts. The publication date falls back to
// the convocation stage, then to now.
func TenderAlerts(tenders []scraper.TenderRecord, clock scraper.Clock) []scraper.NormalizedAlert {
	if len(tenders) == 0 {
		return nil
	}
	now := clock.Now()
	alerts := make([]scraper.NormalizedAlert, 0, len(tenders))
	for _, t := range tenders {
		published := now
		if d, ok := t.KeyDates["publicacion"]; ok {
			published = d
		} else if d, ok := t.KeyDates["convocatoria"]; ok {
			published = d
		}
		title := t.Nomenclatura
		if t.Objeto != "" {
			title = t.Nomenclatura + " - " + t.Objeto
		}
		var body []string
		if t.TipoSeleccion != "" {
			body = append(body, t.TipoSeleccion)
		}
		if t.Objeto != "" {
			body = append(body, t.Objeto)
		}
		for _, st := range t.Stages {
			if st.StartDate != nil {
				body = append(body, fmt.Sprintf("%s: %s", st.Name, st.StartDate.Format("02/01/2006")))
			}
		}
		content := strings.Join(body, "\n")
		if content == "" {
			content = title
		}
		alerts = append(alerts, scraper.NormalizedAlert{
			Titulo:           title,
			Contenido:        content,
			Fuente:           "SEACE",
			URLOrigen:        t.URL,
			FechaPublicacion: published,
			Entidad:          t.Entidad,
			Tipo:             scraper.TipoLicitacion,
		})
	}
	return alerts
}
