package extract

import (
	"github.com/JakeFAU/govwatch/internal/scraper"
)

// Override replaces the built-in base URL or listing pages of a source.
type Override struct {
	BaseURL     string
	ListingURLs []string
}

func (o Override) apply(cfg Config) Config {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if len(o.ListingURLs) > 0 {
		cfg.ListingURLs = append([]string(nil), o.ListingURLs...)
	}
	return cfg
}

// ElPeruanoConfig is the built-in configuration for the official gazette's
// legal norms listing.
func ElPeruanoConfig() Config {
	return Config{
		Source:      scraper.SourceElPeruano,
		DisplayName: "El Peruano",
		BaseURL:     "https://busquedas.elperuano.pe",
		ListingURLs: []string{
			"https://busquedas.elperuano.pe/normaslegales/",
		},
		ItemSelectors: []string{
			"article.edicionesoficiales_articulos",
			"div.ediciones_texto",
			"div.normas-legales article",
		},
		FallbackSelectors: []string{"article", "li.list-group-item", "div.card"},
		Title:             Cascade{"h5 a", "h5", "h4", ".titulo", "a"},
		Body:              Cascade{"p:not(.fecha)", ".sumilla", ".descripcion"},
		Date:              Cascade{".fecha", "time", "span.date", "p", "&"},
		Link:              Cascade{"h5", ".titulo", "&"},
		Tipo:              scraper.TipoNormaLegal,
		Region:            "Nacional",
		Entidad:           "Diario Oficial El Peruano",
		MaxItemsPerPage:   50,
	}
}

// OECEConfig is the built-in configuration for the procurement regulator's
// announcements.
func OECEConfig() Config {
	return Config{
		Source:      scraper.SourceOECE,
		DisplayName: "OECE",
		BaseURL:     "https://www.gob.pe",
		ListingURLs: []string{
			"https://www.gob.pe/institucion/oece/noticias",
			"https://www.gob.pe/institucion/oece/informes-publicaciones",
		},
		ItemSelectors: []string{
			"ul.feed li.feed__item",
			"article.publication",
			"div.news-item",
		},
		FallbackSelectors: []string{"article", "li", ".card"},
		Title:             Cascade{"h3 a", "h3", "h2", ".title", "a"},
		Body:              Cascade{".description", ".summary", "p"},
		Date:              Cascade{"time", ".date", ".fecha", "small", "&"},
		Link:              Cascade{"h3", ".title", "&"},
		Tipo:              scraper.TipoComunicado,
		Region:            "Nacional",
		Entidad:           "Organismo Especializado para las Contrataciones Públicas Eficientes",
		MaxItemsPerPage:   50,
	}
}

// NewElPeruano builds the gazette extractor.
func NewElPeruano(fetcher Fetcher, clock scraper.Clock, override Override) (*ListingExtractor, error) {
	return NewListingExtractor(override.apply(ElPeruanoConfig()), fetcher, clock)
}

// NewOECE builds the regulator extractor.
func NewOECE(fetcher Fetcher, clock scraper.Clock, override Override) (*ListingExtractor, error) {
	return NewListingExtractor(override.apply(OECEConfig()), fetcher, clock)
}
