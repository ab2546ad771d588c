package seace

// Selectors locate the portal's widgets. The JSF component ids contain
// colons, so they are addressed with attribute selectors.
type Selectors struct {
	UsernameInput string
	PasswordInput string
	LoginSubmit   string

	TermsCheckbox       string
	TermsAccept         string
	TermsAcceptFallback string

	MenuItems    string
	MenuText     string
	MenuFallback string

	SearchForm          string
	YearSelect          string
	EntityInput         string
	SearchButton        string
	SearchButtonText    string
	SearchButtonTargets string

	ResultsTable         string
	ResultsTableFallback string

	DetailControls []string
	// DetailReady only matches on the detail view.
	DetailReady    string

	BackControl     string
	BackControlText string
}

// DefaultSelectors matches the portal's current markup.
func DefaultSelectors() Selectors {
	return Selectors{
		UsernameInput: `input[type="text"]`,
		PasswordInput: `input[type="password"]`,
		LoginSubmit:   `button[type="submit"], input[type="submit"]`,

		TermsCheckbox:       `[id="frmTerminos:chkAcepto_input"]`,
		TermsAccept:         `[id="frmTerminos:btnAceptar"]`,
		TermsAcceptFallback: `button.ui-button[id*="Aceptar"], input[type="submit"][value*="Aceptar"]`,

		MenuItems:    `a, span.ui-menuitem-text`,
		MenuText:     "buscador de procedimientos",
		MenuFallback: `a[onclick*="buscadorProcedimientos"], a[href*="buscadorPublico"]`,

		SearchForm:          `[id="tbBuscador:idFormBuscarProceso"]`,
		YearSelect:          `[id="tbBuscador:idFormBuscarProceso:anioConvocatoria_input"]`,
		EntityInput:         `[id="tbBuscador:idFormBuscarProceso:txtNombreEntidad"]`,
		SearchButton:        `[id="tbBuscador:idFormBuscarProceso:btnBuscarSel"]`,
		SearchButtonText:    "buscar",
		SearchButtonTargets: `button, input[type="submit"], a.ui-button`,

		ResultsTable:         `[id="tbBuscador:idFormBuscarProceso:dtProcesos"]`,
		ResultsTableFallback: `div.ui-datatable`,

		DetailControls: []string{
			`a[id*="grafichaSel"]`,
			`a[title*="Ficha"]`,
			`a[id*="Ficha"]`,
			`a.ui-commandlink`,
		},
		DetailReady: `[id*="frmFicha"], [id*="btnRegresar"]`,

		BackControl:     `[id*="btnRegresar"]`,
		BackControlText: "regresar",
	}
}
