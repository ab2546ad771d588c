package seace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/govwatch/internal/browser"
)

// fakePortal is a scripted stand-in for the portal behind a browser.Page.
type fakePortal struct {
	mu  sync.Mutex
	sel Selectors

	user, pass string

	screen       string
	username     string
	password     string
	checked      bool
	stuckTerms   bool
	noAcceptID   bool
	noAccept     bool
	noMenuText   bool
	noYearID     bool
	grid         bool
	selectedYear string
	detailRow    int
	closed       bool
	navigations  []string

	results string
	details map[int]string
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		sel:     DefaultSelectors(),
		user:    "operador",
		pass:    "secreto",
		screen:  "blank",
		results: defaultResults,
		details: map[int]string{1: scheduleDetail, 3: detailWithoutSchedule},
	}
}

const defaultResults = `<div id="tbBuscador:idFormBuscarProceso:dtProcesos"><table>
<thead><tr><th>N°</th><th>Entidad</th><th>Fecha</th><th>Nomenclatura</th><th>Tipo</th><th>Objeto</th><th></th></tr></thead>
<tbody>
<tr><td>1</td><td>MUNICIPALIDAD DISTRITAL DE SAN ISIDRO</td><td>05/03/2025 10:00</td><td>AS-SM-12-2025-MDSI/CS-1</td><td>Adjudicación Simplificada</td><td>CONTRATACION DEL SERVICIO DE MANTENIMIENTO DE PARQUES</td><td><a title="Ficha de selección" href="#">ver</a></td></tr>
<tr><td>2</td><td>Fila de totales</td><td></td><td></td><td></td><td></td><td></td></tr>
<tr><td>3</td><td>GOBIERNO REGIONAL DE CUSCO</td><td>06/03/2025</td><td>LP-SM-1-2025-GRC-1</td><td>Licitación Pública</td><td>MEJORAMIENTO DE LA CARRETERA</td><td><a title="Ficha de selección" href="#">ver</a></td></tr>
</tbody></table></div>`

const scheduleDetail = `<table><tr><td>Entidad</td><td>MUNICIPALIDAD DISTRITAL DE SAN ISIDRO</td></tr></table>
<table id="cronograma"><thead><tr><th>Etapa</th><th>Fecha Inicio</th><th>Fecha Fin</th></tr></thead><tbody>
<tr><td>Convocatoria</td><td>05/03/2025</td><td>05/03/2025</td></tr>
<tr><td>Presentación de ofertas (Electrónica)</td><td>20/03/2025 00:01</td><td>20/03/2025 23:59</td></tr>
<tr><td>Av. Los Próceres 123 (LIMA/LIMA)</td><td></td><td></td></tr>
<tr><td>Otorgamiento de la Buena Pro</td><td>25/03/2025</td><td>25/03/2025</td></tr>
</tbody></table>
<button id="frmFicha:btnRegresar">Regresar</button>`

// newGridPortal serves the result list without its id, so only the datatable
// class finds it, and wraps every schedule in a datatable too.
func newGridPortal() *fakePortal {
	f := newFakePortal()
	f.grid = true
	f.results = strings.Replace(defaultResults, `<div id="tbBuscador:idFormBuscarProceso:dtProcesos">`, `<div class="ui-datatable">`, 1)
	detail := `<div class="ui-datatable">` + scheduleDetail + `</div>`
	f.details = map[int]string{1: detail, 3: detail}
	return f
}

const detailWithoutSchedule = `<p>Documento no disponible</p><button id="frmFicha:btnRegresar">Regresar</button>`

func (f *fakePortal) page() string {
	switch f.screen {
	case "login":
		return `<form><input type="text" name="u"><input type="password" name="p"><button type="submit">Ingresar</button></form>`
	case "login-error":
		return `<div class="ui-messages-error">Usuario o contraseña inválidos</div>`
	case "terms":
		return `<input type="checkbox" id="frmTerminos:chkAcepto_input"><button id="frmTerminos:btnAceptar">Aceptar</button>`
	case "home":
		return `<ul><li><a onclick="buscadorProcedimientos()">Buscador de Procedimientos de Selección</a></li></ul>`
	case "search":
		return `<form id="tbBuscador:idFormBuscarProceso"><select id="frm:anio"><option value="">--</option><option value="2024">2024</option><option value="2025">2025</option></select><button>Buscar</button></form>`
	case "results":
		return f.results
	case "detail":
		return f.details[f.detailRow]
	}
	return ""
}

func (f *fakePortal) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	f.screen = "login"
	return nil
}

func (f *fakePortal) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "<html><body>" + f.page() + "</body></html>", nil
}

func (f *fakePortal) Exists(_ context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sel
	switch f.screen {
	case "login":
		return sel == s.UsernameInput || sel == s.PasswordInput || sel == s.LoginSubmit, nil
	case "terms":
		switch sel {
		case s.TermsCheckbox:
			return true, nil
		case s.TermsAccept:
			return !f.noAccept && !f.noAcceptID, nil
		case s.TermsAcceptFallback:
			return !f.noAccept, nil
		}
	case "home":
		return sel == s.MenuFallback, nil
	case "search":
		return sel == s.SearchForm || sel == s.SearchButton || (sel == s.YearSelect && !f.noYearID), nil
	case "results":
		if f.grid {
			return sel == s.ResultsTableFallback, nil
		}
		return sel == s.ResultsTable, nil
	case "detail":
		return sel == s.BackControl || sel == s.DetailReady || (f.grid && sel == s.ResultsTableFallback), nil
	}
	return false, nil
}

var rowSelector = regexp.MustCompile(`tr:nth-child\((\d+)\)`)

func (f *fakePortal) Click(_ context.Context, sel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sel
	switch {
	case f.screen == "login" && sel == s.LoginSubmit:
		if f.username == f.user && f.password == f.pass {
			f.screen = "terms"
		} else {
			f.screen = "login-error"
		}
	case f.screen == "terms" && sel == s.TermsCheckbox:
		if !f.stuckTerms {
			f.checked = !f.checked
		}
	case f.screen == "terms" && (sel == s.TermsAccept || sel == s.TermsAcceptFallback):
		if !f.checked {
			return errors.New("terms not accepted")
		}
		f.screen = "home"
	case f.screen == "home" && sel == s.MenuFallback:
		f.screen = "search"
	case f.screen == "search" && sel == s.SearchButton:
		f.screen = "results"
	case f.screen == "results" && rowSelector.MatchString(sel):
		n, _ := strconv.Atoi(rowSelector.FindStringSubmatch(sel)[1])
		if _, ok := f.details[n]; !ok {
			return fmt.Errorf("row %d has no detail", n)
		}
		f.detailRow = n
		f.screen = "detail"
	case f.screen == "detail" && sel == s.BackControl:
		f.screen = "results"
	default:
		return fmt.Errorf("no element %q on %s", sel, f.screen)
	}
	return nil
}

func (f *fakePortal) ClickText(_ context.Context, sel, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screen == "home" && sel == f.sel.MenuItems && text == f.sel.MenuText && !f.noMenuText {
		f.screen = "search"
		return true, nil
	}
	return false, nil
}

func (f *fakePortal) SetValue(_ context.Context, sel, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch sel {
	case f.sel.UsernameInput:
		f.username = value
	case f.sel.PasswordInput:
		f.password = value
	}
	return nil
}

func (f *fakePortal) SelectValue(_ context.Context, _, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectedYear = value
	return nil
}

func (f *fakePortal) IsChecked(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked, nil
}

func (f *fakePortal) WaitVisible(ctx context.Context, sel string, _ time.Duration) error {
	ok, err := f.Exists(ctx, sel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q not visible", sel)
	}
	return nil
}

func (f *fakePortal) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screen == "detail" {
		return fmt.Sprintf("https://portal.test/ficha?row=%d", f.detailRow), nil
	}
	return "https://portal.test/buscador", nil
}

func (f *fakePortal) Back(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screen = "results"
	return nil
}

func (f *fakePortal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePortal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeLauncher struct {
	page     browser.Page
	err      error
	launches int
}

func (l *fakeLauncher) Launch(context.Context) (browser.Page, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryBlobs) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[path] = string(b)
	return "mem://" + path, nil
}
