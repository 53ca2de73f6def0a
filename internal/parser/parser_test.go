package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

const catalogSearchPage = `
<html><body>
<div class="resultado-libro" data-libro-id="L-101">
  <a class="titulo" href="/libros/L-101">Derecho Mercantil I</a>
</div>
<div class="resultado-libro">
  <a class="titulo" href="/libros/L-202/">Arbitraje Comercial</a>
</div>
<div class="resultado-libro">
  <span>fila rota sin enlace</span>
</div>
<span class="paginacion">1 de 3</span>
</body></html>`

const catalogDetailPage = `
<html><body>
<h1 class="titulo-libro">Derecho Mercantil I</h1>
<span class="autor">M. Garrigues</span>
<span class="fecha-publicacion">1998</span>
<span class="isbn">978-84-0000-000-1</span>
<div class="resumen">Tratado general de derecho mercantil.</div>
<a class="descarga-pdf" href="/pdf/L-101.pdf">PDF</a>
<table class="ficha">
  <tr><th>Editorial</th><td>Tecnos</td></tr>
  <tr><th>Paginas</th><td>612</td></tr>
</table>
</body></html>`

func TestCatalog_ParseSearchResults(t *testing.T) {
	t.Parallel()

	c := NewCatalog("https://catalogo.example.org")
	items, err := c.ParseSearchResults([]byte(catalogSearchPage))
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "L-101", items[0].ID)
	require.Equal(t, "Derecho Mercantil I", items[0].Title)
	require.Equal(t, "https://catalogo.example.org/libros/L-101", items[0].DetailURL)

	// Second row has no data attribute; the ID comes from the href.
	require.Equal(t, "L-202", items[1].ID)
}

func TestCatalog_ParsePagination(t *testing.T) {
	t.Parallel()

	c := NewCatalog("https://catalogo.example.org")
	pag, err := c.ParsePagination([]byte(catalogSearchPage))
	require.NoError(t, err)
	require.Equal(t, pipeline.Pagination{CurrentPage: 1, TotalPages: 3}, pag)
}

func TestCatalog_ParsePaginationMissingMarkerDefaultsToSinglePage(t *testing.T) {
	t.Parallel()

	c := NewCatalog("https://catalogo.example.org")
	pag, err := c.ParsePagination([]byte(`<html><body><div class="sin-resultados"/></body></html>`))
	require.NoError(t, err)
	require.Equal(t, pipeline.Pagination{CurrentPage: 1, TotalPages: 1}, pag)
}

func TestCatalog_ParseDetail(t *testing.T) {
	t.Parallel()

	c := NewCatalog("https://catalogo.example.org")
	rec, err := c.ParseDetail("L-101", []byte(catalogDetailPage))
	require.NoError(t, err)
	require.Equal(t, "L-101", rec.ItemID)
	require.Equal(t, "Derecho Mercantil I", rec.Title)
	require.Equal(t, "M. Garrigues", rec.Author)
	require.Equal(t, "978-84-0000-000-1", rec.Reference)
	require.Equal(t, "https://catalogo.example.org/pdf/L-101.pdf", rec.AssetURL)
	require.Equal(t, "Tecnos", rec.Fields["Editorial"])
}

func TestCatalog_ParseDetailWithoutTitleIsContentError(t *testing.T) {
	t.Parallel()

	c := NewCatalog("https://catalogo.example.org")
	_, err := c.ParseDetail("L-999", []byte(`<html><body><p>mantenimiento</p></body></html>`))
	require.Error(t, err)
	require.Equal(t, pipeline.KindContent, pipeline.KindOf(err))
}

const awardSearchPage = `
<html><body>
<table class="laudos">
<tr class="laudo">
  <td class="expediente"><a href="/laudos/EXP-2019-014">EXP-2019-014</a></td>
  <td class="materia">Incumplimiento contractual</td>
</tr>
<tr class="laudo">
  <td class="expediente"><a href="/laudos/EXP-2019-015">EXP-2019-015</a></td>
  <td class="materia">Compraventa internacional</td>
</tr>
</table>
<ul class="pager">
  <li class="active">2</li>
  <li><a href="?page=1">1</a></li>
  <li><a href="?page=3">3</a></li>
  <li><a href="?page=7">7</a></li>
</ul>
</body></html>`

const awardDetailPage = `
<html><body>
<h1 class="materia">Incumplimiento contractual</h1>
<h2 class="expediente">EXP-2019-014</h2>
<span class="fecha-laudo">2019-11-30</span>
<span class="arbitro">R. Illescas</span>
<div class="texto-laudo">Visto el expediente, se resuelve...</div>
<a class="laudo-pdf" href="/pdf/EXP-2019-014.pdf">Descargar</a>
</body></html>`

func TestAwards_ParseSearchResults(t *testing.T) {
	t.Parallel()

	a := NewAwards("https://arbitraje.example.org")
	items, err := a.ParseSearchResults([]byte(awardSearchPage))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "EXP-2019-014", items[0].ID)
	require.Equal(t, "Incumplimiento contractual", items[0].Title)
	require.Equal(t, "https://arbitraje.example.org/laudos/EXP-2019-014", items[0].DetailURL)
}

func TestAwards_ParsePagination(t *testing.T) {
	t.Parallel()

	a := NewAwards("https://arbitraje.example.org")
	pag, err := a.ParsePagination([]byte(awardSearchPage))
	require.NoError(t, err)
	require.Equal(t, pipeline.Pagination{CurrentPage: 2, TotalPages: 7}, pag)
}

func TestAwards_ParseDetail(t *testing.T) {
	t.Parallel()

	a := NewAwards("https://arbitraje.example.org")
	rec, err := a.ParseDetail("EXP-2019-014", []byte(awardDetailPage))
	require.NoError(t, err)
	require.Equal(t, "EXP-2019-014", rec.Reference)
	require.Equal(t, "2019-11-30", rec.Date)
	require.Equal(t, "R. Illescas", rec.Fields["arbitro"])
	require.Equal(t, "https://arbitraje.example.org/pdf/EXP-2019-014.pdf", rec.AssetURL)
	require.Contains(t, rec.Text, "se resuelve")
}

func TestAwards_MalformedListingIsContentError(t *testing.T) {
	t.Parallel()

	a := NewAwards("https://arbitraje.example.org")
	_, err := a.ParseSearchResults([]byte(`<html><body><p>error 200 con html raro</p></body></html>`))
	require.Error(t, err)
	require.Equal(t, pipeline.KindContent, pipeline.KindOf(err))
}
