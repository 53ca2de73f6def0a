// Package parser implements the per-source parsing collaborators: pure
// functions from response bytes to structured records.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Catalog parses the legal book catalog: paginated search result lists
// and book detail pages.
type Catalog struct {
	baseURL string
}

// NewCatalog builds a Catalog source rooted at baseURL.
func NewCatalog(baseURL string) *Catalog {
	return &Catalog{baseURL: strings.TrimRight(baseURL, "/")}
}

// Name identifies the source in events and metrics.
func (c *Catalog) Name() string {
	return "catalog"
}

// SearchURL builds the paginated search request URL.
func (c *Catalog) SearchURL(query string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("%s/busqueda?q=%s&pagina=%d", c.baseURL, url.QueryEscape(query), page)
}

// ParseSearchResults extracts one Item per result row.
func (c *Catalog) ParseSearchResults(body []byte) ([]pipeline.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindContent, "parse catalog search results", err)
	}

	var items []pipeline.Item
	doc.Find("div.resultado-libro").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.titulo").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		id := s.AttrOr("data-libro-id", "")
		if id == "" {
			id = idFromHref(href)
		}
		if id == "" {
			return
		}
		items = append(items, pipeline.Item{
			ID:        id,
			Title:     strings.TrimSpace(link.Text()),
			DetailURL: c.absolute(href),
		})
	})
	if items == nil && doc.Find("div.sin-resultados").Length() == 0 {
		return nil, pipeline.NewError(pipeline.KindContent, "catalog search page has no result markup")
	}
	return items, nil
}

var pageExpr = regexp.MustCompile(`(\d+)\s*(?:de|/)\s*(\d+)`)

// ParsePagination reads the "pagina N de M" marker.
func (c *Catalog) ParsePagination(body []byte) (pipeline.Pagination, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.Pagination{}, pipeline.WrapError(pipeline.KindContent, "parse catalog pagination", err)
	}
	text := strings.TrimSpace(doc.Find("span.paginacion").First().Text())
	m := pageExpr.FindStringSubmatch(text)
	if m == nil {
		// A single-page result set often omits the marker entirely.
		return pipeline.Pagination{CurrentPage: 1, TotalPages: 1}, nil
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return pipeline.Pagination{}, pipeline.WrapError(pipeline.KindContent, "catalog current page", err)
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return pipeline.Pagination{}, pipeline.WrapError(pipeline.KindContent, "catalog total pages", err)
	}
	return pipeline.Pagination{CurrentPage: current, TotalPages: total}, nil
}

// ParseDetail extracts the structured book record from a detail page.
func (c *Catalog) ParseDetail(itemID string, body []byte) (pipeline.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.Record{}, pipeline.WrapError(pipeline.KindContent, "parse catalog detail", err)
	}
	title := strings.TrimSpace(doc.Find("h1.titulo-libro").First().Text())
	if title == "" {
		return pipeline.Record{}, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("catalog detail for %s has no title", itemID))
	}

	rec := pipeline.Record{
		ItemID: itemID,
		Title:  title,
		Author: strings.TrimSpace(doc.Find("span.autor").First().Text()),
		Date:   strings.TrimSpace(doc.Find("span.fecha-publicacion").First().Text()),
		Text:   strings.TrimSpace(doc.Find("div.resumen").Text()),
		Fields: map[string]string{},
	}
	if isbn := strings.TrimSpace(doc.Find("span.isbn").First().Text()); isbn != "" {
		rec.Reference = isbn
	}
	if href, ok := doc.Find("a.descarga-pdf").First().Attr("href"); ok {
		rec.AssetURL = c.absolute(href)
	}
	doc.Find("table.ficha tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").Text())
		val := strings.TrimSpace(row.Find("td").Text())
		if key != "" && val != "" {
			rec.Fields[key] = val
		}
	})
	return rec, nil
}

func (c *Catalog) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return c.baseURL + "/" + strings.TrimLeft(href, "/")
}

func idFromHref(href string) string {
	trimmed := strings.TrimRight(href, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return ""
}
