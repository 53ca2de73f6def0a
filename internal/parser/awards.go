package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexharvest/lexharvest/internal/pipeline"
)

// Awards parses the arbitration award archive: search listings and
// award detail pages carrying a PDF link plus the award text.
type Awards struct {
	baseURL string
}

// NewAwards builds an Awards source rooted at baseURL.
func NewAwards(baseURL string) *Awards {
	return &Awards{baseURL: strings.TrimRight(baseURL, "/")}
}

// Name identifies the source in events and metrics.
func (a *Awards) Name() string {
	return "awards"
}

// SearchURL builds the paginated search request URL.
func (a *Awards) SearchURL(query string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("%s/laudos?texto=%s&page=%d", a.baseURL, url.QueryEscape(query), page)
}

// ParseSearchResults extracts one Item per award row.
func (a *Awards) ParseSearchResults(body []byte) ([]pipeline.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, pipeline.WrapError(pipeline.KindContent, "parse award search results", err)
	}

	var items []pipeline.Item
	doc.Find("tr.laudo").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("td.expediente a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		expediente := strings.TrimSpace(link.Text())
		if expediente == "" {
			return
		}
		items = append(items, pipeline.Item{
			ID:        expediente,
			Title:     strings.TrimSpace(row.Find("td.materia").Text()),
			DetailURL: a.absolute(href),
		})
	})
	if items == nil && doc.Find("table.laudos").Length() == 0 {
		return nil, pipeline.NewError(pipeline.KindContent, "award search page has no listing table")
	}
	return items, nil
}

// ParsePagination reads the numbered pager under the listing table.
func (a *Awards) ParsePagination(body []byte) (pipeline.Pagination, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.Pagination{}, pipeline.WrapError(pipeline.KindContent, "parse award pagination", err)
	}

	pager := doc.Find("ul.pager")
	if pager.Length() == 0 {
		return pipeline.Pagination{CurrentPage: 1, TotalPages: 1}, nil
	}
	current := 1
	if text := strings.TrimSpace(pager.Find("li.active").First().Text()); text != "" {
		if n, err := strconv.Atoi(text); err == nil {
			current = n
		}
	}
	total := current
	pager.Find("li a").Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > total {
			total = n
		}
	})
	return pipeline.Pagination{CurrentPage: current, TotalPages: total}, nil
}

// ParseDetail extracts the structured award record from a detail page.
func (a *Awards) ParseDetail(itemID string, body []byte) (pipeline.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.Record{}, pipeline.WrapError(pipeline.KindContent, "parse award detail", err)
	}
	ref := strings.TrimSpace(doc.Find("h2.expediente").First().Text())
	if ref == "" {
		return pipeline.Record{}, pipeline.NewError(pipeline.KindContent,
			fmt.Sprintf("award detail for %s has no case reference", itemID))
	}

	rec := pipeline.Record{
		ItemID:    itemID,
		Title:     strings.TrimSpace(doc.Find("h1.materia").First().Text()),
		Reference: ref,
		Date:      strings.TrimSpace(doc.Find("span.fecha-laudo").First().Text()),
		Text:      strings.TrimSpace(doc.Find("div.texto-laudo").Text()),
		Fields:    map[string]string{},
	}
	if arb := strings.TrimSpace(doc.Find("span.arbitro").First().Text()); arb != "" {
		rec.Fields["arbitro"] = arb
	}
	if href, ok := doc.Find("a.laudo-pdf").First().Attr("href"); ok {
		rec.AssetURL = a.absolute(href)
	}
	return rec, nil
}

func (a *Awards) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.baseURL + "/" + strings.TrimLeft(href, "/")
}
