package selector

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const indexPage = `
<html><body>
  <ul>
    <li class="listing">
      <a href="/huur/utrecht/123"><h2 class="title">Ruim appartement aan de gracht</h2></a>
      <span class="price">€ 1.450 per maand</span>
      <div class="address">Oudegracht 12-A, 3511 AB Utrecht</div>
      <img src="/img/1.jpg"><img data-src="https://cdn.example.com/2.jpg"><img src="/img/1.jpg">
    </li>
    <li class="listing">
      <a href="/huur/utrecht/124"></a>
      <span class="price">Prijs op aanvraag</span>
    </li>
  </ul>
  <a class="next" href="?page=2">Volgende</a>
</body></html>`

const detailPage = `
<html><body>
  <h1 class="title">Ruim appartement aan de gracht (gerenoveerd)</h1>
  <dl class="features">
    <div><dt>Energielabel</dt><dd>A+</dd></div>
    <div><dt>Bouwjaar</dt><dd>1932</dd></div>
    <div><dt>Woonoppervlakte</dt><dd>85 m²</dd></div>
  </dl>
  <span class="area">85 m²</span>
  <span class="rooms">3 slaapkamers</span>
</body></html>`

func settings() map[string]string {
	return map[string]string{
		"item":            "li.listing",
		"next":            "a.next",
		"field.title":     ".title",
		"field.price":     ".price",
		"field.address":   ".address",
		"field.area":      ".area",
		"field.bedrooms":  ".rooms",
		"attributes":      "dl.features div",
		"attribute_key":   "dt",
		"attribute_value": "dd",
	}
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestNewRequiresItemAndTitle(t *testing.T) {
	if _, err := New(map[string]string{"field.title": "h1"}); err == nil {
		t.Error("expected error without item selector")
	}
	if _, err := New(map[string]string{"item": ".card"}); err == nil {
		t.Error("expected error without title rule")
	}
}

func TestCardsAndCandidate(t *testing.T) {
	e, err := New(settings())
	if err != nil {
		t.Fatal(err)
	}
	base, _ := url.Parse("https://www.example.nl/huur/utrecht")
	doc := mustDoc(t, indexPage)

	cards := e.Cards(doc, base)
	if len(cards) != 2 {
		t.Fatalf("cards: got %d, want 2", len(cards))
	}

	first := cards[0]
	if first.URL != "https://www.example.nl/huur/utrecht/123" {
		t.Errorf("url: got %q", first.URL)
	}
	if len(first.Images) != 2 || first.Images[0] != "https://www.example.nl/img/1.jpg" {
		t.Errorf("images: got %v", first.Images)
	}

	c := first.Candidate("example")
	if c.Title != "Ruim appartement aan de gracht" {
		t.Errorf("title: got %q", c.Title)
	}
	if c.Price == nil || *c.Price != 1450 {
		t.Errorf("price: got %v, want 1450", c.Price)
	}
	if c.Street != "Oudegracht" || c.HouseNumber != "12-A" || c.PostalCode != "3511 AB" || c.City != "Utrecht" {
		t.Errorf("address: got %q %q %q %q", c.Street, c.HouseNumber, c.PostalCode, c.City)
	}

	second := cards[1].Candidate("example")
	if second.Title != "" || second.Price != nil {
		t.Errorf("second card: got title %q price %v", second.Title, second.Price)
	}

	if next := e.NextPage(doc, base); next != "https://www.example.nl/huur/utrecht?page=2" {
		t.Errorf("next: got %q", next)
	}
}

func TestDetailMerge(t *testing.T) {
	e, err := New(settings())
	if err != nil {
		t.Fatal(err)
	}
	base, _ := url.Parse("https://www.example.nl/huur/utrecht/123")
	card := e.Cards(mustDoc(t, indexPage), base)[0]
	card.Merge(e.Detail(mustDoc(t, detailPage), base))

	c := card.Candidate("example")
	if c.Title != "Ruim appartement aan de gracht (gerenoveerd)" {
		t.Errorf("detail title should win: got %q", c.Title)
	}
	if c.SurfaceArea == nil || *c.SurfaceArea != 85 {
		t.Errorf("area: got %v, want 85", c.SurfaceArea)
	}
	if c.Bedrooms == nil || *c.Bedrooms != 3 {
		t.Errorf("bedrooms: got %v, want 3", c.Bedrooms)
	}
	if c.Extras.EnergyLabel != "A+" {
		t.Errorf("energy label: got %q, want A+", c.Extras.EnergyLabel)
	}
	if c.Extras.BuildYear == nil || *c.Extras.BuildYear != 1932 {
		t.Errorf("build year: got %v, want 1932", c.Extras.BuildYear)
	}
	if len(c.RawData) == 0 {
		t.Error("raw data should be kept")
	}
	if len(c.Images) != 2 {
		t.Errorf("images should survive a detail page without images: got %v", c.Images)
	}
}
