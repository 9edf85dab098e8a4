package extract

import (
	"testing"

	"flat_scrooper/models"
)

func TestMetroStation_TransitKeywordRequired(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"bare district mention", "Квартира в районе Купчино, рядом парк и школа.", ""},
		{"keyword after", "5 минут пешком до метро Купчино.", "Купчино"},
		{"abbreviated prefix", "Продается квартира, м. Купчино, хороший ремонт.", "Купчино"},
		{"yo folded", "Рядом станция метро Черная речка.", "Чёрная речка"},
		{"earliest mention wins", "Метро Озерки и Удельная в шаговой доступности.", "Озерки"},
		{"part of a longer word", "Метро далеко, рядом Автовокзал.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, _ := explainHTML(t, testOptions(), "", "<p>"+tt.text+"</p>")
			got := ""
			if listing.MetroStation != nil {
				got = *listing.MetroStation
			}
			if got != tt.want {
				t.Fatalf("station = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetroStation_SelectorsAndScripts(t *testing.T) {
	page := `<html><body>
		<div data-name="UndergroundStation">м. Площадь Восстания (1 линия) 7 мин. пешком</div>
	</body></html>`
	listing, prov := explainHTML(t, testOptions(), "", page)
	if listing.MetroStation == nil || *listing.MetroStation != "Площадь Восстания" {
		t.Fatalf("expected cleaned station, got %v", listing.MetroStation)
	}
	if prov[FieldMetroStation] != "metro-dedicated" {
		t.Fatalf("expected dedicated selector, got %s", prov[FieldMetroStation])
	}

	page = `<html><body><p>Описание</p><a class="nav-metro" href="/metro/">Новостройки у метро</a>
		<script>{"undergrounds":[{"id":7,"name":"Звёздная","time":12}]}</script></body></html>`
	listing, prov = explainHTML(t, testOptions(), "", page)
	if listing.MetroStation == nil || *listing.MetroStation != "Звёздная" {
		t.Fatalf("expected station from script, got %v", listing.MetroStation)
	}
	if prov[FieldMetroStation] != "metro-script" {
		t.Fatalf("generic metro link must be gazetteer-gated, got %s", prov[FieldMetroStation])
	}
}

func TestMetroStation_GenericElementsNeedTransitContext(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		want     string
		strategy string
	}{
		{
			"banner without transit keyword",
			`<div class="metro-banner">Скидки в ТЦ рядом с Купчино</div>`,
			"", "",
		},
		{
			"generic block with keyword",
			`<div class="offer-metro">м. Купчино, 10 минут</div>`,
			"Купчино", "metro-generic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, prov := explainHTML(t, testOptions(), "", "<html><body>"+tt.page+"</body></html>")
			got := ""
			if listing.MetroStation != nil {
				got = *listing.MetroStation
			}
			if got != tt.want || prov[FieldMetroStation] != tt.strategy {
				t.Fatalf("station = %q via %q, want %q via %q", got, prov[FieldMetroStation], tt.want, tt.strategy)
			}
		})
	}
}

func TestMetroTime(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     int
		strategy string
	}{
		{"walking time near keyword", "До метро 12 минут пешком.", 12, "metro-time-transit-window"},
		{"minutes without transit context", "До центра 25 минут на машине.", 0, ""},
		{"out of range", "Метро в 180 минутах пешком.", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, prov := explainHTML(t, testOptions(), "", "<p>"+tt.text+"</p>")
			got := 0
			if listing.MetroTimeMinutes != nil {
				got = *listing.MetroTimeMinutes
			}
			if got != tt.want {
				t.Fatalf("minutes = %d, want %d", got, tt.want)
			}
			if prov[FieldMetroTime] != tt.strategy {
				t.Fatalf("strategy = %q, want %q", prov[FieldMetroTime], tt.strategy)
			}
		})
	}
}

func TestMinutesNearStation(t *testing.T) {
	station := "Купчино"
	st := newState(&models.ExtractedListing{MetroStation: &station}, testOptions())
	doc := &Document{RawText: "Купчино\n8 мин"}

	got, ok := minutesNearStation(doc, st, func(int) bool { return true })
	if !ok || got != 8 {
		t.Fatalf("expected 8 minutes near station, got %d, %v", got, ok)
	}
}

func TestBuildingType(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		want     models.BuildingType
		strategy string
	}{
		{
			"features label",
			`<ul class="params-list"><li>Тип дома: Панельный</li></ul>`,
			models.BuildingPanel, "building-features",
		},
		{
			"script material",
			`<p>Квартира</p><script>{"house":{"materialType":"monolithBrick"}}</script>`,
			models.BuildingMonolith, "building-structured",
		},
		{
			"series code",
			`<p>Дом серии 1-ЛГ-602, хорошее состояние.</p>`,
			models.BuildingBrezhnevEra, "building-series",
		},
		{
			"series code needs context",
			`<p>Квартира 137 м² с видом на парк.</p>`,
			models.BuildingPanel, "building-default",
		},
		{
			"raw material phrase",
			`<p>Кирпичный дом в тихом центре.</p>`,
			models.BuildingBrick, "building-text",
		},
		{
			"stalin nickname",
			`<p>Просторная сталинка с высокими потолками.</p>`,
			models.BuildingStalinEra, "building-text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, prov := explainHTML(t, testOptions(), "", "<html><body>"+tt.page+"</body></html>")
			if listing.BuildingType == nil || *listing.BuildingType != tt.want {
				t.Fatalf("building type = %v, want %s", listing.BuildingType, tt.want)
			}
			if prov[FieldBuildingType] != tt.strategy {
				t.Fatalf("strategy = %q, want %q", prov[FieldBuildingType], tt.strategy)
			}
		})
	}
}

func TestEraFor(t *testing.T) {
	tests := []struct {
		year int
		want models.BuildingType
		ok   bool
	}{
		{1929, "", false},
		{1930, models.BuildingStalinEra, true},
		{1955, models.BuildingStalinEra, true},
		{1956, models.BuildingKhrushchevEra, true},
		{1970, models.BuildingKhrushchevEra, true},
		{1971, models.BuildingBrezhnevEra, true},
		{1985, models.BuildingBrezhnevEra, true},
		{1986, "", false},
	}

	for _, tt := range tests {
		got, ok := eraFor(tt.year)
		if got != tt.want || ok != tt.ok {
			t.Errorf("eraFor(%d) = %q, %v; want %q, %v", tt.year, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name      string
		sourceURL string
		page      string
		want      models.Category
		strategy  string
	}{
		{
			"script flag",
			"https://spb.cian.ru/sale/flat/1/",
			`<p>Квартира</p><script>{"offer":{"isNewBuilding":true}}</script>`,
			models.CategoryNewConstruction, "category-script-flag",
		},
		{
			"past handover is not new",
			"https://spb.cian.ru/sale/flat/1/",
			`<p>Срок сдачи: 2019. Вторичка, собственник.</p>`,
			models.CategoryResale, "category-keywords",
		},
		{
			"keyword majority",
			"https://spb.cian.ru/sale/flat/1/",
			`<p>Новостройка от застройщика.</p>`,
			models.CategoryNewConstruction, "category-keywords",
		},
		{
			"keyword tie is resale",
			"https://spb.cian.ru/sale/newbuilding/zhk-aurora/",
			`<p>Новостройка, собственник.</p>`,
			models.CategoryResale, "category-keywords",
		},
		{
			"seller keyword tie is resale",
			"https://spb.cian.ru/sale/newbuilding/zhk-aurora/",
			`<p>Продаёт застройщик. Продаёт собственник.</p>`,
			models.CategoryResale, "category-keywords",
		},
		{
			"no keywords falls through to url",
			"https://spb.cian.ru/sale/newbuilding/zhk-aurora/",
			`<p>Квартира с видом на парк.</p>`,
			models.CategoryNewConstruction, "category-url",
		},
		{
			"recent year",
			"https://spb.cian.ru/sale/flat/1/",
			`<p>Год постройки: 2024</p>`,
			models.CategoryNewConstruction, "category-year",
		},
		{
			"old year",
			"https://spb.cian.ru/sale/flat/1/",
			`<p>Год постройки: 2001</p>`,
			models.CategoryResale, "category-year",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, prov := explainHTML(t, testOptions(), tt.sourceURL, "<html><body>"+tt.page+"</body></html>")
			if listing.Category == nil || *listing.Category != tt.want {
				t.Fatalf("category = %v, want %s", listing.Category, tt.want)
			}
			if prov[FieldCategory] != tt.strategy {
				t.Fatalf("strategy = %q, want %q", prov[FieldCategory], tt.strategy)
			}
		})
	}
}

func TestDistrict(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"geo label", `<a data-name="GeoLabel">р-н Невский</a>`, "Невский"},
		{"address part", `<div data-name="AddressContainer">Санкт-Петербург, Калининский район, пр. Науки</div>`, "Калининский"},
		{"raw text", `<p>Квартира, Московский район, рядом парк.</p>`, "Московский"},
		{"adjective is not a district", `<p>Спальный район с развитой инфраструктурой.</p>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, _ := explainHTML(t, testOptions(), "", "<html><body>"+tt.page+"</body></html>")
			got := ""
			if listing.District != nil {
				got = *listing.District
			}
			if got != tt.want {
				t.Fatalf("district = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoomsAndSeller(t *testing.T) {
	listing, _ := explainHTML(t, testOptions(), "", `<html><body><h1>3-комн. квартира, 78 м²</h1><div data-name="Owner">Агентство недвижимости</div></body></html>`)
	if listing.Rooms == nil || *listing.Rooms != 3 {
		t.Fatalf("expected 3 rooms, got %v", listing.Rooms)
	}
	if listing.AreaTotal == nil || *listing.AreaTotal != 78 {
		t.Fatalf("expected 78 m², got %v", listing.AreaTotal)
	}
	if listing.SellerType == nil || *listing.SellerType != models.SellerAgency {
		t.Fatalf("expected agency, got %v", listing.SellerType)
	}
}
