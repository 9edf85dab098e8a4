package extract

import (
	"regexp"

	"flat_scrooper/models"
)

// Selector, keyword and pattern tables. Extending coverage for a new page
// layout is a change here, not in the chain logic.

var (
	priceSelectors = []string{
		`[data-mark="MainPrice"]`,
		`[data-name="PriceInfo"] span`,
		`[data-testid="price-amount"]`,
		`span[class*="price"]`,
		`div[class*="price"]`,
	}
	pricePerAreaSelectors = []string{
		`[data-mark="PricePerMeter"]`,
		`[data-testid="price-per-meter"]`,
	}
	oldPriceSelectors = []string{
		`[data-mark="OldPrice"]`,
		`[data-name="OldPrice"]`,
	}
	titleSelectors = []string{
		`[data-name="OfferTitle"] h1`,
		`h1`,
		`[data-name="OfferTitle"]`,
	}
	featureContainers = []string{
		`[data-name="ObjectFactoids"]`,
		`[data-name="ObjectSummaryDescription"]`,
		`[data-name="OfferSummaryInfoLayout"]`,
		`[data-name="BtiHouseData"]`,
		`[data-name="Features"]`,
		`[class*="feature"]`,
		`[class*="param"]`,
		`[class*="characteristic"]`,
	}
	geoLabelSelectors       = []string{`[data-name="GeoLabel"]`}
	addressSelectors        = []string{`[data-name="AddressContainer"]`, `address`}
	sellerSelectors         = []string{`[data-name="Owner"]`, `[data-name="AuthorAsideBrand"]`, `[data-name="HomeownerBlock"]`}
	dedicatedMetroSelectors = []string{
		`[data-name="UndergroundStation"]`,
		`[data-name="UndergroundItem"] a`,
		`[data-name="GeoUnderground"] a`,
	}
	genericMetroSelectors = []string{
		`a[href*="metro"]`,
		`[class*="underground"]`,
		`[class*="metro"]`,
	}
	metroTimeSelectors = []string{
		`[data-name="UndergroundTime"]`,
		`[data-name="TransportTime"]`,
		`[data-name="UndergroundItem"] span`,
		`[class*="underground-time"]`,
		`[class*="metro-time"]`,
		`[class*="walk-time"]`,
	}
)

var (
	priceKeys        = keyPatterns(numberValue, "price", "priceRur", "priceTotal")
	pricePerAreaKeys = keyPatterns(numberValue, "pricePerMeter", "priceSqm", "pricePerSquareMeter")
	oldPriceKeys     = keyPatterns(numberValue, "oldPrice", "previousPrice", "priceBeforeDiscount")
	areaTotalKeys    = keyPatterns(numberValue, "totalArea", "areaTotal")
	areaLivingKeys   = keyPatterns(numberValue, "livingArea", "areaLiving")
	areaKitchenKeys  = keyPatterns(numberValue, "kitchenArea", "areaKitchen")
	floorCurrentKeys = keyPatterns(numberValue, "floorNumber", "floor")
	floorTotalKeys   = keyPatterns(numberValue, "floorsCount", "totalFloors", "floorsTotal")
	roomsKeys        = keyPatterns(numberValue, "roomsCount", "roomsNumber", "numberOfRooms")
	yearKeys         = keyPatterns(numberValue, "buildYear", "constructionYear", "yearBuilt", "houseBuildYear")
	materialKeys     = keyPatterns(stringValue, "materialType", "houseMaterialType", "buildingMaterial", "wallsMaterial")
	districtKeys     = keyPatterns(stringValue, "districtName", "district")
	metroKeys        = keyPatterns(stringValue, "metroStation", "undergroundName", "metro")
	metroTimeKeys    = keyPatterns(numberValue, "travelTime", "timeToMetro", "walkTime")
)

// nested name of the first entry in an "undergrounds" array
var undergroundNameKey = regexp.MustCompile(`"undergrounds"\s*:\s*\[\s*\{[^\]]*?"name"\s*:\s*"([^"]+)"`)

var districtNameKey = regexp.MustCompile(`"districts?"\s*:\s*\[?\s*\{[^\]]*?"name"\s*:\s*"([^"]+)"`)

var (
	yearLDPaths  = [][]string{{"yearBuilt"}, {"dateBuilt"}, {"constructionDate"}, {"buildDate"}}
	priceLDPaths = [][]string{{"offers", "price"}, {"price"}}
	areaLDPaths  = [][]string{{"floorSize"}}
	roomsLDPaths = [][]string{{"numberOfRooms"}}
	floorLDPaths = [][]string{{"floorLevel"}}
	titleLDPaths = [][]string{{"name"}}
	addrLDPaths  = [][]string{{"address", "streetAddress"}, {"address"}}
)

const num = `(\d+(?:[.,]\d+)?)`

var (
	rawPricePatterns = rx(
		`(\d[\d ]*\d|\d)\s*(?:₽|руб\.?)\s*(?:[^\s/]|$)`,
	)
	rawPricePerAreaPatterns = rx(
		`(\d[\d ]*\d|\d)\s*(?:₽|руб\.?)\s*/\s*м`,
		`(?i)цена\s+за\s+(?:м²|м2|метр)[:\s]*(\d[\d ]*\d)`,
	)
	rawOldPricePatterns = rx(
		`(?i)(?:старая|прежняя)\s+цена[:\s]*(\d[\d ]*\d)`,
	)

	titleAreaPatterns = rx(num + `\s*м²`, num + `\s*м2`)
	areaTotalPatterns = rx(
		`(?i)Общая(?:\s+площадь)?[:\s]*`+num+`\s*м`,
		num+`\s*м²\s*Общая`,
		`(?i)Площадь[:\s]*`+num+`\s*м`,
	)
	areaLivingPatterns = rx(
		`(?i)Жилая(?:\s+площадь)?[:\s]*`+num+`\s*м`,
		num+`\s*м²\s*Жилая`,
	)
	areaKitchenPatterns = rx(
		`(?i)(?:Площадь\s+кухни|Кухня)[:\s]*`+num+`\s*м`,
		num+`\s*м²\s*Кухня`,
	)

	floorCurrentPatterns = rx(
		`(?i)(\d+)\s*этаж\s+из\s+\d+`,
		`(?i)Этаж[:\s]*(\d+)\s*из\s*\d+`,
		`(\d+)\s*/\s*\d+\s*эт`,
		`(?i)(\d+)\s+из\s+\d+\s*Этаж`,
		`(?i)Этаж[:\s]*(\d+)`,
		`(?i)(\d+)\s*этаж(?:[^а-яё]|$)`,
	)
	floorTotalPatterns = rx(
		`(?i)\d+\s*этаж\s+из\s+(\d+)`,
		`(?i)Этаж[:\s]*\d+\s*из\s*(\d+)`,
		`\d+\s*/\s*(\d+)\s*эт`,
		`(?i)\d+\s+из\s+(\d+)\s*Этаж`,
		`(?i)Этажей\s+в\s+доме[:\s]*(\d+)`,
		`(?i)(\d+)-этажн`,
	)

	titleRoomsPatterns = rx(
		`(?i)(студи)`,
		`(?i)(\d+)\s*-?\s*комн`,
	)
	roomsLabelPatterns = rx(
		`(?i)Количество\s+комнат[:\s]*(\d+)`,
		`(?i)Комнат[:\s]*(\d+)`,
	)
	rawRoomsPatterns = rx(
		`(?i)(квартира-студия|студия,)`,
		`(?i)(\d+)\s*-\s*комн`,
		`(?i)(\d+)-комнатн`,
	)

	yearLabelPatterns = rx(
		`(?i)Год\s+постройки[:\s]*(\d{4})`,
		`(?i)(\d{4})\s*Год\s+постройки`,
		`(?i)Год\s+сдачи[:\s]*(\d{4})`,
	)
	rawYearPatterns = rx(
		`(?i)Год\s+постройки[:\s]*(\d{4})`,
		`(?i)Построен\S*\s+в[:\s]*(\d{4})`,
		`(?i)Сдан\s+в[:\s]*(\d{4})`,
		`(?i)Дом\s+(\d{4})\s+года`,
		`(?i)(\d{4})\s+года?\s+постройки`,
		`(?i)built\D{0,20}(\d{4})`,
	)

	rawDistrictPatterns = rx(
		`([А-ЯЁ][а-яё]+(?:-[А-ЯЁа-яё]+)?)\s+(?:р-н|район)`,
		`(?:р-н|район)\s+([А-ЯЁ][а-яё]+(?:-[А-ЯЁа-яё]+)?)`,
	)

	minutesPattern = regexp.MustCompile(`(\d{1,3})\s*мин`)
)

// materialLabelPatterns find the value next to a building type label
var materialLabelPatterns = rx(
	`(?i)(?:Тип\s+дома|Материал\s+стен|Тип\s+здания|Тип\s+постройки)[:\s]*([^\n]{2,40})`,
	`(?i)([^\n]{2,40})\n\s*(?:Тип\s+дома|Материал\s+стен|Тип\s+здания)`,
)

var rawMaterialPatterns = rx(
	`(?i)((?:монолитно-кирпичн|панельн|кирпичн|монолитн|блочн|деревянн)\S*\s+(?:дом|здани))`,
	`(?i)(сталинк|хрущ[её]вк|брежневк)`,
)

// materialKeywords map lowercase substrings to a building type. Order
// matters: the first hit wins, so compound materials come first.
var materialKeywords = []struct {
	Needle string
	Type   models.BuildingType
}{
	{"монолитно-кирпич", models.BuildingMonolith},
	{"монолит", models.BuildingMonolith},
	{"панел", models.BuildingPanel},
	{"кирпич", models.BuildingBrick},
	{"блоч", models.BuildingBlock},
	{"блок", models.BuildingBlock},
	{"дерев", models.BuildingWood},
	{"брус", models.BuildingWood},
	{"сталин", models.BuildingStalinEra},
	{"хрущ", models.BuildingKhrushchevEra},
	{"брежнев", models.BuildingBrezhnevEra},
	{"monolith", models.BuildingMonolith},
	{"panel", models.BuildingPanel},
	{"brick", models.BuildingBrick},
	{"block", models.BuildingBlock},
	{"wood", models.BuildingWood},
	{"stalin", models.BuildingStalinEra},
}

// seriesCodes map standard Soviet and Russian building series to a type.
// Each code is only matched after "серия" or "проект".
var seriesCodes = []struct {
	Code string
	Type models.BuildingType
}{
	{`1-?ЛГ-?602`, models.BuildingBrezhnevEra},
	{`1-?528`, models.BuildingBrezhnevEra},
	{`II-?18`, models.BuildingBrezhnevEra},
	{`II-?49`, models.BuildingBrezhnevEra},
	{`И-?209А`, models.BuildingBrezhnevEra},
	{`1-?335`, models.BuildingKhrushchevEra},
	{`1-?447`, models.BuildingKhrushchevEra},
	{`1-?464`, models.BuildingKhrushchevEra},
	{`1-?467`, models.BuildingKhrushchevEra},
	{`1-?510`, models.BuildingKhrushchevEra},
	{`1-?511`, models.BuildingKhrushchevEra},
	{`1-?515`, models.BuildingKhrushchevEra},
	{`К-?7`, models.BuildingKhrushchevEra},
	{`ОД`, models.BuildingKhrushchevEra},
	{`1-?ЛГ-?606`, models.BuildingPanel},
	{`1-?ЛГ-?600`, models.BuildingPanel},
	{`1-?ЛГ-?504`, models.BuildingPanel},
	{`137`, models.BuildingPanel},
	{`П-?44Т?`, models.BuildingPanel},
	{`П-?46`, models.BuildingPanel},
	{`П-?55`, models.BuildingPanel},
	{`П-?3М?`, models.BuildingPanel},
	{`ПД-?4`, models.BuildingPanel},
}

var seriesPatterns = compileSeries()

var individualProject = regexp.MustCompile(`(?i)индивидуальн\S*\s+проект`)

type seriesPattern struct {
	re  *regexp.Regexp
	typ models.BuildingType
}

func compileSeries() []seriesPattern {
	out := make([]seriesPattern, 0, len(seriesCodes))
	for _, s := range seriesCodes {
		re := regexp.MustCompile(`(?i)(?:сери[яиюй]|проект)\S*\s*[:№"«]*\s*` + s.Code + `(?:[^\dА-Яа-яЁёA-Za-z]|$)`)
		out = append(out, seriesPattern{re: re, typ: s.Type})
	}
	return out
}

// eraBands are the construction periods that name a building type
var eraBands = []struct {
	From, To int
	Type     models.BuildingType
}{
	{1930, 1955, models.BuildingStalinEra},
	{1956, 1970, models.BuildingKhrushchevEra},
	{1971, 1985, models.BuildingBrezhnevEra},
}

// eraYears is the representative year used when only the era is known
var eraYears = map[models.BuildingType]int{
	models.BuildingStalinEra:     1950,
	models.BuildingKhrushchevEra: 1962,
	models.BuildingBrezhnevEra:   1975,
}

var categoryFlagPatterns = []struct {
	re    *regexp.Regexp
	value func(match string) (models.Category, bool)
}{
	{regexp.MustCompile(`"is[Nn]ew[Bb]uilding"\s*:\s*(true|false)`), boolCategory},
	{regexp.MustCompile(`"isFromBuilder"\s*:\s*(true)`), boolCategory},
	{regexp.MustCompile(`"category"\s*:\s*"(newBuilding\w*)"`), constCategory(models.CategoryNewConstruction)},
	{regexp.MustCompile(`"category"\s*:\s*"((?:flat|room|share)Sale)"`), constCategory(models.CategoryResale)},
}

var handoverPatterns = rx(
	`(?i)(?:срок\s+сдачи|сдача\s+(?:ГК|дома|объекта|корпуса)?|год\s+сдачи|ввод\s+в\s+эксплуатацию|заселение|готовность)[^\n]{0,30}?(\d{4})`,
)

var newConstructionKeywords = []string{
	"новостройка", "новостройке", "новый дом", "новое строительство",
	"сдача дома", "срок сдачи", "ввод в эксплуатацию", "от застройщика",
	"застройщик", "жилой комплекс", "жк ", "дду", "договор долевого участия",
	"предчистовая отделка", "без отделки", "white box",
}

var resaleKeywords = []string{
	"вторичка", "вторичное жилье", "вторичное жильё", "вторичный рынок",
	"собственник", "свидетельство о собственности", "выписка из егрн",
	"более 3 лет в собственности", "более 5 лет в собственности",
	"прямая продажа", "альтернатива", "ремонт от собственника",
}

var newConstructionURLMarkers = []string{"newbuilding", "novostroyk", "zhk-"}

var sellerKeywords = []struct {
	Needle string
	Type   models.SellerType
}{
	{"собственник", models.SellerOwner},
	{"владелец", models.SellerOwner},
	{"агентство", models.SellerAgency},
	{"риелтор", models.SellerAgency},
	{"риэлтор", models.SellerAgency},
	{"агент", models.SellerAgency},
	{"застройщик", models.SellerAgency},
}

var homeownerFlag = regexp.MustCompile(`"isByHomeowner"\s*:\s*(true|false)`)

// districtStopwords are capitalised adjectives that precede "район" in
// descriptions without naming one.
var districtStopwords = map[string]bool{
	"Спальный": true, "Тихий": true, "Зеленый": true, "Зелёный": true,
	"Этот": true, "Развитый": true, "Престижный": true, "Хороший": true,
	"Новый": true, "Экологичный": true, "Центральный": true,
}

// transitKeywords mark a station mention as a metro reference
var transitKeywords = rx(
	`(?i)метро`,
	`(?i)станци`,
	`(?i)пешком`,
	`(?i)на\s+транспорте`,
	`(?:^|[\s(,])[мМ]\.\s*[А-ЯЁ]`,
	`(?i)(?:^|[\s(,])ст\.\s*м`,
)

const (
	stationWindow = 50
	timeWindow    = 100
)

// spbStations is the gazetteer of Saint Petersburg metro stations
var spbStations = []string{
	// line 1
	"Девяткино", "Гражданский проспект", "Академическая", "Политехническая",
	"Площадь Мужества", "Лесная", "Выборгская", "Площадь Ленина",
	"Чернышевская", "Площадь Восстания", "Владимирская", "Пушкинская",
	"Технологический институт", "Балтийская", "Нарвская", "Кировский завод",
	"Автово", "Ленинский проспект", "Проспект Ветеранов",
	// line 2
	"Парнас", "Проспект Просвещения", "Озерки", "Удельная", "Пионерская",
	"Чёрная речка", "Петроградская", "Горьковская", "Невский проспект",
	"Сенная площадь", "Фрунзенская", "Московские ворота", "Электросила",
	"Парк Победы", "Московская", "Звёздная", "Купчино",
	// line 3
	"Беговая", "Зенит", "Приморская", "Василеостровская", "Гостиный двор",
	"Маяковская", "Площадь Александра Невского", "Елизаровская", "Ломоносовская",
	"Пролетарская", "Обухово", "Рыбацкое",
	// line 4
	"Спасская", "Достоевская", "Лиговский проспект", "Новочеркасская",
	"Ладожская", "Проспект Большевиков", "Улица Дыбенко",
	// line 5
	"Комендантский проспект", "Старая Деревня", "Крестовский остров",
	"Чкаловская", "Спортивная", "Адмиралтейская", "Садовая", "Звенигородская",
	"Обводный канал", "Волковская", "Бухарестская", "Международная",
	"Проспект Славы", "Дунайская", "Шушары",
	// line 6
	"Горный институт", "Путиловская", "Юго-Западная",
}

func rx(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

const (
	numberValue = `"?(-?\d[\d.,]*)`
	stringValue = `"([^"]+)"`
)

// keyPatterns builds `"key": value` matchers for raw script text
func keyPatterns(value string, keys ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(keys))
	for i, k := range keys {
		out[i] = regexp.MustCompile(`"` + regexp.QuoteMeta(k) + `"\s*:\s*` + value)
	}
	return out
}

func boolCategory(match string) (models.Category, bool) {
	if match == "true" {
		return models.CategoryNewConstruction, true
	}
	return models.CategoryResale, true
}

func constCategory(c models.Category) func(string) (models.Category, bool) {
	return func(string) (models.Category, bool) { return c, true }
}
