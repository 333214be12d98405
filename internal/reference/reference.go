// Package reference serves the embedded country, crop calendar and
// language catalogs. The data is static per release; clients cache it
// for offline use and refresh opportunistically.
package reference

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

//go:embed reference.json
var rawCatalog []byte

// Country describes one supported country
type Country struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Region      string   `json:"region"`
	Languages   []string `json:"languages"`
	Currency    string   `json:"currency"`
	MobileMoney []string `json:"mobile_money"`
	Timezone    string   `json:"timezone"`
}

// SeasonWindow is a recurring yearly window, MM-DD inclusive.
// Windows may wrap the year end (dry seasons usually do).
type SeasonWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CropCalendar describes the growing seasons of one region
type CropCalendar struct {
	Region         string                  `json:"region"`
	Seasons        map[string]SeasonWindow `json:"seasons"`
	MainCrops      []string                `json:"main_crops"`
	PlantingMonths []string                `json:"planting_months"`
	HarvestMonths  []string                `json:"harvest_months"`
}

// Language describes one supported interface language
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
}

type catalog struct {
	Countries     []Country      `json:"countries"`
	CropCalendars []CropCalendar `json:"crop_calendars"`
	Languages     []Language     `json:"languages"`
}

var (
	loadOnce sync.Once
	loaded   catalog
	loadErr  error
)

func load() (catalog, error) {
	loadOnce.Do(func() {
		loadErr = json.Unmarshal(rawCatalog, &loaded)
	})
	if loadErr != nil {
		return catalog{}, fmt.Errorf("failed to parse reference catalog: %w", loadErr)
	}
	return loaded, nil
}

// Countries returns all supported countries
func Countries() ([]Country, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	return c.Countries, nil
}

// CountryByCode retrieves one country by ISO code
func CountryByCode(code string) (*Country, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	for i := range c.Countries {
		if c.Countries[i].Code == code {
			return &c.Countries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: country %s", domain.ErrNotFound, code)
}

// CropCalendars returns the per-region crop calendars
func CropCalendars() ([]CropCalendar, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	return c.CropCalendars, nil
}

// CropCalendarForCountry retrieves the calendar of the country's region
func CropCalendarForCountry(code string) (*CropCalendar, error) {
	country, err := CountryByCode(code)
	if err != nil {
		return nil, err
	}

	c, err := load()
	if err != nil {
		return nil, err
	}
	for i := range c.CropCalendars {
		if c.CropCalendars[i].Region == country.Region {
			return &c.CropCalendars[i], nil
		}
	}
	return nil, fmt.Errorf("%w: calendar for region %s", domain.ErrNotFound, country.Region)
}

// Languages returns all supported interface languages
func Languages() ([]Language, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	return c.Languages, nil
}

// LanguageSupported reports whether a language code is supported
func LanguageSupported(code string) bool {
	langs, err := Languages()
	if err != nil {
		return false
	}
	for _, l := range langs {
		if l.Code == code {
			return true
		}
	}
	return false
}
