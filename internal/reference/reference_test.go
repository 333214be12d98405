package reference

import (
	"errors"
	"testing"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

func TestCountries(t *testing.T) {
	countries, err := Countries()
	if err != nil {
		t.Fatalf("Countries() error = %v", err)
	}
	if len(countries) != 8 {
		t.Fatalf("Countries() returned %d countries, want 8", len(countries))
	}

	codes := make(map[string]bool, len(countries))
	for _, c := range countries {
		codes[c.Code] = true
		if c.Name == "" || c.Region == "" || c.Currency == "" || c.Timezone == "" {
			t.Errorf("country %s incomplete: %+v", c.Code, c)
		}
		if len(c.Languages) == 0 {
			t.Errorf("country %s has no languages", c.Code)
		}
	}
	for _, want := range []string{"NG", "KE", "GH", "ZA", "ET", "SN", "EG", "MA"} {
		if !codes[want] {
			t.Errorf("missing country %s", want)
		}
	}
}

func TestCountryByCode(t *testing.T) {
	tests := []struct {
		code     string
		name     string
		region   string
		currency string
	}{
		{"NG", "Nigeria", "west-africa", "NGN"},
		{"KE", "Kenya", "east-africa", "KES"},
		{"MA", "Morocco", "north-africa", "MAD"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := CountryByCode(tt.code)
			if err != nil {
				t.Fatalf("CountryByCode(%s) error = %v", tt.code, err)
			}
			if got.Name != tt.name || got.Region != tt.region || got.Currency != tt.currency {
				t.Errorf("CountryByCode(%s) = %+v", tt.code, got)
			}
		})
	}

	if _, err := CountryByCode("XX"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CountryByCode(XX) error = %v, want ErrNotFound", err)
	}
}

func TestCropCalendars(t *testing.T) {
	calendars, err := CropCalendars()
	if err != nil {
		t.Fatalf("CropCalendars() error = %v", err)
	}
	if len(calendars) != 5 {
		t.Fatalf("CropCalendars() returned %d regions, want 5", len(calendars))
	}

	for _, cal := range calendars {
		if len(cal.Seasons) == 0 {
			t.Errorf("region %s has no seasons", cal.Region)
		}
		if len(cal.MainCrops) == 0 || len(cal.PlantingMonths) == 0 || len(cal.HarvestMonths) == 0 {
			t.Errorf("region %s incomplete: %+v", cal.Region, cal)
		}
		for name, window := range cal.Seasons {
			if window.Start == "" || window.End == "" {
				t.Errorf("region %s season %s window empty", cal.Region, name)
			}
		}
	}
}

func TestCropCalendarForCountry(t *testing.T) {
	cal, err := CropCalendarForCountry("KE")
	if err != nil {
		t.Fatalf("CropCalendarForCountry(KE) error = %v", err)
	}
	if cal.Region != "east-africa" {
		t.Errorf("region = %s, want east-africa", cal.Region)
	}
	if _, ok := cal.Seasons["long_rains"]; !ok {
		t.Errorf("east-africa missing long_rains season: %+v", cal.Seasons)
	}

	if _, err := CropCalendarForCountry("XX"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CropCalendarForCountry(XX) error = %v, want ErrNotFound", err)
	}
}

func TestLanguages(t *testing.T) {
	langs, err := Languages()
	if err != nil {
		t.Fatalf("Languages() error = %v", err)
	}
	if len(langs) != 8 {
		t.Fatalf("Languages() returned %d languages, want 8", len(langs))
	}

	for _, want := range []string{"en", "fr", "ar", "sw", "ha", "yo", "am", "zu"} {
		if !LanguageSupported(want) {
			t.Errorf("language %s not supported", want)
		}
	}
	if LanguageSupported("de") {
		t.Error("LanguageSupported(de) = true, want false")
	}
}

func TestCountryLanguagesAreSupported(t *testing.T) {
	countries, err := Countries()
	if err != nil {
		t.Fatalf("Countries() error = %v", err)
	}

	for _, c := range countries {
		for _, lang := range c.Languages {
			if !LanguageSupported(lang) {
				t.Errorf("country %s lists unsupported language %s", c.Code, lang)
			}
		}
	}
}
