package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/slabworks/slab-market/backend/internal/models"
)

// newTestScraper disables pacing so scraper tests run at full speed.
func newTestScraper(baseURL string) *PSAScraper {
	s := NewPSAScraper(baseURL)
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	s.minDelay = 0
	s.maxDelay = 0
	return s
}

const psaCertPageHTML = `<!DOCTYPE html>
<html>
<head>
<script type="application/ld+json">{"@type":"Product","image":"https://d1htnxwo4o0jhw.cloudfront.net/cert/12345678/front.jpg"}</script>
</head>
<body>
<div class="site-header"><img src="/assets/psa-logo.png" alt="PSA"></div>
<h2>Item Information</h2>
<table>
<tr><th>Certification Number</th><td>12345678</td></tr>
<tr><th>Year</th><td>1999</td></tr>
<tr><th>Brand/Title</th><td>POKEMON GAME</td></tr>
<tr><th>Card Number</th><td>4</td></tr>
<tr><th>Subject</th><td>CHARIZARD-HOLO</td></tr>
<tr><th>Grade</th><td>GEM MT 10</td></tr>
<tr><th>Population</th><td>1234</td></tr>
</table>
<h2>Related Items</h2>
<div class="footer"><img src="/assets/footer-icon.png"></div>
</body>
</html>`

func TestFetchCertificateData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cert/12345678" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(psaCertPageHTML))
	}))
	defer server.Close()

	scraper := newTestScraper(server.URL)
	scrape, err := scraper.FetchCertificateData(context.Background(), "12345678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if scrape.CardName != "CHARIZARD-HOLO" {
		t.Errorf("CardName = %q, want CHARIZARD-HOLO", scrape.CardName)
	}
	if scrape.SetName != "POKEMON GAME" {
		t.Errorf("SetName = %q, want POKEMON GAME", scrape.SetName)
	}
	if scrape.CardNumber != "4" {
		t.Errorf("CardNumber = %q, want 4", scrape.CardNumber)
	}
	if scrape.Grade != "GEM MT 10" {
		t.Errorf("Grade = %q, want GEM MT 10", scrape.Grade)
	}
	if scrape.Year == nil || *scrape.Year != 1999 {
		t.Errorf("Year = %v, want 1999", scrape.Year)
	}
	if scrape.PopReport != "1234" {
		t.Errorf("PopReport = %q, want 1234", scrape.PopReport)
	}
	if scrape.ImageURL != "https://d1htnxwo4o0jhw.cloudfront.net/cert/12345678/front.jpg" {
		t.Errorf("ImageURL = %q, want the JSON-LD slab photo", scrape.ImageURL)
	}
}

func TestFetchCertificateDataBlocked(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"forbidden status", http.StatusForbidden, "nope"},
		{"captcha page", http.StatusOK, "<html><body>Please complete the CAPTCHA to continue</body></html>"},
		{"access denied page", http.StatusOK, "<html><body>Access Denied</body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			scraper := newTestScraper(server.URL)
			_, err := scraper.FetchCertificateData(context.Background(), "12345678")
			if !errors.Is(err, ErrProviderBlocked) {
				t.Errorf("expected ErrProviderBlocked, got %v", err)
			}
		})
	}
}

func TestFetchCertificateDataParseFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Welcome to our store</p></body></html>"))
	}))
	defer server.Close()

	scraper := newTestScraper(server.URL)
	_, err := scraper.FetchCertificateData(context.Background(), "12345678")
	if !errors.Is(err, ErrCertParseFailed) {
		t.Errorf("expected ErrCertParseFailed, got %v", err)
	}
}

func TestExtractSlabImageIgnoresChrome(t *testing.T) {
	// A page whose only images are site chrome must yield no image at all,
	// never a logo.
	html := `<html><body>
<h2>Item Information</h2>
<table><tr><th>Subject</th><td>PIKACHU</td></tr><tr><th>Grade</th><td>MINT 9</td></tr></table>
<img src="/assets/psa-logo.png">
<img src="/assets/nav-icon.png">
<img src="/assets/loading.gif">
<img src="/img/favicon.ico">
</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	scraper := newTestScraper(server.URL)
	scrape, err := scraper.FetchCertificateData(context.Background(), "99999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scrape.ImageURL != "" {
		t.Errorf("ImageURL = %q, want empty when only chrome images exist", scrape.ImageURL)
	}
}

func TestExtractSlabImagePrefersCertPath(t *testing.T) {
	html := `<html><body>
<h2>Item Information</h2>
<table><tr><th>Subject</th><td>PIKACHU</td></tr></table>
<img src="https://images.psacard.com/banners/sale.jpg">
<img src="https://images.psacard.com/cert/55555555/front_thumb.jpg">
</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	scraper := newTestScraper(server.URL)
	scrape, err := scraper.FetchCertificateData(context.Background(), "55555555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Thumbnail suffix is stripped to get the full-size variant.
	if scrape.ImageURL != "https://images.psacard.com/cert/55555555/front.jpg" {
		t.Errorf("ImageURL = %q, want the cleaned cert photo", scrape.ImageURL)
	}
}

func TestCleanSlabImageURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://x.com/cert/1/front.jpg?w=200&h=300", "https://x.com/cert/1/front.jpg"},
		{"https://x.com/thumb/front.jpg", "https://x.com/front.jpg"},
		{"https://x.com/cert/1/front_thumb.jpg", "https://x.com/cert/1/front.jpg"},
		{"https://x.com/cert/1/front-small.png", "https://x.com/cert/1/front.png"},
		{"https://x.com/cert/1/front.jpg", "https://x.com/cert/1/front.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := cleanSlabImageURL(tt.input); got != tt.expected {
				t.Errorf("cleanSlabImageURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFieldValidators(t *testing.T) {
	t.Run("card name", func(t *testing.T) {
		valid := []string{"CHARIZARD-HOLO", "1ST EDITION PIKACHU", "MEWTWO (JAPANESE)"}
		invalid := []string{"", "X", "Sign In To Your Account", "view population report", strings.Repeat("A", 61)}

		for _, s := range valid {
			if !validCertCardName(s) {
				t.Errorf("validCertCardName(%q) = false, want true", s)
			}
		}
		for _, s := range invalid {
			if validCertCardName(s) {
				t.Errorf("validCertCardName(%q) = true, want false", s)
			}
		}
	})

	t.Run("grade", func(t *testing.T) {
		valid := []string{"GEM MT 10", "MINT 9", "NM-MT 8", "8.5", "AUTHENTIC"}
		invalid := []string{"", "GRADE", "11", "GEM MT 10 POP 45 HIGHER 2"}

		for _, s := range valid {
			if !validCertGrade(s) {
				t.Errorf("validCertGrade(%q) = false, want true", s)
			}
		}
		for _, s := range invalid {
			if validCertGrade(s) {
				t.Errorf("validCertGrade(%q) = true, want false", s)
			}
		}
	})

	t.Run("year", func(t *testing.T) {
		valid := []string{"1900", "1999", "2100"}
		invalid := []string{"", "1899", "2101", "99", "nineteen"}

		for _, s := range valid {
			if !validCertYearText(s) {
				t.Errorf("validCertYearText(%q) = false, want true", s)
			}
		}
		for _, s := range invalid {
			if validCertYearText(s) {
				t.Errorf("validCertYearText(%q) = true, want false", s)
			}
		}
	})

	t.Run("card number", func(t *testing.T) {
		valid := []string{"4", "4/102", "SV049"}
		invalid := []string{"", "FOUR", "4 102 extra words here"}

		for _, s := range valid {
			if !validCertCardNumber(s) {
				t.Errorf("validCertCardNumber(%q) = false, want true", s)
			}
		}
		for _, s := range invalid {
			if validCertCardNumber(s) {
				t.Errorf("validCertCardNumber(%q) = true, want false", s)
			}
		}
	})
}

func TestCertificateDataHealthy(t *testing.T) {
	year := 1999

	tests := []struct {
		name     string
		data     *models.CertificateData
		expected bool
	}{
		{"nil payload", nil, false},
		{
			"full scraped payload",
			&models.CertificateData{CertificateNumber: "12345678", CardName: "CHARIZARD", SetName: "POKEMON GAME", Grade: "GEM MT 10", Year: &year},
			true,
		},
		{
			"stub payload with only cert number",
			&models.CertificateData{CertificateNumber: "ABC123", GradingCompany: "BGS"},
			true,
		},
		{
			"navigation text cached as card name",
			&models.CertificateData{CertificateNumber: "12345678", CardName: "sign in to view"},
			false,
		},
		{
			"logo cached as slab image",
			&models.CertificateData{CertificateNumber: "12345678", CardName: "CHARIZARD", ImageURL: "https://www.psacard.com/assets/psa-logo.png"},
			false,
		},
		{
			"empty payload",
			&models.CertificateData{},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CertificateDataHealthy(tt.data); got != tt.expected {
				t.Errorf("CertificateDataHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBlockPageMarker(t *testing.T) {
	if m := blockPageMarker([]byte("<html>Verify you are a human</html>")); m == "" {
		t.Error("expected block marker for human-verification page")
	}
	if m := blockPageMarker([]byte(psaCertPageHTML)); m != "" {
		t.Errorf("normal cert page flagged as blocked: %q", m)
	}
}
