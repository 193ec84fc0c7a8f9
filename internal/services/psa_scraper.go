package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/slabworks/slab-market/backend/internal/metrics"
	"github.com/slabworks/slab-market/backend/internal/models"
)

const (
	defaultPSABaseURL = "https://www.psacard.com"
	psaFetchTimeout   = 30 * time.Second
	maxCertPageBytes  = 4 << 20

	// A located "Item Information" section shorter than this is implausible
	// and triggers the broader fallback search.
	minSectionLength = 40
	// Upper bound on how much page text a section-scoped search may cover,
	// so a mis-scoped match cannot swallow unrelated page content.
	maxSectionLength = 6000

	maxCertCardNameLength = 60
	maxCertSetNameLength  = 80
	maxCertGradeLength    = 24
)

var (
	// ErrProviderBlocked distinguishes "they rejected us" (captcha, 403,
	// explicit block pages) from scraper bugs or layout drift.
	ErrProviderBlocked = errors.New("certificate provider is blocking automated requests")

	// ErrCertParseFailed means the page was fetched but no field survived
	// validation; usually layout drift requiring scraper maintenance.
	ErrCertParseFailed = errors.New("unable to parse certificate page")
)

// CertificateScrape holds the fields extracted from one certificate page.
// Every field has already passed its shape validator; absent fields failed
// extraction or validation and were discarded rather than corrected.
type CertificateScrape struct {
	CertNumber string
	CardName   string
	SetName    string
	CardNumber string
	Grade      string
	Year       *int
	ImageURL   string
	PopReport  string
}

// PSAScraper fetches certificate detail pages from PSA's public cert
// lookup and extracts slab data from presentation HTML. There is no
// documented API, so extraction is a cascade of progressively looser
// heuristics with strict post-hoc validation.
type PSAScraper struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
}

var psaUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

func NewPSAScraper(baseURL string) *PSAScraper {
	if baseURL == "" {
		baseURL = defaultPSABaseURL
	}
	return &PSAScraper{
		client: &http.Client{
			Timeout: psaFetchTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		// Conservative outbound pacing on top of the per-request jitter.
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		minDelay: 500 * time.Millisecond,
		maxDelay: 1500 * time.Millisecond,
	}
}

// FetchCertificateData fetches the certificate page for certNumber and
// extracts slab data from it. Returns ErrProviderBlocked when the upstream
// explicitly refuses the request and ErrCertParseFailed when nothing
// usable could be extracted.
func (s *PSAScraper) FetchCertificateData(ctx context.Context, certNumber string) (*CertificateScrape, error) {
	start := time.Now()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := s.jitterDelay(ctx); err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s/cert/%s", s.baseURL, certNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setBrowserHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.CertScrapeErrors.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("failed to fetch certificate page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		metrics.CertScrapeErrors.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("certificate page returned 403: %w", ErrProviderBlocked)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CertScrapeErrors.WithLabelValues("status").Inc()
		return nil, fmt.Errorf("certificate page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertPageBytes))
	if err != nil {
		metrics.CertScrapeErrors.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("failed to read certificate page: %w", err)
	}

	if marker := blockPageMarker(body); marker != "" {
		metrics.CertScrapeErrors.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("block page detected (%s): %w", marker, ErrProviderBlocked)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		metrics.CertScrapeErrors.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("failed to parse certificate page: %w", err)
	}

	page := newCertPage(doc, certNumber)
	scrape := &CertificateScrape{CertNumber: certNumber}

	scrape.SetName = page.firstValid(setNameStrategies, validCertSetName)
	scrape.CardName = page.firstValid(cardNameStrategies, validCertCardName)
	scrape.CardNumber = page.firstValid(cardNumberStrategies, validCertCardNumber)
	scrape.Grade = page.firstValid(gradeStrategies, validCertGrade)
	scrape.PopReport = page.firstValid(popReportStrategies, validCertPopReport)

	if y := page.firstValid(yearStrategies, validCertYearText); y != "" {
		year, _ := strconv.Atoi(y)
		scrape.Year = &year
	}

	scrape.ImageURL = s.extractSlabImage(page)

	if scrape.CardName == "" && scrape.SetName == "" && scrape.CardNumber == "" &&
		scrape.Grade == "" && scrape.Year == nil {
		metrics.CertScrapeErrors.WithLabelValues("parse").Inc()
		return nil, ErrCertParseFailed
	}

	metrics.CertScrapeDuration.Observe(time.Since(start).Seconds())
	return scrape, nil
}

// jitterDelay sleeps a randomized 0.5-1.5s before each request so fetches
// do not arrive on a metronome.
func (s *PSAScraper) jitterDelay(ctx context.Context) error {
	delay := s.minDelay
	if s.maxDelay > s.minDelay {
		delay += time.Duration(rand.Int63n(int64(s.maxDelay - s.minDelay)))
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PSAScraper) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", psaUserAgents[rand.Intn(len(psaUserAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Referer", s.baseURL+"/cert/")
}

var blockMarkers = []string{
	"captcha",
	"access denied",
	"temporarily unavailable",
	"request unsuccessful",
	"verify you are a human",
	"attention required",
}

func blockPageMarker(body []byte) string {
	lower := strings.ToLower(string(body))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

// certPage is the parsed page plus the progressively broader text scopes
// field strategies search in.
type certPage struct {
	doc         *goquery.Document
	certNumber  string
	fullText    string
	sectionText string
}

func newCertPage(doc *goquery.Document, certNumber string) *certPage {
	p := &certPage{
		doc:        doc,
		certNumber: certNumber,
		fullText:   collapseWhitespace(doc.Text()),
	}
	p.sectionText = p.locateItemInfoSection()
	return p
}

var headingNames = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"legend": true, "caption": true,
}

// locateItemInfoSection bounds extraction to the "Item Information" block:
// from its heading to the next major heading. Falls back to a bounded text
// slice when the structural search finds nothing plausible.
func (p *certPage) locateItemInfoSection() string {
	var section string
	p.doc.Find("h1, h2, h3, h4, h5, legend, caption").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(heading.Text()), "item information") {
			return true
		}
		var b strings.Builder
		for sib := heading.Next(); sib.Length() > 0; sib = sib.Next() {
			if headingNames[goquery.NodeName(sib)] {
				break
			}
			b.WriteString(sib.Text())
			b.WriteString("\n")
		}
		if strings.TrimSpace(b.String()) == "" {
			b.Reset()
			b.WriteString(heading.Parent().Text())
		}
		section = collapseWhitespace(b.String())
		return false
	})

	if len(section) >= minSectionLength {
		if len(section) > maxSectionLength {
			section = section[:maxSectionLength]
		}
		return section
	}

	// Text fallback: a bounded slice starting at the section title.
	lower := strings.ToLower(p.fullText)
	idx := strings.Index(lower, "item information")
	if idx < 0 {
		return ""
	}
	end := idx + maxSectionLength
	if end > len(p.fullText) {
		end = len(p.fullText)
	}
	section = p.fullText[idx:end]
	if len(section) < minSectionLength {
		return ""
	}
	return section
}

// firstValid runs the strategy cascade in priority order and returns the
// first extracted value that passes the validator. Values failing
// validation are discarded, not corrected.
func (p *certPage) firstValid(strategies []fieldStrategy, valid func(string) bool) string {
	for _, st := range strategies {
		v := collapseWhitespace(st.extract(p))
		if v == "" {
			continue
		}
		if valid(v) {
			return v
		}
	}
	return ""
}

// fieldStrategy is one (scope, extractor) step of a cascade. Strategies
// are ordered strictest-scope first so a loose match never shadows a
// structural one.
type fieldStrategy struct {
	name    string
	extract func(p *certPage) string
}

// Field label boundary for text extraction: a captured value ends at the
// next known label so a loose regex cannot run into unrelated content.
const certLabelBoundary = `(?:Certification Number|Cert Number|Reverse Cert|Spec Number|Label Type|Year|Brand/Title|Brand|Title|Subject|Player|Card Number|Variety/Pedigree|Variety|Category|Grade|Population|Item Information|$)`

func labelValueRegexp(labels string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + labels + `)\s*:?\s+(.+?)\s*` + certLabelBoundary)
}

var (
	setNameTextRe    = labelValueRegexp(`Brand/Title|Brand|Title`)
	cardNameTextRe   = labelValueRegexp(`Subject|Player`)
	cardNumberTextRe = labelValueRegexp(`Card Number`)
	yearTextRe       = labelValueRegexp(`Year`)
	gradeTextRe      = labelValueRegexp(`Item Grade|Grade`)
	popReportTextRe  = labelValueRegexp(`Population|Pop Report`)

	bareYearRe  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	bareGradeRe = regexp.MustCompile(`(?i)\b(?:GEM\s*MT|GEM\s*MINT|PRISTINE|MINT|NM-MT|NM|EX-MT|EX|VG-EX|VG|GOOD|FR|PR|AUTHENTIC)\s+(?:10|[1-9])(?:\.5)?\b`)
)

func structural(labels ...string) fieldStrategy {
	return fieldStrategy{
		name: "structural:" + strings.Join(labels, ","),
		extract: func(p *certPage) string {
			return p.labeledCellValue(labels...)
		},
	}
}

func sectionText(re *regexp.Regexp) fieldStrategy {
	return fieldStrategy{
		name: "section-text",
		extract: func(p *certPage) string {
			return firstSubmatch(re, p.sectionText)
		},
	}
}

func pageText(re *regexp.Regexp) fieldStrategy {
	return fieldStrategy{
		name: "page-text",
		extract: func(p *certPage) string {
			return firstSubmatch(re, p.fullText)
		},
	}
}

var (
	setNameStrategies = []fieldStrategy{
		structural("brand/title", "brand", "title"),
		sectionText(setNameTextRe),
	}
	cardNameStrategies = []fieldStrategy{
		structural("subject", "player"),
		sectionText(cardNameTextRe),
	}
	cardNumberStrategies = []fieldStrategy{
		structural("card number"),
		sectionText(cardNumberTextRe),
	}
	// Year and grade are short, low-ambiguity tokens, so whole-page text
	// is an acceptable last resort for them (and only them).
	yearStrategies = []fieldStrategy{
		structural("year"),
		sectionText(yearTextRe),
		sectionText(bareYearRe),
		pageText(yearTextRe),
	}
	gradeStrategies = []fieldStrategy{
		structural("item grade", "grade"),
		sectionText(gradeTextRe),
		pageText(gradeTextRe),
		pageText(bareGradeRe),
	}
	popReportStrategies = []fieldStrategy{
		structural("population", "pop report"),
		sectionText(popReportTextRe),
	}
)

// labeledCellValue finds a label cell (th/dt/strong) whose text equals one
// of labels and returns the adjacent value cell's text. Equality, not
// substring, so "Card Number" never matches a "Certification Number" row.
func (p *certPage) labeledCellValue(labels ...string) string {
	var value string
	p.doc.Find("th, dt, td strong, li strong, span.label, div.label").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSuffix(collapseWhitespace(cell.Text()), ":"))
		matched := false
		for _, label := range labels {
			if text == label {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}

		if v := collapseWhitespace(cell.Next().Text()); v != "" {
			value = v
			return false
		}
		// <tr><th>Label</th><td>value</td></tr> with the label nested deeper
		if v := collapseWhitespace(cell.Closest("tr").Find("td").Last().Text()); v != "" && !strings.EqualFold(v, text) {
			value = v
			return false
		}
		return true
	})
	return value
}

func firstSubmatch(re *regexp.Regexp, text string) string {
	if text == "" {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

var whitespaceRuns = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

// Field shape validators. These reject values that are really unrelated
// page text (navigation labels, footer links) captured by a loose pattern.
// PSA renders item fields in uppercase, so any lowercase letter means the
// match strayed outside the item table.

var (
	certNameShape   = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 .,'&/#()\-]*$`)
	certNumberShape = regexp.MustCompile(`^[A-Z0-9][A-Z0-9/\-]{0,14}$`)
	certGradeShape  = regexp.MustCompile(`^(?:[A-Z][A-Z .\-]*\s)?(?:10|[1-9])(?:\.5)?$`)
	certPopShape    = regexp.MustCompile(`^[0-9][0-9,]{0,11}$`)
	hasLetter       = regexp.MustCompile(`[A-Z]`)
	hasDigit        = regexp.MustCompile(`[0-9]`)
)

func validCertCardName(s string) bool {
	return len(s) >= 2 && len(s) <= maxCertCardNameLength &&
		certNameShape.MatchString(s) && hasLetter.MatchString(s)
}

func validCertSetName(s string) bool {
	return len(s) >= 3 && len(s) <= maxCertSetNameLength &&
		certNameShape.MatchString(s) && hasLetter.MatchString(s)
}

func validCertCardNumber(s string) bool {
	return certNumberShape.MatchString(s) && hasDigit.MatchString(s)
}

func validCertGrade(s string) bool {
	if len(s) > maxCertGradeLength {
		return false
	}
	return s == "AUTHENTIC" || certGradeShape.MatchString(strings.ToUpper(s))
}

func validCertPopReport(s string) bool {
	return certPopShape.MatchString(s)
}

func validCertYearText(s string) bool {
	y, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return validCertYear(y)
}

func validCertYear(y int) bool {
	return y >= minCardYear && y <= maxCardYear
}

// CertificateDataHealthy re-applies the scraper's field shape rules to an
// already-assembled payload. The verification cache runs this on every
// read so garbage cached by earlier scraper versions (navigation text as a
// card name, a site logo as the slab image) is scrubbed instead of served.
func CertificateDataHealthy(d *models.CertificateData) bool {
	if d == nil {
		return false
	}
	// The certificate number itself counts as populated so synthesized
	// stub payloads (format validation only) stay servable.
	populated := d.CertificateNumber != ""
	if d.CardName != "" {
		if !validCertCardName(d.CardName) {
			return false
		}
		populated = true
	}
	if d.SetName != "" {
		if !validCertSetName(d.SetName) {
			return false
		}
		populated = true
	}
	if d.CardNumber != "" {
		if !validCertCardNumber(d.CardNumber) {
			return false
		}
		populated = true
	}
	if d.Grade != "" {
		if !validCertGrade(d.Grade) {
			return false
		}
		populated = true
	}
	if d.Year != nil {
		if !validCertYear(*d.Year) {
			return false
		}
		populated = true
	}
	if d.ImageURL != "" && isExcludedImageURL(d.ImageURL) {
		return false
	}
	return populated
}

// Slab image extraction: candidates are gathered from structured data
// down to a raw attribute scan, scored by how strongly they look like a
// slab photo, and anything resembling site chrome is excluded outright.

var jsonLDImageRe = regexp.MustCompile(`"image"\s*:\s*"([^"]+)"`)

var slabImageSelectors = []string{
	"img.cert-image",
	".cert-image img",
	".slab-image img",
	"img[src*='/cert/']",
	"img[alt*='PSA']",
}

var backgroundImageRe = regexp.MustCompile(`background-image\s*:\s*url\(['"]?([^'")]+)['"]?\)`)

var imageExclusionMarkers = []string{
	"logo", "icon", "sprite", "placeholder", "favicon", "spacer",
	"blank.", "header", "footer", "/nav/", "nav-", "badge", "avatar",
	"loading", "pixel.",
}

var psaImageCDNMarkers = []string{
	"psacard.com",
	"psacard-autographs",
	"cloudfront.net",
}

type imageCandidate struct {
	url   string
	score int
}

func (s *PSAScraper) extractSlabImage(p *certPage) string {
	var candidates []imageCandidate

	add := func(raw string, strategyBonus int) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		resolved := s.resolveImageURL(raw)
		if resolved == "" || isExcludedImageURL(resolved) {
			return
		}
		candidates = append(candidates, imageCandidate{
			url:   resolved,
			score: strategyBonus + scoreSlabImage(resolved, p.certNumber),
		})
	}

	// 1. Structured data (JSON-LD)
	p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, script *goquery.Selection) {
		for _, m := range jsonLDImageRe.FindAllStringSubmatch(script.Text(), -1) {
			add(m[1], 4)
		}
	})

	// 2. Semantic image selectors
	for _, sel := range slabImageSelectors {
		p.doc.Find(sel).Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok {
				add(src, 3)
			}
			if src, ok := img.Attr("data-src"); ok {
				add(src, 3)
			}
		})
	}

	// 3. Inline background-image styles
	p.doc.Find("[style*='background-image']").Each(func(_ int, el *goquery.Selection) {
		style, _ := el.Attr("style")
		if m := backgroundImageRe.FindStringSubmatch(style); m != nil {
			add(m[1], 2)
		}
	})

	// 4. Full image-tag scan
	p.doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			add(src, 0)
		}
		if src, ok := img.Attr("data-src"); ok {
			add(src, 0)
		}
	})

	best := ""
	bestScore := 0
	for _, c := range candidates {
		if c.score > bestScore {
			best = c.url
			bestScore = c.score
		}
	}
	if best == "" {
		return ""
	}
	return cleanSlabImageURL(best)
}

func (s *PSAScraper) resolveImageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return raw
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func isExcludedImageURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasSuffix(strings.SplitN(lower, "?", 2)[0], ".svg") {
		return true
	}
	for _, marker := range imageExclusionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scoreSlabImage(rawURL, certNumber string) int {
	lower := strings.ToLower(rawURL)
	score := 1
	if strings.Contains(lower, "/cert/") {
		score += 3
	}
	if certNumber != "" && strings.Contains(lower, certNumber) {
		score += 3
	}
	for _, cdn := range psaImageCDNMarkers {
		if strings.Contains(lower, cdn) {
			score += 2
			break
		}
	}
	if strings.Contains(lower, "thumb") || strings.Contains(lower, "small") {
		score -= 2
	}
	return score
}

var thumbPathSegments = []string{"/thumb/", "/thumbs/", "/small/"}

// cleanSlabImageURL strips crop/resize query parameters and thumbnail path
// segments to obtain the largest available variant of the image.
func cleanSlabImageURL(rawURL string) string {
	cleaned := strings.SplitN(rawURL, "?", 2)[0]
	for _, seg := range thumbPathSegments {
		cleaned = strings.ReplaceAll(cleaned, seg, "/")
	}
	for _, suffix := range []string{"_thumb", "-thumb", "_small", "-small"} {
		if i := strings.LastIndex(cleaned, "."); i > 0 {
			stem, ext := cleaned[:i], cleaned[i:]
			cleaned = strings.TrimSuffix(stem, suffix) + ext
		}
	}
	if cleaned != rawURL {
		log.Printf("PSAScraper: normalized image URL %s -> %s", rawURL, cleaned)
	}
	return cleaned
}
