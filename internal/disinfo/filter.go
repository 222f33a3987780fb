// Package disinfo implements multi-signal scoring of unverified web content,
// applied by the HUGIN branch handler and the watcher daemon before any
// unanchored claim is allowed to influence a knowledge node's confidence.
package disinfo

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Severity mirrors domain.AlertSeverity's vocabulary but stays local to avoid
// a dependency from disinfo (a pure content classifier) onto the ledger's
// domain package.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Recommendation is the filter's action recommendation.
type Recommendation string

const (
	RecommendAccept Recommendation = "ACCEPT"
	RecommendReview Recommendation = "REVIEW"
	RecommendFlag   Recommendation = "FLAG"
	RecommendBlock  Recommendation = "BLOCK"
)

// DetectedType enumerates the kinds of disinformation signals the filter can raise.
type DetectedType string

const (
	TypeKnownDisinfo      DetectedType = "KNOWN_DISINFO_SOURCE"
	TypeSatireAsNews      DetectedType = "SATIRE_AS_NEWS"
	TypeEmotionalManip    DetectedType = "EMOTIONAL_MANIPULATION"
	TypeConspiracy        DetectedType = "CONSPIRACY_LANGUAGE"
	TypeFabricatedContent DetectedType = "FABRICATED_CONTENT"
	TypeScientificMisinfo DetectedType = "SCIENTIFIC_MISINFORMATION"
	TypeArtificialUrgency DetectedType = "ARTIFICIAL_URGENCY"
	TypeStaleTemporal     DetectedType = "STALE_TEMPORAL_CLAIM"
)

// Metadata carries optional context about the content being scored.
type Metadata struct {
	PublishedAt *time.Time
}

// Result is the filter's verdict for a single piece of content.
type Result struct {
	RiskScore      int
	DetectedTypes  []DetectedType
	Severity       Severity
	Indicators     []string
	Recommendation Recommendation
	Explanation    string
	Confidence     int
}

// knownDisinfoDomains and satireDomains are normalized-hostname set lookups.
// Representative, not exhaustive — the real deployment would load these from
// a maintained list; the detection mechanism (not the list) is what's tested.
var knownDisinfoDomains = map[string]bool{
	"naturalnews.com":   true,
	"infowars.com":      true,
	"beforeitsnews.com": true,
}

var satireDomains = map[string]bool{
	"theonion.com":          true,
	"babylonbee.com":        true,
	"clickhole.com":         true,
	"thedailymash.co.uk":    true,
	"waterfordwhispers.com": true,
}

var factCheckerDomains = map[string]bool{
	"snopes.com":       true,
	"factcheck.org":    true,
	"politifact.com":   true,
	"reuters.com":      true,
	"apnews.com":       true,
	"fullfact.org":     true,
}

// suspiciousURLPattern flags hostnames engineered to look like a known outlet
// (e.g. "cnn-news24.com", "bbc-breaking.net").
var suspiciousURLPattern = regexp.MustCompile(`(?i)(cnn|bbc|reuters|nytimes|breaking)[-_](news|update|report|live|today|daily)`)

// Bilingual (EN/ES) phrase catalogs, matching the classifier's bilingual
// pattern-catalog approach (spec §4.1).
var emotionalManipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(outrage|shocking|terrifying|horrifying|devastating|you won'?t believe)\b`),
	regexp.MustCompile(`(?i)\b(indignante|aterrador|devastador|no vas a creer)\b`),
}

var conspiracyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(deep state|they don'?t want you to know|cover[- ]?up|mainstream media won'?t tell you|wake up sheeple)\b`),
	regexp.MustCompile(`(?i)\b(estado profundo|no quieren que sepas|encubrimiento)\b`),
}

var vagueAttributionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(sources say|experts claim|some say|many believe|it is said|people are saying)\b`),
	regexp.MustCompile(`(?i)\b(fuentes dicen|algunos dicen|se dice que)\b`),
}

var absoluteClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(always|never|every single|100% proven|guaranteed|undeniable proof)\b`),
	regexp.MustCompile(`(?i)\b(siempre|nunca|cada uno|prueba innegable)\b`),
}

var urgencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(share before it'?s deleted|act now|before they take this down|urgent|breaking now)\b`),
	regexp.MustCompile(`(?i)\b(comparte antes|actúa ahora|urgente)\b`),
}

var scientificConsensusTopics = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(vaccines cause autism|climate change is a hoax|earth is flat|evolution is (just |only )?a theory (and false|fake))\b`),
}

var presentTimeLanguage = regexp.MustCompile(`(?i)\b(today|right now|currently|as of now|breaking)\b`)

var fabricatedContentPattern = regexp.MustCompile(`(?i)\b(leaked document(s)? (prove|reveal)|fabricated|doctored image|deepfake)\b`)

// Score runs the layered analysis of §4.3 and returns an additive,
// cap-at-100 risk assessment.
func Score(rawURL, content string, md Metadata) Result {
	var score int
	var indicators []string
	var types []DetectedType

	host := normalizeHost(rawURL)

	// --- Source layer ---
	isKnownDisinfo := host != "" && knownDisinfoDomains[host]
	isSatire := host != "" && satireDomains[host]
	isFactChecker := host != "" && factCheckerDomains[host]

	if isKnownDisinfo {
		score += 50
		indicators = append(indicators, "KNOWN_DISINFO_DOMAIN")
		types = append(types, TypeKnownDisinfo)
	}
	if isSatire {
		score += 30
		indicators = append(indicators, "SATIRE_SOURCE")
		types = append(types, TypeSatireAsNews)
	}
	if host != "" && suspiciousURLPattern.MatchString(host) {
		score += 15
		indicators = append(indicators, "SUSPICIOUS_URL_PATTERN")
	}

	// --- Content layer ---
	emotionalN := countMatches(emotionalManipPatterns, content)
	if emotionalN > 0 {
		w := min(5*emotionalN, 25)
		score += w
		indicators = append(indicators, "EMOTIONAL_MANIPULATION")
		types = append(types, TypeEmotionalManip)
	}

	conspiracyN := countMatches(conspiracyPatterns, content)
	if conspiracyN > 0 {
		w := min(10*conspiracyN, 40)
		score += w
		indicators = append(indicators, "CONSPIRACY_LANGUAGE")
		types = append(types, TypeConspiracy)
	}

	vagueN := countMatches(vagueAttributionPatterns, content)
	if vagueN > 2 {
		w := min(3*vagueN, 15)
		score += w
		indicators = append(indicators, "VAGUE_ATTRIBUTION")
	}

	if capsRatio(content) > 0.15 {
		score += 10
		indicators = append(indicators, "EXCESSIVE_CAPS")
	}
	if exclamationRatio(content) > 0.3 {
		score += 8
		indicators = append(indicators, "EXCESSIVE_EXCLAMATION")
	}

	// --- Claims layer ---
	if countMatches(absoluteClaimPatterns, content) > 0 {
		score += 15
		indicators = append(indicators, "ABSOLUTE_CLAIM")
	}
	if countMatches(urgencyPatterns, content) > 0 {
		score += 12
		indicators = append(indicators, "ARTIFICIAL_URGENCY")
		types = append(types, TypeArtificialUrgency)
	}
	if fabricatedContentPattern.MatchString(content) {
		indicators = append(indicators, "FABRICATED_CONTENT")
		types = append(types, TypeFabricatedContent)
	}

	// --- Scientific layer ---
	scientificHits := countMatches(scientificConsensusTopics, content)
	if scientificHits > 0 {
		score += 35 * scientificHits
		indicators = append(indicators, "CONTRADICTS_SCIENTIFIC_CONSENSUS")
		types = append(types, TypeScientificMisinfo)
	}

	// --- Temporal layer ---
	if md.PublishedAt != nil {
		age := time.Since(*md.PublishedAt)
		if age > 365*24*time.Hour && presentTimeLanguage.MatchString(content) {
			score += 25
			indicators = append(indicators, "STALE_TEMPORAL_CLAIM")
			types = append(types, TypeStaleTemporal)
		}
	}

	if score > 100 {
		score = 100
	}

	hasFabricated := contains(types, TypeFabricatedContent)
	hasScientific := contains(types, TypeScientificMisinfo)

	var severity Severity
	switch {
	case hasFabricated || hasScientific:
		severity = SeverityCritical
	case score >= 70:
		severity = SeverityCritical
	case score >= 45:
		severity = SeverityHigh
	case score >= 25:
		severity = SeverityMedium
	default:
		severity = SeverityLow
	}

	var rec Recommendation
	switch {
	case isKnownDisinfo:
		rec = RecommendBlock
	case isFactChecker:
		rec = RecommendAccept
	default:
		switch severity {
		case SeverityCritical:
			rec = RecommendBlock
		case SeverityHigh:
			rec = RecommendFlag
		case SeverityMedium:
			rec = RecommendReview
		default:
			rec = RecommendAccept
		}
	}

	confidence := min(50+10*len(indicators), 95)
	if confidence < 50 {
		confidence = 50
	}

	return Result{
		RiskScore:      score,
		DetectedTypes:  dedupeTypes(types),
		Severity:       severity,
		Indicators:     indicators,
		Recommendation: rec,
		Explanation:    explain(severity, indicators),
		Confidence:     confidence,
	}
}

func explain(sev Severity, indicators []string) string {
	if len(indicators) == 0 {
		return "no disinformation signals detected"
	}
	return "severity " + string(sev) + " based on signals: " + strings.Join(indicators, ", ")
}

func normalizeHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func countMatches(patterns []*regexp.Regexp, content string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllString(content, -1))
	}
	return n
}

func capsRatio(content string) float64 {
	letters, caps := 0, 0
	for _, r := range content {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
			if r >= 'A' && r <= 'Z' {
				caps++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(caps) / float64(letters)
}

func exclamationRatio(content string) float64 {
	sentences := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(sentences) == 0 {
		return 0
	}
	bangs := strings.Count(content, "!")
	return float64(bangs) / float64(len(sentences))
}

func contains(types []DetectedType, t DetectedType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func dedupeTypes(types []DetectedType) []DetectedType {
	seen := make(map[DetectedType]bool, len(types))
	out := make([]DetectedType, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
