package identity

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxTitleLength = 500

var (
	multiSpaceRegex = regexp.MustCompile(`[\s\p{Zs}]+`)
	nonDigitRegex   = regexp.MustCompile(`[^\d]`)
)

// SanitizeTitle strips markup and entities left by the crawler, collapses
// whitespace and truncates to the column width
func SanitizeTitle(title string) string {
	if strings.ContainsAny(title, "<&") {
		title = stripMarkup(title)
	}
	title = multiSpaceRegex.ReplaceAllString(strings.TrimSpace(title), " ")
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength]))
	}
	return title
}

func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// ParsePrice extracts the numeric value from a display price such as
// "2.500.000 TL" or "2.500.000,50 TL". Dots group thousands and a comma
// starts the kuruş part. Returns nil when the string holds no digits.
func ParsePrice(price string) *float64 {
	whole, frac, _ := strings.Cut(price, ",")
	cleaned := nonDigitRegex.ReplaceAllString(whole, "")
	if cleaned == "" {
		return nil
	}
	if frac = nonDigitRegex.ReplaceAllString(frac, ""); frac != "" {
		cleaned += "." + frac
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Location is the structured form of a "City / District / Neighborhood" string
type Location struct {
	City         *string
	District     *string
	Neighborhood *string
}

// SplitLocation parses "Sakarya / Hendek / Merkez". Missing or blank parts stay nil.
func SplitLocation(location string) Location {
	var loc Location
	if strings.TrimSpace(location) == "" {
		return loc
	}

	parts := strings.Split(location, "/")
	fields := []**string{&loc.City, &loc.District, &loc.Neighborhood}
	for i, part := range parts {
		if i >= len(fields) {
			break
		}
		part = multiSpaceRegex.ReplaceAllString(strings.TrimSpace(part), " ")
		if part != "" {
			p := part
			*fields[i] = &p
		}
	}
	return loc
}
