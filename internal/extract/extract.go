package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rondot/internal"
)

var (
	reEmailDomain = regexp.MustCompile(`(?i)(?:mailto:)?[a-z0-9._%+-]+@([a-z0-9][a-z0-9.-]*\.[a-z]{2,})`)

	// The four code pattern classes, unioned before filtering.
	reCodeNumeric = regexp.MustCompile(`\b\d{6,}\b`)
	reCodeHyphen  = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9]*(?:-[A-Za-z0-9]+)+\b`)
	reCodeAlnum   = regexp.MustCompile(`\b[A-Za-z]{1,6}\d{2,}\b`)
	reCodeLabeled = regexp.MustCompile(`(?i)\b(?:code|r[ée]f)\s*[:#]\s*([A-Za-z0-9][A-Za-z0-9./-]{2,})`)

	reQtyLabel = regexp.MustCompile(`(?i)\b(?:qty|quantit[ée]|qte)\s*[.:=]?\s*(\d{1,6})`)
	reQtyPcs   = regexp.MustCompile(`(?i)\b(\d{1,6})\s*(?:pcs|pc|pi[eè]ces?|unit[eé]s?|units?)\b`)
	reQtyTimes = regexp.MustCompile(`(?i)(?:^|\s)x\s*(\d{1,6})\b`)

	countryPrefixes = []string{"1", "7", "33", "34", "39", "44", "49"}
)

// falsePositiveLexicon holds tokens the code patterns keep catching in real
// traffic: machine-axis vocabulary (FR/EN), attachment boilerplate, generic
// order words. Matched case-insensitively against the whole token.
var falsePositiveLexicon = map[string]struct{}{
	"axe-x": {}, "axe-y": {}, "axe-z": {},
	"x-axis": {}, "y-axis": {}, "z-axis": {},
	"ci-joint": {}, "ci-jointe": {}, "ci-joints": {}, "ci-jointes": {},
	"attached": {}, "attachment": {},
	"item": {}, "items": {}, "part": {}, "parts": {},
	"piece": {}, "pieces": {}, "article": {}, "articles": {},
	"ref": {}, "reference": {},
}

type Extractor struct {
	internalDomains map[string]struct{}
	window          int
}

func New(internalDomains []string, windowChars int) *Extractor {
	denylist := make(map[string]struct{}, len(internalDomains))
	for _, d := range internalDomains {
		denylist[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	if windowChars <= 0 {
		windowChars = 80
	}
	return &Extractor{internalDomains: denylist, window: windowChars}
}

// Extract never fails: an email with no usable signals yields empty sets and
// the resolvers treat that as "no match".
func (e *Extractor) Extract(subject, body, sender string) internal.Signals {
	text := subject + "\n" + body

	sig := internal.Signals{
		Domains:        e.extractDomains(text, sender),
		Quantities:     map[string]int{},
		Descriptions:   map[string]string{},
		CandidateCodes: e.extractCodes(text),
	}

	for _, code := range sig.CandidateCodes {
		sig.Quantities[code] = e.quantityNear(text, code)
		if desc := descriptionFor(text, code); desc != "" {
			sig.Descriptions[code] = desc
		}
	}

	return sig
}

func (e *Extractor) extractDomains(text, sender string) []string {
	seen := map[string]struct{}{}
	out := []string{}

	add := func(domain string) {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			return
		}
		if _, denied := e.internalDomains[domain]; denied {
			return
		}
		if _, dup := seen[domain]; dup {
			return
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}

	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		add(strings.Trim(sender[at+1:], "<> "))
	}
	for _, m := range reEmailDomain.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return out
}

func (e *Extractor) extractCodes(text string) []string {
	// first-occurrence position per candidate, for deterministic output order
	position := map[string]int{}

	add := func(token string, at int) {
		token = strings.TrimRight(token, ".")
		if token == "" {
			return
		}
		if prev, ok := position[token]; !ok || at < prev {
			position[token] = at
		}
	}

	for _, re := range []*regexp.Regexp{reCodeNumeric, reCodeHyphen, reCodeAlnum} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			add(text[loc[0]:loc[1]], loc[0])
		}
	}
	for _, loc := range reCodeLabeled.FindAllStringSubmatchIndex(text, -1) {
		add(text[loc[2]:loc[3]], loc[2])
	}

	kept := make([]string, 0, len(position))
	for token := range position {
		if looksLikePhone(token) {
			continue
		}
		if _, bad := falsePositiveLexicon[strings.ToLower(token)]; bad {
			continue
		}
		kept = append(kept, token)
	}

	kept = dedupeOverlapping(kept)
	sort.Slice(kept, func(i, j int) bool {
		if position[kept[i]] != position[kept[j]] {
			return position[kept[i]] < position[kept[j]]
		}
		return kept[i] < kept[j]
	})
	return kept
}

// dedupeOverlapping keeps only the longest string among any pair where one is
// a substring of the other. A legitimate short code that happens to sit inside
// an unrelated longer token is lost; acceptable until real catalog data says
// otherwise.
func dedupeOverlapping(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		contained := false
		for _, other := range tokens {
			if t != other && strings.Contains(other, t) {
				contained = true
				break
			}
		}
		if !contained {
			out = append(out, t)
		}
	}
	return out
}

func looksLikePhone(token string) bool {
	digits := token
	allDigits := true
	for _, r := range token {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if !allDigits {
		return false
	}

	switch {
	case len(digits) == 10 && digits[0] == '0':
		return true
	case len(digits) == 9 && digits[0] >= '1' && digits[0] <= '9':
		return true
	case len(digits) >= 11:
		// 11-15 digits with a known country prefix, or any purely numeric 11+.
		if len(digits) <= 15 {
			for _, p := range countryPrefixes {
				if strings.HasPrefix(digits, p) {
					return true
				}
			}
		}
		return true
	}

	return highPairRepetition(digits)
}

// highPairRepetition flags digit strings like 22222222 or 12121212 where a
// small set of bigrams dominates, typical of fax footers.
func highPairRepetition(digits string) bool {
	if len(digits) < 8 {
		return false
	}
	pairs := map[string]int{}
	total := 0
	for i := 0; i+1 < len(digits); i++ {
		pairs[digits[i:i+2]]++
		total++
	}
	return float64(len(pairs))/float64(total) <= 0.5
}

func (e *Extractor) quantityNear(text, code string) int {
	at := strings.Index(text, code)
	if at < 0 {
		return 1
	}

	lo := at - e.window
	if lo < 0 {
		lo = 0
	}
	hi := at + len(code) + e.window
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]

	// First sane match by position in the window, whichever pattern produced it.
	bestAt := -1
	bestQty := 1
	for _, re := range []*regexp.Regexp{reQtyLabel, reQtyPcs, reQtyTimes} {
		for _, loc := range re.FindAllStringSubmatchIndex(window, -1) {
			n, err := strconv.Atoi(window[loc[2]:loc[3]])
			if err != nil || n <= 0 || n >= 100000 {
				continue
			}
			if bestAt < 0 || loc[0] < bestAt {
				bestAt = loc[0]
				bestQty = n
			}
		}
	}
	return bestQty
}

// descriptionFor returns the text of the line holding the code's first
// occurrence, minus the code and quantity noise. Feeds the product resolver's
// fuzzy description step.
func descriptionFor(text, code string) string {
	at := strings.Index(text, code)
	if at < 0 {
		return ""
	}

	start := strings.LastIndexByte(text[:at], '\n') + 1
	end := strings.IndexByte(text[at:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += at
	}

	line := text[start:end]
	line = strings.Replace(line, code, " ", 1)
	line = reQtyLabel.ReplaceAllString(line, " ")
	line = reQtyPcs.ReplaceAllString(line, " ")
	line = reQtyTimes.ReplaceAllString(line, " ")
	line = strings.Trim(line, " \t-:;,.")

	if len([]rune(line)) < 4 {
		return ""
	}
	return line
}
