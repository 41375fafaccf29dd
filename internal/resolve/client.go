package resolve

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"rondot/internal"
	"rondot/internal/catalog"
	"rondot/internal/textutil"
)

// ClientResolver scores every snapshot client against the extracted signals.
// Each strategy is a pure (signal, client) -> (score, reason) function and the
// client keeps the maximum.
type ClientResolver struct {
	floor int
	topN  int
	memo  *normMemo
}

func NewClientResolver(floor, topN int) *ClientResolver {
	if floor <= 0 {
		floor = 60
	}
	if topN <= 0 {
		topN = 5
	}
	return &ClientResolver{floor: floor, topN: topN, memo: newNormMemo()}
}

// Rank returns the top candidates, highest score first. Equal scores keep the
// client's original snapshot position: the sort is stable by policy, so two
// clients tied on score come back in catalog order.
func (r *ClientResolver) Rank(text string, sig internal.Signals, snap *catalog.Snapshot) []internal.MatchCandidate {
	normText := textutil.Normalize(text)
	longTokens := textutil.Tokenize(text, 6)
	allTokens := textutil.Tokenize(text, 3)

	domainSet := make(map[string]struct{}, len(sig.Domains))
	bases := make([]string, 0, len(sig.Domains))
	for _, d := range sig.Domains {
		domainSet[d] = struct{}{}
		if base := domainBase(d); base != "" {
			bases = append(bases, base)
		}
	}

	candidates := make([]internal.MatchCandidate, 0, len(snap.Clients))
	for _, client := range snap.Clients {
		score, reason := r.scoreClient(client, normText, longTokens, allTokens, domainSet, bases)
		if score < r.floor {
			continue
		}
		candidates = append(candidates, internal.MatchCandidate{
			EntityID: client.ID,
			Label:    client.DisplayName,
			Score:    score,
			Reason:   reason,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > r.topN {
		candidates = candidates[:r.topN]
	}
	return candidates
}

func (r *ClientResolver) scoreClient(client internal.ReferenceClient, normText string, longTokens, allTokens []string, domainSet map[string]struct{}, bases []string) (int, string) {
	normName := r.memo.get("n:"+client.DisplayName, client.DisplayName, textutil.Normalize)
	compactName := r.memo.get("c:"+client.DisplayName, client.DisplayName, textutil.Compact)
	if normName == "" {
		return 0, ""
	}
	words := strings.Fields(normName)

	best := 0
	reason := ""
	consider := func(score int, why string) {
		if score > best {
			best = score
			reason = why
		}
	}

	clientDomain := emailDomain(client.Email)
	_, domainHit := domainSet[clientDomain]
	if domainHit {
		consider(95, fmt.Sprintf("email domain %s", clientDomain))
	}

	// Leading words of the name, compacted, against each domain's base label.
	for n := 1; n <= 3 && n <= len(words); n++ {
		comp := strings.Join(words[:n], "")
		if len(comp) < 3 {
			continue
		}
		for _, base := range bases {
			if comp == base {
				consider(97, fmt.Sprintf("domain %s matches name", base))
				continue
			}
			if ratio := textutil.Ratio(comp, base); ratio > 0.90 {
				consider(scaled(ratio, 0.90, 1.0, 92, 97), fmt.Sprintf("domain %s close to name", base))
			}
		}
	}

	nameInText := strings.Contains(normText, normName)
	if nameInText {
		consider(90, "exact name in text")
	}
	if domainHit && nameInText {
		consider(98, fmt.Sprintf("domain %s and name in text", clientDomain))
	}

	// Compacted 2-4 word sequences of the name against long text tokens.
	for size := 2; size <= 4; size++ {
		for start := 0; start+size <= len(words); start++ {
			comp := strings.Join(words[start:start+size], "")
			if len(comp) < 6 {
				continue
			}
			for _, token := range longTokens {
				if comp == token {
					consider(88, "compact name in text")
					continue
				}
				if ratio := textutil.Ratio(comp, token); ratio > 0.85 {
					consider(scaled(ratio, 0.85, 1.0, 70, 88), "compact name close to text")
				}
			}
		}
	}

	// Token-level fuzzy: full name or its first word against every token.
	firstWord := words[0]
	for _, token := range allTokens {
		ratio := textutil.Ratio(normName, token)
		if fw := textutil.Ratio(firstWord, token); fw > ratio {
			ratio = fw
		}
		if ratio > 0.75 {
			consider(scaled(ratio, 0.75, 1.0, 70, 85), fmt.Sprintf("name close to %q", token))
		}
	}

	// Domain label embedded in, or similar to, the compacted client name.
	for _, base := range bases {
		if len(base) < 4 {
			continue
		}
		if strings.Contains(compactName, base) {
			coverage := float64(len(base)) / float64(len(compactName))
			consider(scaled(coverage, 0, 1.0, 65, 80), fmt.Sprintf("domain %s inside name", base))
			continue
		}
		if ratio := textutil.Ratio(base, compactName); ratio > 0.75 {
			consider(scaled(ratio, 0.75, 1.0, 65, 80), fmt.Sprintf("domain %s similar to name", base))
		}
	}

	return best, reason
}

// scaled maps ratio in (lo, hi] linearly onto [minScore, maxScore].
func scaled(ratio, lo, hi float64, minScore, maxScore int) int {
	if ratio >= hi {
		return maxScore
	}
	if ratio <= lo {
		return minScore
	}
	span := float64(maxScore - minScore)
	return minScore + int(math.Round((ratio-lo)/(hi-lo)*span))
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// domainBase returns the registrable label of a domain: the one just before
// the TLD, so mail.example.com -> example.
func domainBase(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return domain
	}
	return parts[len(parts)-2]
}
