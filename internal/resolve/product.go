package resolve

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"rondot/internal"
	"rondot/internal/catalog"
	"rondot/internal/mapping"
	"rondot/internal/textutil"
)

// ProductQuery is one candidate code pulled out of an email, with whatever
// context the extractor found next to it.
type ProductQuery struct {
	Code        string
	Description string
	Quantity    int
	SupplierID  string
}

// ProductResolution is the ranked outcome for one candidate code.
type ProductResolution struct {
	Code       string                   `json:"code"`
	Candidates []internal.MatchCandidate `json:"candidates"`
}

// ProductResolver runs the per-code cascade: exact catalog code, then learned
// mapping, then fuzzy description match, then a PENDING mapping write for the
// review queue. First success wins.
type ProductResolver struct {
	store     *mapping.Store
	topN      int
	promoteAt int
	log       *zap.Logger
}

func NewProductResolver(store *mapping.Store, topN, promoteAt int, log *zap.Logger) *ProductResolver {
	if topN <= 0 {
		topN = 10
	}
	if promoteAt <= 0 {
		promoteAt = 90
	}
	return &ProductResolver{store: store, topN: topN, promoteAt: promoteAt, log: log}
}

func (r *ProductResolver) Resolve(ctx context.Context, q ProductQuery, snap *catalog.Snapshot) (ProductResolution, error) {
	if err := ctx.Err(); err != nil {
		return ProductResolution{}, err
	}
	if q.Quantity <= 0 {
		q.Quantity = 1
	}

	// 1. Exact code lookup.
	if p, ok := snap.ProductByCode(q.Code); ok {
		return ProductResolution{Code: q.Code, Candidates: []internal.MatchCandidate{{
			EntityID: p.Code,
			Label:    p.Name,
			Score:    100,
			Reason:   "exact code",
			Quantity: q.Quantity,
		}}}, nil
	}

	// 2. Learned mapping, supplier-scoped then global.
	if cand, ok := r.lookupLearned(q, snap); ok {
		return ProductResolution{Code: q.Code, Candidates: []internal.MatchCandidate{cand}}, nil
	}

	// 3. Fuzzy description match against catalog names.
	if candidates := r.fuzzyByDescription(q, snap); len(candidates) > 0 {
		if candidates[0].Score >= r.promoteAt && q.SupplierID != "" {
			// Learn it: the next occurrence of this code short-circuits at step 2.
			err := r.store.Save(internal.MappingRecord{
				ExternalCode:        q.Code,
				ExternalDescription: q.Description,
				SupplierID:          q.SupplierID,
				InternalCode:        candidates[0].EntityID,
				Method:              internal.MethodFuzzyName,
				Confidence:          candidates[0].Score,
				Status:              internal.StatusValidated,
			})
			if err != nil {
				return ProductResolution{}, err
			}
			r.log.Info("auto-promoted fuzzy mapping",
				zap.String("code", q.Code),
				zap.String("internal", candidates[0].EntityID),
				zap.Int("score", candidates[0].Score))
		}
		return ProductResolution{Code: q.Code, Candidates: candidates}, nil
	}

	// 4. Unresolved: queue for manual review when we know the supplier.
	if q.SupplierID != "" {
		err := r.store.Save(internal.MappingRecord{
			ExternalCode:        q.Code,
			ExternalDescription: q.Description,
			SupplierID:          q.SupplierID,
			Method:              internal.MethodPending,
			Confidence:          0,
			Status:              internal.StatusPending,
		})
		if err != nil {
			return ProductResolution{}, err
		}
	}

	label := q.Code
	if q.Description != "" {
		label = q.Code + " " + q.Description
	}
	return ProductResolution{Code: q.Code, Candidates: []internal.MatchCandidate{{
		Label:    label,
		Score:    0,
		Reason:   "no catalog match",
		Quantity: q.Quantity,
		NotFound: true,
	}}}, nil
}

func (r *ProductResolver) lookupLearned(q ProductQuery, snap *catalog.Snapshot) (internal.MatchCandidate, bool) {
	keys := []string{}
	if q.SupplierID != "" {
		keys = append(keys, q.SupplierID)
	}
	keys = append(keys, "") // supplier-agnostic fallback key

	for _, supplier := range keys {
		rec, err := r.store.Get(q.Code, supplier)
		if err != nil {
			// A read failure degrades to the fuzzy path instead of failing the email.
			r.log.Warn("mapping lookup failed, skipping learned step",
				zap.String("code", q.Code), zap.Error(err))
			return internal.MatchCandidate{}, false
		}
		if rec == nil || rec.Status != internal.StatusValidated || rec.InternalCode == "" {
			continue
		}
		p, ok := snap.ProductByCode(rec.InternalCode)
		if !ok {
			r.log.Warn("validated mapping points outside current snapshot",
				zap.String("code", q.Code), zap.String("internal", rec.InternalCode))
			continue
		}
		return internal.MatchCandidate{
			EntityID: p.Code,
			Label:    p.Name,
			Score:    95,
			Reason:   "learned mapping",
			Quantity: q.Quantity,
		}, true
	}
	return internal.MatchCandidate{}, false
}

func (r *ProductResolver) fuzzyByDescription(q ProductQuery, snap *catalog.Snapshot) []internal.MatchCandidate {
	normDesc := textutil.Normalize(q.Description)
	if normDesc == "" {
		return nil
	}
	descWords := textutil.SignificantWords(q.Description)

	out := make([]internal.MatchCandidate, 0, 16)
	for _, p := range snap.Products {
		score, reason := scoreDescription(normDesc, descWords, p)
		if score < 60 {
			continue
		}
		out = append(out, internal.MatchCandidate{
			EntityID: p.Code,
			Label:    p.Name,
			Score:    score,
			Reason:   reason,
			Quantity: q.Quantity,
		})
	}

	// Products live in a map; order by score then code so identical inputs
	// always produce the identical candidate list.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if len(out) > r.topN {
		out = out[:r.topN]
	}
	return out
}

func scoreDescription(normDesc string, descWords []string, p internal.ReferenceProduct) (int, string) {
	normName := textutil.Normalize(p.Name)
	if normName == "" {
		return 0, ""
	}

	best := 0
	reason := ""

	if strings.Contains(normName, normDesc) || strings.Contains(normDesc, normName) {
		best = 85
		reason = "description contained in name"
	}

	if ratio := textutil.Ratio(normDesc, normName); ratio > 0.60 {
		if s := scaled(ratio, 0.60, 1.0, 60, 90); s > best {
			best = s
			reason = "description similarity"
		}
	}

	// Bigram overlap catches reordered or short-word descriptions that edit
	// distance and word matching both miss.
	if dice := textutil.DiceCoefficient(normDesc, normName); dice > 0.55 {
		if s := scaled(dice, 0.55, 1.0, 60, 82); s > best {
			best = s
			reason = "description bigram overlap"
		}
	}

	if len(descWords) > 0 {
		nameWords := map[string]struct{}{}
		for _, w := range textutil.SignificantWords(p.Name) {
			nameWords[w] = struct{}{}
		}
		shared := 0
		for _, w := range descWords {
			if _, ok := nameWords[w]; ok {
				shared++
			}
		}
		frac := float64(shared) / float64(len(descWords))
		if frac >= 0.5 {
			if s := scaled(frac, 0.5, 1.0, 60, 80); s > best {
				best = s
				reason = "shared description words"
			}
		}
	}

	return best, reason
}
