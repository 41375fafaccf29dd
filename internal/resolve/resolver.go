package resolve

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rondot/internal"
	"rondot/internal/catalog"
	"rondot/internal/extract"
)

// Email is one cleaned message handed to the core: plain text plus the
// externally computed classification gate.
type Email struct {
	Subject string
	Body    string
	Sender  string
	Gate    internal.Gate
}

// Resolution is the full outcome for one email. Degraded means the catalogs
// could not be consulted; it is distinct from "consulted and found nothing".
type Resolution struct {
	TraceID        string                     `json:"traceId"`
	Skipped        bool                       `json:"skipped,omitempty"`
	SkipReason     string                     `json:"skipReason,omitempty"`
	Degraded       bool                       `json:"degraded,omitempty"`
	DegradedReason string                     `json:"degradedReason,omitempty"`
	Clients        []internal.MatchCandidate  `json:"clients"`
	SupplierID     string                     `json:"supplierId,omitempty"`
	Products       []ProductResolution        `json:"products"`
	Elapsed        time.Duration              `json:"elapsedNs"`
}

// Resolver ties extraction, client ranking and product resolution together
// for one email at a time. Safe for concurrent use: each call reads a single
// snapshot reference and only the mapping store is shared mutable state.
type Resolver struct {
	extractor *extract.Extractor
	clients   *ClientResolver
	products  *ProductResolver
	snapshots *catalog.Store
	workers   int
	log       *zap.Logger
}

func NewResolver(extractor *extract.Extractor, clients *ClientResolver, products *ProductResolver, snapshots *catalog.Store, workers int, log *zap.Logger) *Resolver {
	if workers <= 0 {
		workers = 4
	}
	return &Resolver{
		extractor: extractor,
		clients:   clients,
		products:  products,
		snapshots: snapshots,
		workers:   workers,
		log:       log,
	}
}

// Resolve runs the whole cascade. Lookup misses are results, never errors;
// the only fatal path is a mapping store write failure, which would corrupt
// the learning loop if swallowed.
func (r *Resolver) Resolve(ctx context.Context, email Email) (Resolution, error) {
	start := time.Now()
	res := Resolution{
		TraceID:  uuid.NewString(),
		Clients:  []internal.MatchCandidate{},
		Products: []ProductResolution{},
	}

	if !email.Gate.ShouldResolve {
		res.Skipped = true
		res.SkipReason = email.Gate.Reason
		res.Elapsed = time.Since(start)
		return res, nil
	}

	snap := r.snapshots.Current()
	if snap == nil {
		status := r.snapshots.Status()
		res.Degraded = true
		res.DegradedReason = "no catalog snapshot available"
		if status.LastError != "" {
			res.DegradedReason += ": " + status.LastError
		}
		res.Elapsed = time.Since(start)
		r.log.Warn("resolution degraded", zap.String("trace", res.TraceID), zap.String("reason", res.DegradedReason))
		return res, nil
	}
	if status := r.snapshots.Status(); status.Stale {
		r.log.Warn("resolving against stale snapshot",
			zap.String("trace", res.TraceID), zap.Duration("age", status.Age))
	}

	text := email.Subject + "\n" + email.Body
	sig := r.extractor.Extract(email.Subject, email.Body, email.Sender)

	// Product resolution needs the winning supplier, so clients go first.
	res.Clients = r.clients.Rank(text, sig, snap)
	if len(res.Clients) > 0 {
		res.SupplierID = res.Clients[0].EntityID
	}

	results := make([]ProductResolution, len(sig.CandidateCodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, code := range sig.CandidateCodes {
		g.Go(func() error {
			out, err := r.products.Resolve(gctx, ProductQuery{
				Code:        code,
				Description: sig.Descriptions[code],
				Quantity:    sig.Quantities[code],
				SupplierID:  res.SupplierID,
			}, snap)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}
	res.Products = results
	res.Elapsed = time.Since(start)

	notFound := 0
	for _, p := range res.Products {
		if len(p.Candidates) > 0 && p.Candidates[0].NotFound {
			notFound++
		}
	}
	r.log.Info("email resolved",
		zap.String("trace", res.TraceID),
		zap.Int("clients", len(res.Clients)),
		zap.Int("codes", len(res.Products)),
		zap.Int("notFound", notFound),
		zap.Duration("elapsed", res.Elapsed))

	return res, nil
}
