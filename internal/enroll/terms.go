package enroll

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TermInfo is what the poller needs to know about a term.
type TermInfo struct {
	Code        string
	Description string
	EndDate     time.Time
}

// TermsLoader fetches term metadata.
type TermsLoader interface {
	Terms(ctx context.Context) ([]Term, error)
}

// TermCatalog resolves term descriptions and end dates, caching the
// aggregate response for ttl. Lookups never fail: unknown terms get the raw
// code as description and a computed end date.
type TermCatalog struct {
	loader TermsLoader
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	terms    map[string]Term
	loadedAt time.Time
}

func NewTermCatalog(loader TermsLoader, ttl time.Duration, logger *zap.Logger) *TermCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TermCatalog{
		loader: loader,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Describe returns the description and end date for code.
func (c *TermCatalog) Describe(ctx context.Context, code string) TermInfo {
	info := TermInfo{Code: code, Description: code}

	term, ok := c.lookup(ctx, code)
	if ok && term.ShortDescription != "" {
		info.Description = term.ShortDescription
	} else if ok && term.LongDescription != "" {
		info.Description = term.LongDescription
	}

	if ok && !term.EndDate.IsZero() {
		info.EndDate = term.EndDate.Time
	} else {
		info.EndDate = FallbackEndDate(code, c.now())
	}
	return info
}

func (c *TermCatalog) lookup(ctx context.Context, code string) (Term, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terms == nil || c.now().Sub(c.loadedAt) > c.ttl {
		terms, err := c.loader.Terms(ctx)
		if err != nil {
			c.logger.Warn("term metadata unavailable", zap.String("term", code), zap.Error(err))
			if c.terms == nil {
				return Term{}, false
			}
		} else {
			c.terms = make(map[string]Term, len(terms))
			for _, t := range terms {
				c.terms[t.TermCode] = t
			}
			c.loadedAt = c.now()
		}
	}

	t, ok := c.terms[code]
	return t, ok
}

// FallbackEndDate estimates a term's end from its code. Codes are CYYS: C is
// the century (1 = 2000s), YY the academic year it closes, S the session
// (2 fall, 4 spring, 6 summer). Unrecognized codes end six months from now.
func FallbackEndDate(code string, now time.Time) time.Time {
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 4 {
		return now.AddDate(0, 6, 0)
	}

	year := 1900 + (n/1000)*100 + (n/10)%100
	switch n % 10 {
	case 2:
		return time.Date(year-1, time.December, 15, 0, 0, 0, 0, time.UTC)
	case 4:
		return time.Date(year, time.May, 15, 0, 0, 0, 0, time.UTC)
	case 6:
		return time.Date(year, time.August, 15, 0, 0, 0, 0, time.UTC)
	default:
		return now.AddDate(0, 6, 0)
	}
}
