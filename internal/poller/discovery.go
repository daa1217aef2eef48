package poller

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lalithlochan/seatwatch/internal/db"
)

// WatchSource pages through watches and subscriptions.
type WatchSource interface {
	ScanWatches(ctx context.Context, term string, after db.WatchCursor, limit int) ([]db.Watch, *db.WatchCursor, error)
	ScanSubscriptions(ctx context.Context, term string, after uuid.UUID, limit int) ([]db.Subscription, uuid.UUID, error)
}

// Course is one watched course and the class numbers subscribed within it.
// ClassNumbers is sorted and may be empty when the watch count is stale.
type Course struct {
	Subject      string
	CourseID     string
	ClassNumbers []string
}

// Plan is the work for one run: courses grouped by term, in scan order.
type Plan struct {
	Terms   []string
	Courses map[string][]Course
	// Failed holds terms whose subscription scan failed. They are not in Terms.
	Failed map[string]error
}

// Empty reports whether there is nothing to scan.
func (p Plan) Empty() bool {
	return len(p.Terms) == 0
}

// CourseCount is the number of courses across all scheduled terms.
func (p Plan) CourseCount() int {
	n := 0
	for _, term := range p.Terms {
		n += len(p.Courses[term])
	}
	return n
}

type courseKey struct {
	subject, course string
}

// Discover builds the run plan. An empty term scans every term. A watch scan
// error aborts discovery; a subscription scan error drops only that term.
func Discover(ctx context.Context, src WatchSource, term string, pageSize int) (Plan, error) {
	plan := Plan{
		Courses: make(map[string][]Course),
		Failed:  make(map[string]error),
	}

	// term -> course -> class number set, plus first-seen ordering
	sets := make(map[string]map[courseKey]map[string]struct{})
	order := make(map[string][]courseKey)

	var cursor db.WatchCursor
	for {
		page, next, err := src.ScanWatches(ctx, term, cursor, pageSize)
		if err != nil {
			return Plan{}, fmt.Errorf("scan watches: %w", err)
		}
		for _, w := range page {
			if w.SubCount <= 0 {
				continue
			}
			courses, ok := sets[w.TermCode]
			if !ok {
				courses = make(map[courseKey]map[string]struct{})
				sets[w.TermCode] = courses
				plan.Terms = append(plan.Terms, w.TermCode)
			}
			key := courseKey{w.SubjectCode, w.CourseID}
			if _, ok := courses[key]; !ok {
				courses[key] = make(map[string]struct{})
				order[w.TermCode] = append(order[w.TermCode], key)
			}
		}
		if next == nil {
			break
		}
		cursor = *next
	}

	kept := plan.Terms[:0]
	for _, t := range plan.Terms {
		if err := collectClassNumbers(ctx, src, t, pageSize, sets[t]); err != nil {
			plan.Failed[t] = err
			continue
		}
		kept = append(kept, t)

		courses := make([]Course, 0, len(order[t]))
		for _, key := range order[t] {
			nbrs := make([]string, 0, len(sets[t][key]))
			for n := range sets[t][key] {
				nbrs = append(nbrs, n)
			}
			sort.Strings(nbrs)
			courses = append(courses, Course{Subject: key.subject, CourseID: key.course, ClassNumbers: nbrs})
		}
		plan.Courses[t] = courses
	}
	plan.Terms = kept

	return plan, nil
}

// collectClassNumbers intersects a term's active subscriptions with its
// watched courses.
func collectClassNumbers(ctx context.Context, src WatchSource, term string, pageSize int, courses map[courseKey]map[string]struct{}) error {
	after := uuid.Nil
	for {
		page, next, err := src.ScanSubscriptions(ctx, term, after, pageSize)
		if err != nil {
			return fmt.Errorf("scan subscriptions for term %s: %w", term, err)
		}
		for _, s := range page {
			if s.ClassNumber == "" {
				continue
			}
			if nbrs, ok := courses[courseKey{s.SubjectCode, s.CourseID}]; ok {
				nbrs[s.ClassNumber] = struct{}{}
			}
		}
		if next == uuid.Nil {
			return nil
		}
		after = next
	}
}
