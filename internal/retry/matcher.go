package retry

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Matcher decides whether an error is eligible for another attempt.
type Matcher interface {
	Matches(err error) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(err error) bool

func (f MatcherFunc) Matches(err error) bool { return f(err) }

// AlwaysMatcher matches every non-nil error.
type AlwaysMatcher struct{}

func (AlwaysMatcher) Matches(err error) bool { return err != nil }

// TimeoutCode is the pseudo-code ErrorTypeMatcher uses for deadline errors.
const TimeoutCode = "timeout"

// ErrorTypeMatcher matches errors carrying any of the configured codes
// anywhere in their wrap chain. schema.ErrCodeAny matches every error.
type ErrorTypeMatcher struct {
	Codes []string
}

func (m ErrorTypeMatcher) Matches(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range m.Codes {
		if code == TimeoutCode {
			if errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			continue
		}
		if schema.HasCode(err, code) {
			return true
		}
	}
	return false
}

// ErrorMessageMatcher matches error text against a substring or a regular
// expression. Pattern wins when both are set.
type ErrorMessageMatcher struct {
	Substring string
	Pattern   *regexp.Regexp
}

func (m ErrorMessageMatcher) Matches(err error) bool {
	if err == nil {
		return false
	}
	if m.Pattern != nil {
		return m.Pattern.MatchString(err.Error())
	}
	return m.Substring != "" && strings.Contains(err.Error(), m.Substring)
}

// HTTPStatusMatcher matches errors that expose one of the given HTTP status
// codes through an HTTPStatus() int method somewhere in their chain.
type HTTPStatusMatcher struct {
	Statuses []int
}

func (m HTTPStatusMatcher) Matches(err error) bool {
	status := HTTPStatus(err)
	if status == 0 {
		return false
	}
	for _, s := range m.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// RateLimitStatuses are the throttling codes RateLimitMatcher accepts.
var RateLimitStatuses = []int{429, 503}

// NewRateLimitMatcher matches throttling responses.
func NewRateLimitMatcher() HTTPStatusMatcher {
	return HTTPStatusMatcher{Statuses: RateLimitStatuses}
}

// CompositeMode selects how CompositeMatcher combines its children.
type CompositeMode string

const (
	CompositeAll CompositeMode = "all"
	CompositeAny CompositeMode = "any"
)

// CompositeMatcher combines child matchers with all/any semantics.
type CompositeMatcher struct {
	Mode     CompositeMode
	Matchers []Matcher
}

func (m CompositeMatcher) Matches(err error) bool {
	if err == nil || len(m.Matchers) == 0 {
		return false
	}
	if m.Mode == CompositeAny {
		for _, c := range m.Matchers {
			if c.Matches(err) {
				return true
			}
		}
		return false
	}
	for _, c := range m.Matchers {
		if !c.Matches(err) {
			return false
		}
	}
	return true
}

// NonFatal wraps a matcher so that fatal errors are never retried.
func NonFatal(inner Matcher) Matcher {
	return MatcherFunc(func(err error) bool {
		if schema.IsFatal(err) {
			return false
		}
		return inner.Matches(err)
	})
}

type httpStatuser interface {
	HTTPStatus() int
}

type statusCoder interface {
	StatusCode() int
}

// HTTPStatus returns the first non-zero HTTP status found in err's chain, or 0.
func HTTPStatus(err error) int {
	status := 0
	var visit func(error)
	visit = func(e error) {
		if e == nil || status != 0 {
			return
		}
		switch v := e.(type) {
		case httpStatuser:
			status = v.HTTPStatus()
		case statusCoder:
			status = v.StatusCode()
		}
		if status != 0 {
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			visit(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				visit(inner)
			}
		}
	}
	visit(err)
	return status
}
