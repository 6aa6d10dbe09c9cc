package validation

import "math"

// Result is the uniform success/failure envelope returned by every facade
// operation. Expected business failures travel in Err; nothing panics.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Err     *Error `json:"error,omitempty"`
}

// OK wraps a successful payload.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps a failure, coercing untyped errors into OperationFailed.
func Fail[T any](err error) Result[T] {
	return Result[T]{Success: false, Err: AsError(err)}
}

// Unwrap returns the payload and the typed failure as a plain error.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		return r.Data, r.Err
	}
	return r.Data, nil
}

// PageRequest carries pagination options for list-returning calls.
type PageRequest struct {
	Page          int    `json:"page"`
	Limit         int    `json:"limit"`
	SortBy        string `json:"sortBy,omitempty"`
	SortDirection string `json:"sortDirection,omitempty"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalize clamps the request to page >= 1 and limit in [1,100], applying
// the default limit when unset.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// Page is the pagination envelope for every list-returning call.
type Page[T any] struct {
	Items     []T `json:"items"`
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// PageOf slices items according to the request and fills the envelope.
func PageOf[T any](items []T, req PageRequest) Page[T] {
	req = req.Normalize()
	total := len(items)
	pageCount := int(math.Ceil(float64(total) / float64(req.Limit)))

	start := (req.Page - 1) * req.Limit
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}

	page := make([]T, end-start)
	copy(page, items[start:end])
	return Page[T]{
		Items:     page,
		Total:     total,
		Page:      req.Page,
		PageCount: pageCount,
	}
}
