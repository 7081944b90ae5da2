package repository

// Diary log paging. Page 1 holds the newest entries.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 50
)

type PageRequest struct {
	Page     int
	PageSize int
}

// NormalizePageRequest clamps out-of-range values instead of rejecting them;
// a bad ?page= falls back to the first page.
func NormalizePageRequest(in PageRequest) PageRequest {
	out := PageRequest{Page: max(in.Page, DefaultPage), PageSize: in.PageSize}
	switch {
	case out.PageSize < 1:
		out.PageSize = DefaultPageSize
	case out.PageSize > MaxPageSize:
		out.PageSize = MaxPageSize
	}
	return out
}

// Offset is the number of rows to skip. Call on a normalized request.
func (r PageRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

type PageResult[T any] struct {
	Items      []T
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

func newPageResult[T any](items []T, req PageRequest, total int64) PageResult[T] {
	return PageResult[T]{
		Items:      items,
		Page:       req.Page,
		PageSize:   req.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, req.PageSize),
	}
}

// HasNewer reports whether a page of more recent entries exists.
func (p PageResult[T]) HasNewer() bool { return p.Page > 1 }

// HasOlder reports whether a page of earlier entries exists.
func (p PageResult[T]) HasOlder() bool { return p.Page < p.TotalPages }

func calcTotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
