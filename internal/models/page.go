package models

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// Pagination selects one page of a listing. Pages count from 1.
type Pagination struct {
	Page     int
	PageSize int
}

// DefaultPagination returns the first page at the default size.
func DefaultPagination() Pagination {
	return Pagination{Page: 1, PageSize: defaultPageSize}
}

// Normalize clamps the page to at least 1 and the size to (0, 100].
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = defaultPageSize
	case p.PageSize > maxPageSize:
		p.PageSize = maxPageSize
	}
	return p
}

// Offset is the SQL offset of the page.
func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// Limit is the SQL limit of the page.
func (p Pagination) Limit() int {
	return p.Normalize().PageSize
}

// TotalPages is the number of pages holding total rows, at least 1.
func (p Pagination) TotalPages(total int) int {
	size := p.Normalize().PageSize
	return max(1, (total+size-1)/size)
}
