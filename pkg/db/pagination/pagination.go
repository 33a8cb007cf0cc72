package pagination

import "errors"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps Offset well inside int range.
	MaxPage = 100000
)

var (
	ErrInvalidPage     = errors.New("invalid_page")
	ErrInvalidPageSize = errors.New("invalid_page_size")
)

// Pagination is a 1-based page request bound from query parameters.
type Pagination struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

func (p Pagination) Validate() error {
	if p.Page < 1 || p.Page > MaxPage {
		return ErrInvalidPage
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return ErrInvalidPageSize
	}
	return nil
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) Limit() int {
	return p.PageSize
}

type PageInfo struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	HasMore  bool  `json:"has_more"`
}

func BuildPageInfo(p Pagination, total int64) PageInfo {
	return PageInfo{
		Total:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  int64(p.Offset()+p.PageSize) < total,
	}
}
