// internal/utils/pagination.go
package utils

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SortFields is the column allowlist of one listing. The first field is the
// default sort.
type SortFields []string

var (
	TransactionSortFields = SortFields{"created_at", "amount", "status"}
	LedgerEntrySortFields = SortFields{"created_at", "amount"}
)

func (f SortFields) resolve(field string) string {
	for _, allowed := range f {
		if allowed == field {
			return field
		}
	}
	if len(f) == 0 {
		return "created_at"
	}
	return f[0]
}

type PaginationParams struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Sort  string `json:"sort"`
	Order string `json:"order"`
	// Status keeps only rows in this transaction or ledger entry status.
	Status string `json:"status,omitempty"`
}

// Offset is the number of rows skipped before the current page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// GetPaginationParams reads page, limit, sort, order and status from the
// query string. Sort falls back to the first allowed field.
func GetPaginationParams(c *gin.Context, fields SortFields) PaginationParams {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	order := c.DefaultQuery("order", "desc")

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if order != "asc" && order != "desc" {
		order = "desc"
	}

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Sort:   fields.resolve(c.Query("sort")),
		Order:  order,
		Status: c.Query("status"),
	}
}

// FilterStatus narrows a query by params.Status; apply it before counting.
func FilterStatus(db *gorm.DB, params PaginationParams) *gorm.DB {
	if params.Status == "" {
		return db
	}
	return db.Where("status = ?", params.Status)
}

// ApplyPage orders and limits a query. The sort column is checked against
// fields again so params built outside GetPaginationParams stay safe.
func ApplyPage(db *gorm.DB, params PaginationParams, fields SortFields) *gorm.DB {
	order := "desc"
	if params.Order == "asc" {
		order = "asc"
	}
	return db.Order(fields.resolve(params.Sort) + " " + order).
		Offset(params.Offset()).
		Limit(params.Limit)
}

func CreatePaginationResult(data interface{}, total int64, params PaginationParams) PaginationResult {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(params.Limit)))
	}

	return PaginationResult{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
		Data:       data,
	}
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.Header("X-Page", strconv.Itoa(result.Page))
	c.Header("X-Per-Page", strconv.Itoa(result.Limit))
	c.Header("X-Total-Pages", strconv.Itoa(result.TotalPages))
}
