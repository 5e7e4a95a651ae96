package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func paginationContext(query string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/payments/history?"+query, nil)
	return c
}

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		fields SortFields
		want   PaginationParams
	}{
		{"defaults", "", TransactionSortFields, PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}},
		{"allowed sort and status", "page=3&limit=50&sort=amount&order=asc&status=refunded", TransactionSortFields, PaginationParams{Page: 3, Limit: 50, Sort: "amount", Order: "asc", Status: "refunded"}},
		{"sort outside allowlist", "sort=status", LedgerEntrySortFields, PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}},
		{"injection attempt", "sort=amount%3Bdrop+table+wallets&order=sideways", TransactionSortFields, PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}},
		{"limit out of range", "page=-2&limit=500", TransactionSortFields, PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetPaginationParams(paginationContext(tt.query), tt.fields))
		})
	}
}

func TestCreatePaginationResult(t *testing.T) {
	params := PaginationParams{Page: 2, Limit: 4}
	assert.Equal(t, 4, params.Offset())

	result := CreatePaginationResult([]int{1, 2}, 6, params)
	assert.Equal(t, 2, result.TotalPages)
	assert.EqualValues(t, 6, result.Total)

	assert.Zero(t, CreatePaginationResult(nil, 6, PaginationParams{Page: 1}).TotalPages)
}

func TestPaginatedResponseSetsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	PaginatedResponse(c, CreatePaginationResult([]string{"a"}, 41, PaginationParams{Page: 1, Limit: 20}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "41", w.Header().Get("X-Total-Count"))
	assert.Equal(t, "3", w.Header().Get("X-Total-Pages"))
}
