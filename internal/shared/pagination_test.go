package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 0, TotalPages: 0}, NewPagination(0, 0, 0))
	require.Equal(t, Pagination{Page: 3, PerPage: 200, Total: 401, TotalPages: 3}, NewPagination(3, 1000, 401))
	require.Equal(t, 40, NewPagination(3, 20, 100).Offset())
}

func TestPaginationFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/queues/fresh?page=2&per_page=5", nil)
	p := PaginationFromRequest(req)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 5, p.PerPage)
	require.Equal(t, 5, p.Offset())

	p = PaginationFromRequest(httptest.NewRequest("GET", "/queues/fresh?page=abc", nil))
	require.Equal(t, 1, p.Page)
}
