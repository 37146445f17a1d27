package transactionshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/transactions"
)

type stubService struct {
	Service

	lastFilters transactions.Filters
	lastUpdate  transactions.UpdateInput
	rows        []transactions.Transaction
	total       int
	err         error
}

func (s *stubService) List(ctx context.Context, f transactions.Filters) ([]transactions.Transaction, int, transactions.Filters, error) {
	s.lastFilters = f
	return s.rows, s.total, f, s.err
}

func (s *stubService) Export(ctx context.Context, f transactions.Filters) ([]transactions.Transaction, error) {
	s.lastFilters = f
	return s.rows, s.err
}

func (s *stubService) Update(ctx context.Context, id int64, in transactions.UpdateInput) (transactions.Transaction, error) {
	s.lastUpdate = in
	return transactions.Transaction{ID: id}, s.err
}

func (s *stubService) Delete(ctx context.Context, id int64) error {
	return s.err
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", NewHandler(nil, svc, nil).MountRoutes)
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestListParsesFiltersAndPaginates(t *testing.T) {
	svc := &stubService{rows: []transactions.Transaction{}, total: 45}
	req := httptest.NewRequest(http.MethodGet,
		"/api/transactions?page=3&limit=20&status=success&currency=usd&minAmount=1.5&startDate=2024-01-01&sortBy=amount&sortOrder=asc", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 3, env.Pagination.TotalPages)
	assert.False(t, env.Pagination.HasNext)
	assert.True(t, env.Pagination.HasPrev)

	f := svc.lastFilters
	assert.Equal(t, "success", f.Status)
	assert.Equal(t, "usd", f.Currency)
	require.NotNil(t, f.MinAmount)
	assert.Equal(t, 1.5, *f.MinAmount)
	assert.Nil(t, f.MaxAmount)
	require.NotNil(t, f.StartDate)
	assert.Equal(t, "amount", f.SortBy)
	assert.Equal(t, "asc", f.SortDir)
}

func TestListRejectsMalformedParams(t *testing.T) {
	svc := &stubService{}
	for _, q := range []string{"minAmount=abc", "startDate=01-02-2024", "page=x"} {
		rec := httptest.NewRecorder()
		newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.False(t, decode(t, rec).Success, q)
	}
}

func TestUpdateAndDeleteMapErrors(t *testing.T) {
	svc := &stubService{}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/transactions/4",
		strings.NewReader(`{"status":"refunded"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastUpdate.Status)
	assert.Equal(t, "refunded", *svc.lastUpdate.Status)

	svc.err = httpx.NotFound("transaction 4 not found")
	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/transactions/4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "transaction 4 not found", decode(t, rec).Message)

	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/transactions/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid id", decode(t, rec).Message)
}

func TestInfrastructureFailureCarriesCause(t *testing.T) {
	svc := &stubService{err: errors.New("connection refused")}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "failed to list transactions", env.Message)
	assert.Equal(t, "connection refused", env.Error)
}

func TestExportWritesCSVAttachment(t *testing.T) {
	svc := &stubService{rows: []transactions.Transaction{{ID: 1, TransactionID: "tx-1", Amount: 10, Currency: "USD"}}}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions/export?format=csv&status=failed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "transactions_")
	assert.Contains(t, rec.Body.String(), "tx-1")
	assert.Equal(t, "failed", svc.lastFilters.Status)

	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions/export?format=doc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
