package trust

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Registry) {
	t.Helper()
	reg := newTestRegistry(t, nil)
	h := NewHandler(reg)

	r := gin.New()
	v1 := r.Group("/v1")
	users := v1.Group("/users/:userId")
	h.RegisterRoutes(v1, users)
	h.RegisterAdminRoutes(v1, users)
	return r, reg
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_VerificationFlow(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/users/u1/verifications", gin.H{"type": "wallet"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "base_verification_required")

	w = doJSON(r, http.MethodPost, "/v1/users/u1/verifications", gin.H{"type": "contract"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/users/u1/verifications", gin.H{"type": "wallet"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/users/u1/trust", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var score Score
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &score))
	assert.Equal(t, 150, score.Total)
	assert.Equal(t, TierNewUser, score.Tier)

	w = doJSON(r, http.MethodGet, "/v1/users/u1/verifications?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_BadType(t *testing.T) {
	r, _ := setupRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/users/u1/verifications", gin.H{"type": "fax"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestHandler_ProofAndReport(t *testing.T) {
	r, reg := setupRouter(t)
	verify(t, reg, "rep", VerificationContract, VerificationWallet, VerificationStakeAccount)

	w := doJSON(r, http.MethodPost, "/v1/users/rep/proofs", gin.H{"type": "limit_adherence", "evidenceRefs": []string{"screenshot"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/v1/reports", ReportRequest{ReporterID: "rep", TargetID: "bad", EvidenceLevel: 3, Description: "scam"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Report ScamReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, ReportConfirmed, out.Report.Status)

	w = doJSON(r, http.MethodGet, "/v1/reports/"+out.Report.ReportID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/reports/rpt_nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/reports/"+out.Report.ReportID+"/review", ReviewRequest{Status: ReportDismissed, Reviewer: "mod"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/users/bad/reports", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), out.Report.ReportID)
}

func TestHandler_Deactivate(t *testing.T) {
	r, reg := setupRouter(t)
	verify(t, reg, "u1", VerificationContract)

	w := doJSON(r, http.MethodDelete, "/v1/users/u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/users/u1/record", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)
}

func TestHandler_InvalidBody(t *testing.T) {
	r, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
