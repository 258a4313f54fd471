package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/service/ports"
)

func mustOp(t *testing.T, id string) catalog.OperationSpec {
	t.Helper()
	op, ok := catalog.Default().Find(id)
	require.True(t, ok, id)
	return op
}

func TestExecuteMutatingPostsJSON(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"success":true,"message":"Operation successful","data":{"transaction":{"nonce":7},"message":"Transaction built successfully"},"error":null}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL+"/", 0, nil)
	result, err := exec.Execute(context.Background(), mustOp(t, "/funds"), map[string]domain.Value{
		"amount":           domain.IntegerValue(1000),
		"employer_address": domain.AddressValue("0x123"),
		"contract_index":   domain.IntegerValue(0),
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/payroll/funds", gotPath)
	assert.Equal(t, map[string]interface{}{"amount": float64(1000), "employer_address": "0x123", "contract_index": float64(0)}, gotBody)
	assert.Equal(t, true, result["success"])
	data, ok := result["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "transaction")
}

func TestExecuteReadOnlyUsesQuery(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{"success":true,"message":"Operation successful","data":{"balance":1500},"error":null}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, 0, nil)
	result, err := exec.Execute(context.Background(), mustOp(t, "/balance"), map[string]domain.Value{
		"employer_address": domain.AddressValue("0x123"),
		"contract_index":   domain.IntegerValue(2),
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "/api/v1/payroll/balance", gotPath)
	assert.Equal(t, "contract_index=2&employer_address=0x123", gotQuery)
	assert.Equal(t, map[string]interface{}{"balance": float64(1500)}, result["data"])
}

func TestExecuteSurfacesUpstreamErrorsVerbatim(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"success false":  {http.StatusOK, `{"success":false,"message":"Operation failed","data":null,"error":"execution reverted: insufficient balance"}`, "execution reverted: insufficient balance"},
		"data error":     {http.StatusOK, `{"success":true,"message":"Operation successful","data":{"error":"Invalid contract index. Max index is 0"},"error":null}`, "Invalid contract index. Max index is 0"},
		"http detail":    {http.StatusBadRequest, `{"detail":"Unsupported API route"}`, "Unsupported API route"},
		"bare status":    {http.StatusInternalServerError, `oops`, "payroll api returned status 500"},
		"failed no text": {http.StatusOK, `{"success":false,"message":"Operation failed","data":null,"error":null}`, "Operation failed"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPExecutor(srv.URL, 0, nil).Execute(context.Background(), mustOp(t, "/liability"), map[string]domain.Value{
				"employer_address": domain.AddressValue("0x1"),
				"contract_index":   domain.IntegerValue(0),
			})
			var execErr *ExecutorError
			require.True(t, errors.As(err, &execErr), "got %v", err)
			assert.Equal(t, tc.want, err.Error())
			assert.Equal(t, "/liability", execErr.Route)
		})
	}
}

func TestExecuteUnreachableAPI(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPExecutor(url, 0, nil).Execute(context.Background(), mustOp(t, "/payroll-contracts"), map[string]domain.Value{
		"employer_address": domain.AddressValue("0x1"),
	})
	var execErr *ExecutorError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Message, "payroll api unreachable")
}

func TestListEmployerContractsIndexesRepeatedEmployers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payroll/payroll-contracts/all", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"employers":["0xA","0xB","0xa"],"contracts":["0x1","0x2","0x3"]},"error":null}`))
	}))
	defer srv.Close()

	got, err := NewHTTPExecutor(srv.URL, 0, nil).ListEmployerContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ports.EmployerContract{
		{EmployerAddress: "0xA", ContractIndex: 0},
		{EmployerAddress: "0xB", ContractIndex: 0},
		{EmployerAddress: "0xa", ContractIndex: 1},
	}, got)
}

func TestDryRunEchoesRequest(t *testing.T) {
	d := NewDryRunExecutor()
	result, err := d.Execute(context.Background(), mustOp(t, "/payroll-contracts"), map[string]domain.Value{
		"employer_address": domain.AddressValue("0x123"),
	})
	require.NoError(t, err)
	data := result["data"].(map[string]interface{})
	assert.Equal(t, "/payroll-contracts", data["api_route"])
	assert.Equal(t, http.MethodPost, data["method"])
	assert.Contains(t, data, "transaction")

	contracts, err := d.ListEmployerContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ports.EmployerContract{{EmployerAddress: "0x123"}}, contracts)

	result, err = d.Execute(context.Background(), mustOp(t, "/balance"), map[string]domain.Value{
		"employer_address": domain.AddressValue("0x123"),
		"contract_index":   domain.IntegerValue(0),
	})
	require.NoError(t, err)
	data = result["data"].(map[string]interface{})
	assert.Equal(t, http.MethodGet, data["method"])
	assert.NotContains(t, data, "transaction")
}

func TestHTTPSignerRelaysTransaction(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"tx_hash":"0xfeed"}`))
	}))
	defer srv.Close()

	signer, err := NewHTTPSigner(srv.URL, "0xoperator", 0)
	require.NoError(t, err)
	hash, err := signer.SignAndSend(context.Background(), map[string]interface{}{"nonce": 3})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)
	assert.Equal(t, "0xoperator", got["from"])
	assert.Equal(t, map[string]interface{}{"nonce": float64(3)}, got["transaction"])
}

func TestHTTPSignerReportsRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"nonce too low"}`))
	}))
	defer srv.Close()

	signer, err := NewHTTPSigner(srv.URL, "", 0)
	require.NoError(t, err)
	_, err = signer.SignAndSend(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, "nonce too low", err.Error())

	_, err = NewHTTPSigner(" ", "", 0)
	assert.Error(t, err)
}
