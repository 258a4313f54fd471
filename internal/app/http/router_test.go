package transport

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

var contractHTTPMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

var publishedOperations = []string{
	"GET /healthz",
	"GET /version",
	"POST /api/v1/agent/interact",
	"GET /api/v1/agent/ws/{}",
	"GET /api/v1/agent/sessions/{}",
	"DELETE /api/v1/agent/sessions/{}",
	"GET /api/v1/agent/operations",
	"POST /api/v1/batch/trigger-payroll-processing",
	"GET /api/v1/batch/state",
}

func TestRuntimeRoutesMatchPublishedOperations(t *testing.T) {
	t.Parallel()

	runtimeOps := collectRuntimeOperations(t)
	published := map[string]map[string]struct{}{}
	for _, entry := range publishedOperations {
		method, path, _ := strings.Cut(entry, " ")
		addOperation(published, normalizePathPattern(path), method)
	}

	missingInTable := diffOperations(runtimeOps, published)
	missingInRuntime := diffOperations(published, runtimeOps)
	if len(missingInTable) == 0 && len(missingInRuntime) == 0 {
		return
	}
	lines := []string{"runtime routes and published operations are out of sync"}
	for _, op := range missingInTable {
		lines = append(lines, "- unpublished: "+op)
	}
	for _, op := range missingInRuntime {
		lines = append(lines, "- not routed: "+op)
	}
	t.Fatal(strings.Join(lines, "\n"))
}

func TestAPIRoutesRequireKeyButHealthzDoesNot(t *testing.T) {
	t.Parallel()
	router := NewRouter("secret", newNoOpHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/operations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("operations without key status=%d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent/operations", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("operations with key status=%d", rec.Code)
	}
}

func TestPreflightIsAnsweredByCORS(t *testing.T) {
	t.Parallel()
	router := NewRouter("secret", newNoOpHandlers())
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agent/interact", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-API-Key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code >= http.StatusMultipleChoices {
		t.Fatalf("preflight status=%d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Fatalf("preflight does not allow POST: %v", rec.Header())
	}
}

func TestCORSHeadersOnPublicRoutes(t *testing.T) {
	t.Parallel()
	router := NewRouter("secret", newNoOpHandlers())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS header: %v", rec.Header())
	}
}

func TestNewRouterPanicsOnMissingHandler(t *testing.T) {
	t.Parallel()
	handlers := newNoOpHandlers()
	handlers.Batch.GetState = nil

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic for unconfigured handler")
		}
		if !strings.Contains(rec.(string), "get-batch-state") {
			t.Fatalf("unexpected panic: %v", rec)
		}
	}()
	NewRouter("", handlers)
}

func collectRuntimeOperations(t *testing.T) map[string]map[string]struct{} {
	t.Helper()

	router := NewRouter("test-api-key", newNoOpHandlers())
	routes, ok := router.(chi.Routes)
	if !ok {
		t.Fatalf("router does not implement chi.Routes: %T", router)
	}

	ops := map[string]map[string]struct{}{}
	if err := chi.Walk(routes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(strings.TrimSpace(method))
		if !isContractHTTPMethod(method) {
			return nil
		}
		addOperation(ops, normalizePathPattern(route), method)
		return nil
	}); err != nil {
		t.Fatalf("walk runtime routes failed: %v", err)
	}
	return ops
}

func newNoOpHandlers() Handlers {
	handlers := Handlers{}
	fillNoOpHandlerFuncs(reflect.ValueOf(&handlers).Elem())
	return handlers
}

func fillNoOpHandlerFuncs(value reflect.Value) {
	if !value.IsValid() {
		return
	}
	switch value.Kind() {
	case reflect.Struct:
		for i := 0; i < value.NumField(); i++ {
			fillNoOpHandlerFuncs(value.Field(i))
		}
	case reflect.Func:
		if value.CanSet() && value.Type() == reflect.TypeOf(http.HandlerFunc(nil)) {
			value.Set(reflect.ValueOf(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))
		}
	}
}

func isContractHTTPMethod(method string) bool {
	_, ok := contractHTTPMethods[method]
	return ok
}

func addOperation(ops map[string]map[string]struct{}, path string, method string) {
	methods, ok := ops[path]
	if !ok {
		methods = map[string]struct{}{}
		ops[path] = methods
	}
	methods[method] = struct{}{}
}

func diffOperations(left map[string]map[string]struct{}, right map[string]map[string]struct{}) []string {
	diff := make([]string, 0)
	for path, methods := range left {
		for method := range methods {
			if _, ok := right[path][method]; !ok {
				diff = append(diff, method+" "+path)
			}
		}
	}
	sort.Strings(diff)
	return diff
}

// normalizePathPattern replaces every {param} segment with {} and drops a
// trailing slash so that parameter names do not matter.
func normalizePathPattern(path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segments[i] = "{}"
		}
	}
	return strings.Join(segments, "/")
}
