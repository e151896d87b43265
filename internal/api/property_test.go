package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/testutil"
)

func TestAPIProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	router := setupTestRouter(t)
	known := make(map[chaos.Kind]bool)
	for _, k := range testExecutor(t).Kinds() {
		known[k] = true
	}

	properties.Property("unregistered kinds are rejected as UnknownAction", prop.ForAll(
		func(kind string) bool {
			if known[chaos.Kind(kind)] {
				return true
			}
			w := do(t, router, http.MethodPost, "/api/v1/actions", SubmitRequest{Kind: chaos.Kind(kind)})
			if w.Code != http.StatusBadRequest {
				return false
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				return false
			}
			return resp.Reason == string(chaos.CodeUnknownAction)
		},
		gen.Identifier(),
	))

	properties.Property("unknown run ids are not found", prop.ForAll(
		func(id string) bool {
			w := do(t, router, http.MethodGet, "/api/v1/actions/"+id, nil)
			return w.Code == http.StatusNotFound
		},
		gen.Identifier(),
	))

	properties.Property("list honours the limit", prop.ForAll(
		func(submitted, limit int) bool {
			r := setupTestRouter(t)
			for i := 0; i < submitted; i++ {
				resp := submit(t, r, SubmitRequest{Kind: chaos.KindResolvePartition, Params: map[string]interface{}{
					"selector": map[string]interface{}{"service_name": testutil.DemoStore},
				}})
				awaitState(t, r, resp.ID)
			}

			w := do(t, r, http.MethodGet, fmt.Sprintf("/api/v1/actions?limit=%d", limit), nil)
			var list ListResponse
			if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
				return false
			}
			want := submitted
			if limit > 0 && limit < submitted {
				want = limit
			}
			return list.Count == want && len(list.Runs) == want
		},
		gen.IntRange(0, 4),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
