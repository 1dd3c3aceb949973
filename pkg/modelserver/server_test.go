package modelserver

import (
	"bytes"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func doRequest(t *testing.T, s *Server, method, path, body string) (int, string) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	data, _ := ioutil.ReadAll(rec.Body)
	return rec.Code, string(data)
}

func TestServerRoutes(t *testing.T) {
	dir := thresholdDir(t)
	defer os.RemoveAll(dir)

	m := NewCustomModel("fraud-model", dir, threshold)
	s := NewServer(m)

	code, _ := doRequest(t, s, http.MethodGet, "/", "")
	Assert(http.StatusOK, code, t)

	code, body := doRequest(t, s, http.MethodGet, "/v1/models", "")
	Assert(http.StatusOK, code, t)
	Assert(`{"models":["fraud-model"]}`, strings.TrimSpace(body), t)

	code, body = doRequest(t, s, http.MethodGet, "/v1/models/fraud-model", "")
	Assert(http.StatusServiceUnavailable, code, t)
	Assert(true, strings.Contains(body, `"reason":"NotReady"`), t)

	code, _ = doRequest(t, s, http.MethodPost, "/v1/models/fraud-model:predict", `{"instances": [0.9]}`)
	Assert(http.StatusServiceUnavailable, code, t)

	Assert(true, m.Load(), t)

	code, body = doRequest(t, s, http.MethodGet, "/v1/models/fraud-model", "")
	Assert(http.StatusOK, code, t)
	Assert(`{"name":"fraud-model","ready":true}`, strings.TrimSpace(body), t)

	code, body = doRequest(t, s, http.MethodPost, "/v1/models/fraud-model:predict", `{"instances": [0.9, 0.1]}`)
	Assert(http.StatusOK, code, t)
	Assert(`{"predictions":[true,false]}`, strings.TrimSpace(body), t)

	code, _ = doRequest(t, s, http.MethodPost, "/v1/models/other:predict", `{}`)
	Assert(http.StatusNotFound, code, t)

	code, _ = doRequest(t, s, http.MethodPost, "/v1/models/fraud-model:explain", `{}`)
	Assert(http.StatusNotFound, code, t)

	code, _ = doRequest(t, s, http.MethodPost, "/v1/models/fraud-model:predict", `{"instances": [`)
	Assert(http.StatusBadRequest, code, t)

	code, body = doRequest(t, s, http.MethodGet, "/metrics", "")
	Assert(http.StatusOK, code, t)
	Assert(true, strings.Contains(body, `model_server_predictions_total{model="fraud-model",outcome="success"} 1`), t)
	Assert(true, strings.Contains(body, `model_server_predictions_total{model="fraud-model",outcome="NotReady"} 1`), t)
	Assert(true, strings.Contains(body, `model_server_model_ready{model="fraud-model"} 1`), t)
	Assert(true, strings.Contains(body, "model_server_build_info"), t)
}

func TestServerPredictionError(t *testing.T) {
	dir := thresholdDir(t)
	defer os.RemoveAll(dir)

	m, err := NewCustomModelByName("m", dir, "test.fails")
	Assert(nil, err, t)
	Assert(true, m.Load(), t)
	s := NewServer(m)

	code, body := doRequest(t, s, http.MethodPost, "/v1/models/m:predict", `{"instances": []}`)
	Assert(http.StatusInternalServerError, code, t)
	Assert(true, strings.Contains(body, "Failed to predict: boom"), t)
	Assert(true, strings.Contains(body, `"status_code":500`), t)
}
