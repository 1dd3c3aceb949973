package modelserver

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const predictVerb = ":predict"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"status_code"`
}

type ModelStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

type ModelList struct {
	Models []string `json:"models"`
}

// Server exposes models over the KServe V1 inference protocol.
type Server struct {
	echo    *echo.Echo
	models  map[string]*CustomModel
	metrics *Metrics
}

func NewServer(models ...*CustomModel) *Server {
	s := &Server{
		echo:    echo.New(),
		models:  make(map[string]*CustomModel, len(models)),
		metrics: NewMetrics(),
	}
	for _, m := range models {
		s.models[m.Name] = m
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = JSONSerializer{}
	e.HTTPErrorHandler = errorHandler
	e.Use(logHandler)

	e.GET("/", s.live)
	e.GET("/v1/models", s.list)
	e.GET("/v1/models/:model", s.modelReady)
	e.POST("/v1/models/:model", s.predict)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	s.updateReadiness()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	logrus.Infof("Model server listening on %v", addr)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) updateReadiness() {
	for name, m := range s.models {
		v := 0.0
		if m.Ready() {
			v = 1
		}
		s.metrics.ModelReady.WithLabelValues(name).Set(v)
	}
}

func (s *Server) model(name string) (*CustomModel, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("Model with name %v does not exist.", name))
	}
	return m, nil
}

func (s *Server) live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) list(c echo.Context) error {
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(http.StatusOK, ModelList{Models: names})
}

func (s *Server) modelReady(c echo.Context) error {
	m, err := s.model(c.Param("model"))
	if err != nil {
		return err
	}
	s.updateReadiness()
	if !m.Ready() {
		return errors.NotReady(fmt.Sprintf("Model with name %v is not ready.", m.Name))
	}
	return c.JSON(http.StatusOK, ModelStatus{Name: m.Name, Ready: true})
}

func (s *Server) predict(c echo.Context) error {
	param := c.Param("model")
	if !strings.HasSuffix(param, predictVerb) {
		return errors.NotFound(fmt.Sprintf("Unknown model operation %v", param))
	}
	m, err := s.model(strings.TrimSuffix(param, predictVerb))
	if err != nil {
		return err
	}

	request := map[string]interface{}{}
	// Bind would mix path params into the map.
	if err := c.Echo().JSONSerializer.Deserialize(c, &request); err != nil {
		return errors.NewStatus(http.StatusBadRequest, fmt.Sprintf("Unrecognized request format: %v", err))
	}

	start := time.Now()
	res, err := m.Predict(c.Request().Context(), request)
	s.metrics.Latency.WithLabelValues(m.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if e, ok := errors.AsError(err); ok && e.Reason != "" {
			reason = string(e.Reason)
		}
		s.metrics.Predictions.WithLabelValues(m.Name, reason).Inc()
		return err
	}
	s.metrics.Predictions.WithLabelValues(m.Name, "success").Inc()
	return c.JSON(http.StatusOK, res)
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	resp := ErrorResponse{StatusCode: http.StatusInternalServerError, Error: err.Error()}
	if e, ok := errors.AsError(err); ok {
		resp.StatusCode = e.HttpStatus()
		resp.Reason = string(e.Reason)
	} else if he, ok := err.(*echo.HTTPError); ok {
		resp.StatusCode = he.Code
		resp.Error = fmt.Sprintf("%v", he.Message)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		logrus.Errorf("%v %v: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(resp.StatusCode)
	} else {
		err = c.JSON(resp.StatusCode, resp)
	}
	if err != nil {
		logrus.Errorf("Failed write error response: %v", err)
	}
}

func logHandler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		logrus.Debugf(
			"%v %v status=%v in %v",
			c.Request().Method, c.Request().URL.Path, c.Response().Status, time.Since(start),
		)
		return err
	}
}
