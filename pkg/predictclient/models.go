package predictclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kuberlab/kserve-deployer/pkg/errors"
)

type ModelStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

func (c *Client) Predict(ctx context.Context, model string, request map[string]interface{}) (map[string]interface{}, error) {
	u := fmt.Sprintf("/v1/models/%v:predict", url.PathEscape(model))

	req, err := c.NewRequest(ctx, http.MethodPost, u, request)
	if err != nil {
		return nil, err
	}
	res := map[string]interface{}{}
	if _, err = c.Do(req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Ready reports whether the model is loaded. A not ready model is not an
// error.
func (c *Client) Ready(ctx context.Context, model string) (bool, error) {
	u := fmt.Sprintf("/v1/models/%v", url.PathEscape(model))

	req, err := c.NewRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	status := &ModelStatus{}
	_, err = c.Do(req, status)
	if errors.IsReason(err, errors.ReasonNotReady) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.Ready, nil
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	list := struct {
		Models []string `json:"models"`
	}{}
	if _, err = c.Do(req, &list); err != nil {
		return nil, err
	}
	return list.Models, nil
}
