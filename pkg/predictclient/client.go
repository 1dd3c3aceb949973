package predictclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kuberlab/kserve-deployer/pkg/errors"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks the KServe V1 protocol to a model server, possibly through an
// ingress gateway that routes by Host header.
type Client struct {
	Client    *http.Client
	BaseURL   *url.URL
	UserAgent string

	opts *Options
}

type Options struct {
	// Host overrides the Host header, as needed behind an ingress.
	Host     string
	Insecure bool
	Timeout  time.Duration
}

func NewClient(baseURL string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid model server URL %q", baseURL)
	}
	base.Path = ""

	// Clone default transport
	var transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if base.Scheme == "https" && opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.Insecure}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Client{
		BaseURL:   base,
		Client:    &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "go-predictclient/1",
		opts:      opts,
	}, nil
}

// NewClientForURL creates a client for the server of a prediction URL as
// returned by a deployed service.
func NewClientForURL(predictionURL string, opts *Options) (*Client, string, error) {
	u, err := url.Parse(predictionURL)
	if err != nil {
		return nil, "", err
	}
	model := strings.TrimSuffix(u.Path[strings.LastIndex(u.Path, "/")+1:], ":predict")
	if model == "" {
		return nil, "", fmt.Errorf("no model name in %q", predictionURL)
	}
	c, err := NewClient(fmt.Sprintf("%v://%v", u.Scheme, u.Host), opts)
	return c, model, err
}

func (c *Client) NewRequest(ctx context.Context, method, urlStr string, body interface{}) (*http.Request, error) {
	u := c.BaseURL.String() + urlStr

	var reqBody io.Reader
	if body != nil {
		rd, ok := body.(io.Reader)
		if ok {
			// plain io.Reader
			reqBody = rd
		} else {
			// As JSON
			buf := new(bytes.Buffer)
			err := json.NewEncoder(buf).Encode(body)
			if err != nil {
				return nil, err
			}
			reqBody = buf
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if c.opts.Host != "" {
		req.Host = c.opts.Host
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return req, nil
}

// Do sends an API request and returns the API response.  The API response is
// JSON decoded and stored in the value pointed to by v, or returned as an
// error if an API error has occurred.  If v implements the io.Writer
// interface, the raw response body will be written to v, without attempting to
// first decode it.
func (c *Client) Do(req *http.Request, v interface{}) (*http.Response, error) {
	logrus.Debugf("[go-predictclient] %v %v (host %v)", req.Method, req.URL.String(), req.Host)
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.New(err.Error())
	}

	defer func() {
		// Drain up to 512 bytes and close the body to let the Transport reuse the connection
		_, _ = io.CopyN(ioutil.Discard, resp.Body, 512)
		_ = resp.Body.Close()
	}()

	if resp, err = checkResponse(resp); err != nil {
		return resp, err
	}
	if v != nil {
		if w, ok := v.(io.Writer); ok {
			_, _ = io.Copy(w, resp.Body)
		} else {
			err = json.NewDecoder(resp.Body).Decode(v)
			if err == io.EOF {
				err = nil // ignore EOF errors caused by empty response body
			}
		}
	}

	return resp, err
}

type serverError struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code"`
}

func checkResponse(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode < 400 {
		return resp, nil
	}
	messageBytes, _ := ioutil.ReadAll(resp.Body)
	e := &serverError{}
	if err := json.Unmarshal(messageBytes, e); err != nil || e.Error == "" {
		message := strconv.Itoa(resp.StatusCode) + ": " + string(messageBytes)
		return resp, errors.NewStatus(resp.StatusCode, message)
	}
	return resp, errors.NewStatusReason(resp.StatusCode, e.Error, e.Reason)
}
