package hostapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/pkg/retrylimit"
)

// maxBody caps how much of a response is handed to a script.
const maxBody = 4 << 20

type HTTPConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
}

// HTTP is the "network" accessor. Get and Post never throw into the script:
// failures come back as a string starting with "Error: ".
type HTTP struct {
	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
	retry   retrylimit.RetryConfig
	agent   string
	logger  *log.Logger
}

func NewHTTP(cfg HTTPConfig, logger *log.Logger) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mycelium-bot"
	}
	if logger == nil {
		logger = log.Default()
	}
	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxAttempts
	retry.InitialDelay = 250 * time.Millisecond
	retry.MaxDelay = 2 * time.Second
	retry.Logger = logger

	return &HTTP{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
		retry:   retry,
		agent:   cfg.UserAgent,
		logger:  logger,
	}
}

// Get fetches url and returns the body.
func (h *HTTP) Get(url string) string {
	return h.do(http.MethodGet, url, "")
}

// Post sends body as JSON to url and returns the response body.
func (h *HTTP) Post(url, body string) string {
	return h.do(http.MethodPost, url, body)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string   { return fmt.Sprintf("%d", e.code) }
func (e *statusError) StatusCode() int { return e.code }

func (h *HTTP) do(method, url, body string) string {
	var out []byte
	err := retrylimit.Do(context.Background(), h.retry, h.limiter, func(ctx context.Context) error {
		var rd io.Reader
		if method == http.MethodPost {
			rd = bytes.NewBufferString(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return &retrylimit.FatalError{Err: err}
		}
		req.Header.Set("User-Agent", h.agent)
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &statusError{code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return &retrylimit.FatalError{Err: serr}
		}
		out, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
		return err
	})
	if err != nil {
		h.logger.Warn("script http request failed", "method", method, "url", url, "err", err)
		return "Error: " + errorText(err)
	}
	return string(out)
}

// errorText is the status code for HTTP failures, the error message otherwise.
func errorText(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return se.Error()
	}
	return err.Error()
}
