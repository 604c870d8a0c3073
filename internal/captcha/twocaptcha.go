package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const notReady = "CAPCHA_NOT_READY"

var (
	errSubmit  = errors.New("2captcha: submit rejected")
	errTimeout = errors.New("2captcha: result not ready in time")
)

// envelope in.php / res.php 在 json=1 时统一返回 {status, request}。
type envelope struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

type twoCaptcha struct {
	http *resty.Client
}

func newTwoCaptcha(baseURL string) *twoCaptcha {
	return &twoCaptcha{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30 * time.Second),
	}
}

func (t *twoCaptcha) submit(ctx context.Context, apiKey, sitekey, pageURL string) (string, error) {
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":       apiKey,
			"method":    "userrecaptcha",
			"googlekey": sitekey,
			"pageurl":   pageURL,
			"json":      "1",
		}).
		Post("/in.php")
	if err != nil {
		return "", err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", fmt.Errorf("2captcha: decode submit: %w", err)
	}
	if env.Status != 1 || env.Request == "" {
		return "", fmt.Errorf("%w: %s", errSubmit, env.Request)
	}
	return env.Request, nil
}

// poll 返回 ("", nil) 表示还没出结果。
func (t *twoCaptcha) poll(ctx context.Context, apiKey, id string) (string, error) {
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    apiKey,
			"action": "get",
			"id":     id,
			"json":   "1",
		}).
		Get("/res.php")
	if err != nil {
		return "", err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", fmt.Errorf("2captcha: decode result: %w", err)
	}
	if env.Status == 1 {
		return env.Request, nil
	}
	if env.Request == notReady {
		return "", nil
	}
	return "", fmt.Errorf("2captcha: %s", env.Request)
}
