package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"

	"copytrade/internal/metrics"
)

const (
	baseURL    = "https://api.bybit.com"
	apiVersion = "/v5"
	recvWindow = "5000"
)

// httpClient — подписанный REST-клиент Bybit v5. Все вызовы идут через
// circuit breaker: мертвая биржа падает быстро, не копя латентность воркеров.
type httpClient struct {
	apiKey    string
	secretKey string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker
}

func newHTTPClient(apiKey, secretKey, proxyAddr string) *httpClient {
	client := &httpClient{
		apiKey:    apiKey,
		secretKey: secretKey,
	}

	client.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bybit-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	client.http = &http.Client{Timeout: 30 * time.Second}
	if proxyAddr != "" {
		proxyURL := &url.URL{Scheme: "socks5h", Host: proxyAddr}
		if dialer, err := proxy.FromURL(proxyURL, proxy.Direct); err == nil {
			client.http.Transport = &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				},
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			}
		}
	}

	return client
}

// sign строит HMAC SHA256 подпись по timestamp+key+recvWindow+payload, где
// payload — query string для GET и сырое тело для POST.
func (c *httpClient) sign(timestamp, payload string) string {
	message := timestamp + c.apiKey + recvWindow + payload
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *httpClient) authHeaders(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
}

func (c *httpClient) get(ctx context.Context, path string, params map[string]string, signed bool) ([]byte, error) {
	reqURL := baseURL + apiVersion + path
	queryString := ""
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Add(k, v)
		}
		queryString = values.Encode()
		reqURL += "?" + queryString
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if signed && c.apiKey != "" {
		c.authHeaders(req, queryString)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path)
}

func (c *httpClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+apiVersion+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authHeaders(req, string(body))
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path)
}

func (c *httpClient) do(req *http.Request, path string) ([]byte, error) {
	start := time.Now()

	result, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExchangeRequestsTotal.WithLabelValues(name, path, status).Inc()
	metrics.ExchangeRequestDuration.WithLabelValues(name, path).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
