// Package fetch downloads obfuscated script bundles. Origins serving
// these bundles routinely sit behind TLS-fingerprinting middleboxes, so
// the client speaks with a browser JA3 profile instead of Go's default.
package fetch

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// Result is the fetched script body plus the session cookies the origin
// handed back.
type Result struct {
	URL     string
	Body    []byte
	Cookies []*http.Cookie
}

type Client struct {
	client tls_client.HttpClient
}

func NewClient() (*Client, error) {
	jar := tls_client.NewCookieJar()

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithCookieJar(jar),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithDisableHttp3(),
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tls client: %w", err)
	}

	return &Client{client: client}, nil
}

func NewClientWith(client tls_client.HttpClient) *Client {
	return &Client{client: client}
}

// FetchScript downloads one script body. The response is capped at 8 MiB;
// obfuscated bundles land well under that.
func (c *Client) FetchScript(scriptURL string) (*Result, error) {
	req, err := http.NewRequest("GET", scriptURL, nil)
	if err != nil {
		return nil, err
	}

	c.setHeaders(req, scriptURL)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, scriptURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read script body: %w", err)
	}

	return &Result{
		URL:     scriptURL,
		Body:    body,
		Cookies: resp.Cookies(),
	}, nil
}

func (c *Client) setHeaders(req *http.Request, scriptURL string) {
	req.Header = http.Header{
		"sec-ch-ua-platform": {`"Windows"`},
		"user-agent":         {userAgent},
		"sec-ch-ua":          {`"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`},
		"sec-ch-ua-mobile":   {"?0"},
		"accept":             {"*/*"},
		"sec-fetch-site":     {"same-origin"},
		"sec-fetch-mode":     {"no-cors"},
		"sec-fetch-dest":     {"script"},
		"referer":            {originFromURL(scriptURL) + "/"},
		"accept-encoding":    {"gzip, deflate, br, zstd"},
		"accept-language":    {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-dest",
			"referer",
			"accept-encoding",
			"accept-language",
			"cookie",
		},
	}
}

func originFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
