package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/bytedance/sonic"
)

// ErrUnsupportedEvent is returned for payloads that are not API Gateway or
// function URL HTTP events.
var ErrUnsupportedEvent = errors.New("unsupported invocation event")

// Payload formats.
const (
	FormatV1 = "1.0"
	FormatV2 = "2.0"
)

// probe holds just enough of a payload to tell the formats apart.
type probe struct {
	Version        string `json:"version"`
	HTTPMethod     string `json:"httpMethod"`
	RequestContext struct {
		HTTP struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
}

// httpEvent is an invocation payload that maps onto one HTTP exchange.
type httpEvent interface {
	Format() string
	Request(ctx context.Context) (*http.Request, error)
	Reply(res *responseBuffer) any
}

// decodeEvent detects the payload format and decodes it.
func decodeEvent(payload []byte) (httpEvent, error) {
	var p probe
	if err := sonic.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedEvent, err)
	}

	switch {
	case p.Version == FormatV2 && p.RequestContext.HTTP.Method != "":
		var ev events.APIGatewayV2HTTPRequest
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode v2 event: %w", err)
		}
		return &v2Event{ev: ev}, nil
	case p.HTTPMethod != "":
		var ev events.APIGatewayProxyRequest
		if err := sonic.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode v1 event: %w", err)
		}
		return &v1Event{ev: ev}, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

type v2Event struct {
	ev events.APIGatewayV2HTTPRequest
}

func (e *v2Event) Format() string { return FormatV2 }

func (e *v2Event) Request(ctx context.Context) (*http.Request, error) {
	// rawPath arrives percent-encoded; requestContext.http.path is decoded
	path := e.ev.RawPath
	if path == "" {
		path = escapePath(e.ev.RequestContext.HTTP.Path)
	}

	body, err := decodeBody(e.ev.Body, e.ev.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	req, err := newRequest(ctx, e.ev.RequestContext.HTTP.Method, path, e.ev.RawQueryString, body)
	if err != nil {
		return nil, err
	}

	// v2 folds repeated headers into one comma separated value
	for k, v := range e.ev.Headers {
		req.Header.Set(k, v)
	}
	if len(e.ev.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(e.ev.Cookies, "; "))
	}

	finishRequest(req, e.ev.RequestContext.DomainName, e.ev.RequestContext.HTTP.SourceIP)
	return req, nil
}

func (e *v2Event) Reply(res *responseBuffer) any {
	body, encoded := res.encodedBody()
	out := events.APIGatewayV2HTTPResponse{
		StatusCode:      res.status,
		Headers:         make(map[string]string, len(res.header)),
		Body:            body,
		IsBase64Encoded: encoded,
	}
	for k, vs := range res.header {
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			out.Cookies = append(out.Cookies, vs...)
			continue
		}
		out.Headers[k] = strings.Join(vs, ",")
	}
	return out
}

type v1Event struct {
	ev events.APIGatewayProxyRequest
}

func (e *v1Event) Format() string { return FormatV1 }

func (e *v1Event) Request(ctx context.Context) (*http.Request, error) {
	body, err := decodeBody(e.ev.Body, e.ev.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if len(e.ev.MultiValueQueryStringParameters) > 0 {
		for k, vs := range e.ev.MultiValueQueryStringParameters {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	} else {
		for k, v := range e.ev.QueryStringParameters {
			query.Set(k, v)
		}
	}

	req, err := newRequest(ctx, e.ev.HTTPMethod, escapePath(e.ev.Path), query.Encode(), body)
	if err != nil {
		return nil, err
	}

	if len(e.ev.MultiValueHeaders) > 0 {
		for k, vs := range e.ev.MultiValueHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	} else {
		for k, v := range e.ev.Headers {
			req.Header.Set(k, v)
		}
	}

	finishRequest(req, e.ev.RequestContext.DomainName, e.ev.RequestContext.Identity.SourceIP)
	return req, nil
}

func (e *v1Event) Reply(res *responseBuffer) any {
	body, encoded := res.encodedBody()
	out := events.APIGatewayProxyResponse{
		StatusCode:        res.status,
		Headers:           make(map[string]string, len(res.header)),
		MultiValueHeaders: make(map[string][]string, len(res.header)),
		Body:              body,
		IsBase64Encoded:   encoded,
	}
	for k, vs := range res.header {
		if len(vs) == 0 {
			continue
		}
		out.Headers[k] = vs[0]
		out.MultiValueHeaders[k] = append([]string(nil), vs...)
	}
	return out
}

// newRequest builds a server-side request for an already escaped path, so
// the target reaches the handler byte for byte.
func newRequest(ctx context.Context, method, escapedPath, rawQuery string, body []byte) (*http.Request, error) {
	target := escapedPath
	if target == "" {
		target = "/"
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("parse request target %q: %w", target, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, "/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.URL = u
	req.RequestURI = target
	return req, nil
}

func escapePath(path string) string {
	return (&url.URL{Path: path}).EscapedPath()
}

func finishRequest(req *http.Request, domain, sourceIP string) {
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	} else if domain != "" {
		req.Host = domain
	}
	if sourceIP != "" {
		req.RemoteAddr = sourceIP + ":0"
	}
}

func decodeBody(body string, encoded bool) ([]byte, error) {
	if !encoded {
		return []byte(body), nil
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return raw, nil
}
