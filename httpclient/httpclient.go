// Package httpclient makes JSON requests to the replicas and returns the raw signed reply.
package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

var (
	ErrStatusCodeMismatch  = fmt.Errorf("status code mismatch")
	ErrContentTypeMismatch = fmt.Errorf("content type mismatch")
)

// Reply is the response of the replica with the headers of the signed envelope.
type Reply struct {
	StatusCode int
	Headers    map[string]string // lower case keys
	Body       []byte
}

// Header returns value of the reply header, the key is case insensitive.
func (r Reply) Header(key string) string {
	return r.Headers[strings.ToLower(key)]
}

// Decode unmarshals the reply body into in.
func (r Reply) Decode(in any) error {
	return json.Unmarshal(r.Body, in)
}

// MakePost posts out as JSON with the headers. Replies with 4xx and 5xx status codes are returned
// as long as they carry a JSON body as those are signed rejections of the replica.
func MakePost(timeout time.Duration, url string, headers map[string]string, out any) (Reply, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return Reply{}, err
	}
	req.SetBody(raw)

	return do(timeout, req)
}

// MakeGet makes GET request with the headers.
func MakeGet(timeout time.Duration, url string, headers map[string]string) (Reply, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(timeout, req)
}

func do(timeout time.Duration, req *fasthttp.Request) (Reply, error) {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return Reply{}, err
	}

	contentType := resp.Header.Peek(fasthttp.HeaderContentType)
	if bytes.Index(contentType, []byte("application/json")) != 0 {
		if resp.StatusCode() != fasthttp.StatusOK {
			return Reply{}, errors.Join(
				ErrStatusCodeMismatch,
				fmt.Errorf("expected status code %d but got %d", fasthttp.StatusOK, resp.StatusCode()))
		}
		return Reply{}, errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	reply := Reply{
		StatusCode: resp.StatusCode(),
		Headers:    make(map[string]string),
		Body:       append([]byte(nil), resp.Body()...),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		reply.Headers[strings.ToLower(string(k))] = string(v)
	})
	return reply, nil
}
