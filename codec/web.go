// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// HTTP protocol objects get dedicated records because their bodies must be
// captured without consuming them: the body is drained and then restored
// on the original object, so the caller's value remains usable after
// serialization. Only text bodies are captured. Cancellation does not
// propagate across the boundary: a reconstructed request carries a
// background context.

// encodeHeader serializes h as an ordered list of [name, value] pairs.
// Repeated values for one name are combined into a single comma-joined
// value, matching standard header-combining semantics on receipt.
func (e *encoder) encodeHeader(h http.Header) int {
	i := e.remember(h, e.alloc())
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([][2]string, len(names))
	for j, name := range names {
		pairs[j] = [2]string{name, strings.Join(h[name], ", ")}
	}
	return e.set(i, TagHeader, pairs)
}

func decodeHeader(pairs [][2]string) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p[0], p[1])
	}
	return h
}

// captureBody drains rc and returns its text, replacing the consumed body
// with an equivalent fresh reader via restore.
func captureBody(rc io.ReadCloser, restore func(io.ReadCloser)) (*string, error) {
	if rc == nil || rc == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	restore(io.NopCloser(bytes.NewReader(data)))
	s := string(data)
	return &s, nil
}

func (e *encoder) encodeRequest(r *http.Request) (int, error) {
	i := e.remember(r, e.alloc())
	hi := e.encodeHeader(r.Header)
	body, err := captureBody(r.Body, func(rc io.ReadCloser) { r.Body = rc })
	if err != nil {
		return 0, fmt.Errorf("request body: %w", err)
	}
	urlStr := ""
	if r.URL != nil {
		urlStr = r.URL.String()
	}
	return e.set(i, TagRequest, requestRecord{
		Method: r.Method,
		URL:    urlStr,
		Header: hi,
		Body:   body,
	}), nil
}

func (e *encoder) encodeResponse(r *http.Response) (int, error) {
	i := e.remember(r, e.alloc())
	hi := e.encodeHeader(r.Header)
	body, err := captureBody(r.Body, func(rc io.ReadCloser) { r.Body = rc })
	if err != nil {
		return 0, fmt.Errorf("response body: %w", err)
	}
	return e.set(i, TagResponse, responseRecord{
		Status: r.StatusCode,
		Header: hi,
		Body:   body,
	}), nil
}

func (d *decoder) decodeRequest(i int, rr requestRecord) (any, error) {
	var body io.Reader
	if rr.Body != nil {
		body = strings.NewReader(*rr.Body)
	}
	req, err := http.NewRequestWithContext(context.Background(), rr.Method, rr.URL, body)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", i, err)
	}
	hv, err := d.decode(rr.Header)
	if err != nil {
		return nil, err
	}
	h, ok := hv.(http.Header)
	if !ok {
		return nil, fmt.Errorf("record %d: header is %T", i, hv)
	}
	req.Header = h
	return d.finish(i, req), nil
}

func (d *decoder) decodeResponse(i int, rr responseRecord) (any, error) {
	hv, err := d.decode(rr.Header)
	if err != nil {
		return nil, err
	}
	h, ok := hv.(http.Header)
	if !ok {
		return nil, fmt.Errorf("record %d: header is %T", i, hv)
	}
	rsp := &http.Response{
		StatusCode: rr.Status,
		Status:     fmt.Sprintf("%d %s", rr.Status, http.StatusText(rr.Status)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     h,
		Body:       http.NoBody,
	}
	if rr.Body != nil {
		rsp.Body = io.NopCloser(strings.NewReader(*rr.Body))
		rsp.ContentLength = int64(len(*rr.Body))
	}
	return d.finish(i, rsp), nil
}
