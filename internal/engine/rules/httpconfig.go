package rules

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/edgecomet/urlclean/internal/engine/httpx"
)

// MapSource yields a string map: either inline, or by naming a params
// map (its plain entries; fallback slots are ignored). A named map
// absent from the params yields no entries.
type MapSource struct {
	inline map[string]string
	params string
}

func (m MapSource) resolve(view *TaskStateView) map[string]string {
	if m.inline != nil {
		return m.inline
	}
	if m.params == "" {
		return nil
	}
	pm, ok := view.Params.Maps[m.params]
	if !ok {
		return nil
	}
	return pm.Map
}

func (m MapSource) MarshalJSON() ([]byte, error) {
	if m.params != "" {
		return json.Marshal(m.params)
	}
	return json.Marshal(m.inline)
}

func (m *MapSource) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*m = MapSource{params: name}
		return nil
	}
	var inline map[string]string
	if err := json.Unmarshal(data, &inline); err != nil {
		return &ParseError{What: "map source", Err: err}
	}
	*m = MapSource{inline: inline}
	return nil
}

// HttpBodyConfig describes a request body: {"Text": source},
// {"Form": {name: source}} or {"Json": {name: source}}.
type HttpBodyConfig struct {
	kind string
	p    any
}

func (b *HttpBodyConfig) UnmarshalJSON(data []byte) error {
	tag, payload, err := decodeTagged(data)
	if err != nil {
		return &ParseError{What: "http body", Err: err}
	}
	if payload == nil {
		return &ParseError{What: "http body", Err: fmt.Errorf("%s requires a payload", tag)}
	}
	switch tag {
	case "Text":
		var source StringSource
		if err := json.Unmarshal(payload, &source); err != nil {
			return &ParseError{What: "http body text", Err: err}
		}
		*b = HttpBodyConfig{kind: tag, p: &source}
	case "Form", "Json":
		var fields map[string]StringSource
		if err := json.Unmarshal(payload, &fields); err != nil {
			return &ParseError{What: "http body " + tag, Err: err}
		}
		*b = HttpBodyConfig{kind: tag, p: fields}
	default:
		return &ParseError{What: "http body", Err: fmt.Errorf("unknown variant %q", tag)}
	}
	return nil
}

func (b HttpBodyConfig) MarshalJSON() ([]byte, error) {
	return encodeTagged(b.kind, b.p)
}

// build evaluates the body into bytes plus a content type.
func (b *HttpBodyConfig) build(view *TaskStateView) (io.Reader, string, error) {
	switch b.kind {
	case "Text":
		text, err := b.p.(*StringSource).GetRequired(view)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(text), "text/plain; charset=utf-8", nil

	case "Form":
		form := url.Values{}
		for name, source := range b.p.(map[string]StringSource) {
			v, ok, err := source.Get(view)
			if err != nil {
				return nil, "", err
			}
			if ok {
				form.Set(name, v)
			}
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil

	case "Json":
		object := make(map[string]*string)
		for name, source := range b.p.(map[string]StringSource) {
			v, ok, err := source.Get(view)
			if err != nil {
				return nil, "", err
			}
			if ok {
				object[name] = &v
			} else {
				object[name] = nil
			}
		}
		raw, err := json.Marshal(object)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(string(raw)), "application/json", nil
	}
	return nil, "", fmt.Errorf("unknown http body kind %q", b.kind)
}

// HttpRequestConfig describes one outbound request made by a rule.
// The URL defaults to the task's current URL; dynamic headers whose
// source yields none are omitted.
type HttpRequestConfig struct {
	URL             *StringSource           `json:"url,omitempty"`
	Method          string                  `json:"method,omitempty"`
	ConstHeaders    MapSource               `json:"const_headers,omitempty"`
	DynamicHeaders  map[string]StringSource `json:"dynamic_headers,omitempty"`
	Body            *HttpBodyConfig         `json:"body,omitempty"`
	ResponseHandler *httpx.ResponseHandler  `json:"response_handler,omitempty"`
}

// perform sends the request under the unthreader and applies the
// response handler (Body by default).
func (c *HttpRequestConfig) perform(view *TaskStateView) (string, bool, error) {
	target := view.URL.String()
	if c.URL != nil {
		v, err := c.URL.GetRequired(view)
		if err != nil {
			return "", false, err
		}
		target = v
	}

	method := c.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	if c.Body != nil {
		b, ct, err := c.Body.build(view)
		if err != nil {
			return "", false, err
		}
		body, contentType = b, ct
	}

	req, err := http.NewRequestWithContext(view.ctx(), method, target, body)
	if err != nil {
		return "", false, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for name, value := range c.ConstHeaders.resolve(view) {
		req.Header.Set(name, value)
	}
	for name, source := range c.DynamicHeaders {
		v, ok, err := source.Get(view)
		if err != nil {
			return "", false, err
		}
		if ok {
			req.Header.Set(name, v)
		}
	}

	release := view.Unthreader.Acquire()
	defer release()

	resp, err := view.HTTP.Do(req)
	if err != nil {
		return "", false, err
	}

	handler := httpx.ResponseHandler{Kind: httpx.HandleBody}
	if c.ResponseHandler != nil {
		handler = *c.ResponseHandler
	}
	return handler.Handle(resp)
}
