package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ResponseHandler selects what part of a response becomes the result of
// an HTTP string source.
//
// Serialized forms: "Body", "Url", {"Header": "Location"},
// {"Cookie": "session"}.
type ResponseHandler struct {
	Kind ResponseHandlerKind
	Name string // header or cookie name
}

type ResponseHandlerKind int

const (
	// HandleBody yields the response body (the default).
	HandleBody ResponseHandlerKind = iota
	// HandleHeader yields a named header, or none when absent.
	HandleHeader
	// HandleURL yields the final request URL.
	HandleURL
	// HandleCookie yields a named Set-Cookie value, or none when absent.
	HandleCookie
)

// Handle extracts the configured part. The second return is false when
// the addressed header or cookie is absent.
func (h ResponseHandler) Handle(resp *http.Response) (string, bool, error) {
	switch h.Kind {
	case HandleBody:
		body, err := ReadBody(resp)
		if err != nil {
			return "", false, err
		}
		return body, true, nil
	case HandleHeader:
		resp.Body.Close()
		values := resp.Header.Values(h.Name)
		if len(values) == 0 {
			return "", false, nil
		}
		return values[0], true, nil
	case HandleURL:
		resp.Body.Close()
		return resp.Request.URL.String(), true, nil
	case HandleCookie:
		resp.Body.Close()
		for _, cookie := range resp.Cookies() {
			if cookie.Name == h.Name {
				return cookie.Value, true, nil
			}
		}
		return "", false, nil
	}
	return "", false, fmt.Errorf("unknown response handler kind %d", h.Kind)
}

func (h ResponseHandler) MarshalJSON() ([]byte, error) {
	switch h.Kind {
	case HandleBody:
		return json.Marshal("Body")
	case HandleURL:
		return json.Marshal("Url")
	case HandleHeader:
		return json.Marshal(map[string]string{"Header": h.Name})
	case HandleCookie:
		return json.Marshal(map[string]string{"Cookie": h.Name})
	}
	return nil, fmt.Errorf("unknown response handler kind %d", h.Kind)
}

func (h *ResponseHandler) UnmarshalJSON(data []byte) error {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch unit {
		case "Body":
			h.Kind = HandleBody
		case "Url":
			h.Kind = HandleURL
		default:
			return fmt.Errorf("unknown response handler %q", unit)
		}
		return nil
	}

	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("response handler must be a string or single-key object: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("response handler object must have exactly one key")
	}
	for tag, name := range tagged {
		switch tag {
		case "Header":
			h.Kind = HandleHeader
			h.Name = name
		case "Cookie":
			h.Kind = HandleCookie
			h.Name = name
		default:
			return fmt.Errorf("unknown response handler %q", tag)
		}
	}
	return nil
}

// RefreshTarget parses an HTTP Refresh header or meta value like
// "0; url=https://example.com/" and returns the target URL.
func RefreshTarget(value string) (string, bool) {
	_, rest, found := strings.Cut(value, ";")
	if !found {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 4 || !strings.EqualFold(rest[:4], "url=") {
		return "", false
	}
	target := strings.TrimSpace(rest[4:])
	target = strings.Trim(target, `'"`)
	return target, target != ""
}
