// Package httputil holds the fasthttp response helpers shared by the
// HTTP frontends.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSONData marshals data as the response body.
func JSONData(ctx *fasthttp.RequestCtx, data interface{}, statusCode int) {
	body, err := json.Marshal(data)
	if err != nil {
		JSONError(ctx, "failed to encode response", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// JSONError sends an error envelope.
func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	body, _ := json.Marshal(ErrorResponse{Error: message})
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
