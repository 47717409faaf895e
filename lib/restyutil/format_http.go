package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// formatHeaders renders headers as sorted "Key: Value" lines.
func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{}
	for _, k := range keys {
		for _, v := range headers[k] {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(readBody)
}

// 1: request method
// 2: request url
// 3: request headers
// 4: request body
// 5: response status
// 6: response url
// 7: response headers
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		res.Status(), responseUrl,
		formatHeaders(res.Header()),
		res.String(),
	)
}
