package github

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// apiErrorBody is GitHub's JSON error document.
type apiErrorBody struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
	Errors           []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	} `json:"errors"`
}

// parseAPIError builds a RejectedError from a non-2xx response body. An
// unparseable body still yields a RejectedError carrying the status.
func parseAPIError(status int, body []byte) error {
	rejected := &upstream.RejectedError{Service: upstream.ServiceIssues, StatusCode: status}
	var doc apiErrorBody
	if err := json.Unmarshal(body, &doc); err != nil {
		rejected.Message = strings.TrimSpace(string(body))
		if len(rejected.Message) > 200 {
			rejected.Message = rejected.Message[:200]
		}
		return rejected
	}
	rejected.DocumentationURL = doc.DocumentationURL
	var b strings.Builder
	b.WriteString(doc.Message)
	for _, fe := range doc.Errors {
		detail := fe.Message
		if detail == "" {
			detail = fe.Code
		}
		b.WriteString("; " + fe.Resource + "." + fe.Field + ": " + detail)
	}
	rejected.Message = b.String()
	return rejected
}
