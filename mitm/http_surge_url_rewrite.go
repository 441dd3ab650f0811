package mitm

import (
	std_bufio "bufio"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"

	"github.com/dlclark/regexp2"
)

// URLRewriteFunc returns the response to send instead of contacting the
// origin, or nil when the rule does not apply.
type URLRewriteFunc func(request *http.Request, urlString string) *http.Response

const (
	actionReject = "reject"
	actionHeader = "header"
	action302    = "302"
)

func newURLRewriteRule(pattern string, destination string, action string) (URLRewriteFunc, error) {
	urlRegex, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, E.Cause(err, "bad regex")
	}
	urlRegex.MatchTimeout = 100 * time.Millisecond
	switch action {
	case actionReject:
		return surgeURLRewriteReject(urlRegex), nil
	case actionHeader:
		// TODO: support header redirect
		fallthrough
	case action302:
		if destination == "" {
			return nil, E.New("missing destination")
		}
		return surgeURLRewrite302(urlRegex, destination), nil
	default:
		return nil, E.New("unknown action: ", action)
	}
}

func newURLRewriteRules(options []option.URLRewriteRule) ([]URLRewriteFunc, error) {
	var handlers []URLRewriteFunc
	for i, ruleOptions := range options {
		handler, err := newURLRewriteRule(ruleOptions.Pattern, ruleOptions.Destination, ruleOptions.Action)
		if err != nil {
			return nil, E.Cause(err, "url_rewrite[", i, "]")
		}
		handlers = append(handlers, handler)
	}
	return handlers, nil
}

func readSurgeURLRewriteRules(reader io.Reader) ([]URLRewriteFunc, error) {
	scanner := std_bufio.NewScanner(reader)
	var handlers []URLRewriteFunc
	for scanner.Scan() {
		ruleLine := strings.TrimSpace(scanner.Text())
		if ruleLine == "" || ruleLine[0] == '#' {
			continue
		}
		ruleParts := strings.Fields(ruleLine)
		if len(ruleParts) != 3 {
			return nil, E.New("invalid surge url rewrite line: ", ruleLine)
		}
		handler, err := newURLRewriteRule(ruleParts[0], ruleParts[1], ruleParts[2])
		if err != nil {
			return nil, E.Cause(err, "invalid surge url rewrite line: ", ruleLine)
		}
		handlers = append(handlers, handler)
	}
	return handlers, scanner.Err()
}

func matchURL(urlRegex *regexp2.Regexp, urlString string) bool {
	matched, err := urlRegex.MatchString(urlString)
	return err == nil && matched
}

func surgeURLRewriteReject(urlRegex *regexp2.Regexp) URLRewriteFunc {
	return func(request *http.Request, urlString string) *http.Response {
		if !matchURL(urlRegex, urlString) {
			return nil
		}
		return newResponse(request, http.StatusNotFound, make(http.Header))
	}
}

func surgeURLRewrite302(urlRegex *regexp2.Regexp, rewriteURL string) URLRewriteFunc {
	return func(request *http.Request, urlString string) *http.Response {
		if !matchURL(urlRegex, urlString) {
			return nil
		}
		header := make(http.Header)
		header.Set("Location", rewriteURL)
		// use 307 to keep method
		return newResponse(request, http.StatusTemporaryRedirect, header)
	}
}

func newResponse(request *http.Request, statusCode int, header http.Header) *http.Response {
	header.Set("Content-Length", "0")
	return &http.Response{
		Status:        strconv.Itoa(statusCode) + " " + http.StatusText(statusCode),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: 0,
		Close:         request.Close,
		Request:       request,
	}
}
