package mitm

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSurgeURLRewriteRules(t *testing.T) {
	t.Parallel()
	rules, err := readSurgeURLRewriteRules(strings.NewReader(`
# comment
^https?://ads\.example\.com/ _ reject
^http://example\.com/old/(.*) https://example.com/new 302
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	request, err := http.NewRequest(http.MethodPost, "http://ads.example.com/banner", nil)
	require.NoError(t, err)
	response := rules[0](request, request.URL.String())
	require.NotNil(t, response)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
	require.Nil(t, rules[1](request, request.URL.String()))

	request, err = http.NewRequest(http.MethodPost, "http://example.com/old/page", nil)
	require.NoError(t, err)
	require.Nil(t, rules[0](request, request.URL.String()))
	response = rules[1](request, request.URL.String())
	require.NotNil(t, response)
	require.Equal(t, http.StatusTemporaryRedirect, response.StatusCode)
	require.Equal(t, "https://example.com/new", response.Header.Get("Location"))
}

func TestURLRewriteInvalid(t *testing.T) {
	t.Parallel()
	_, err := readSurgeURLRewriteRules(strings.NewReader("^http:// reject\n"))
	require.ErrorContains(t, err, "invalid surge url rewrite line")
	_, err = newURLRewriteRule(`^http://`, "", "block")
	require.ErrorContains(t, err, "unknown action")
	_, err = newURLRewriteRule(`^http://`, "", "302")
	require.ErrorContains(t, err, "missing destination")
	_, err = newURLRewriteRule(`(`, "", "reject")
	require.ErrorContains(t, err, "bad regex")
}

func TestBodyCapture(t *testing.T) {
	t.Parallel()
	capture := &bodyCapture{limit: 4}
	_, _ = capture.Write([]byte("ab"))
	_, _ = capture.Write([]byte("cdef"))
	require.Equal(t, []byte("abcd"), capture.Bytes())
	require.EqualValues(t, 6, capture.size)
	require.True(t, capture.truncated)
	require.Equal(t, "report.pdf", fileName(http.Header{"Content-Disposition": {`attachment; filename="report.pdf"`}}, "https://example.com/download"))
	require.Equal(t, "download", fileName(http.Header{}, "https://example.com/files/download?id=1"))
	require.Empty(t, fileName(http.Header{}, "https://example.com/"))
}
