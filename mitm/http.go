package mitm

import (
	std_bufio "bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"

	"golang.org/x/net/http/httpguts"
)

var _ adapter.Stage = (*HTTPStage)(nil)

// HTTPStage parses HTTP/1.x exchanges into request and response messages
// while forwarding them, and stores bodies as artifacts.
type HTTPStage struct {
	captureLimit    int64
	urlRewriteRules []URLRewriteFunc
}

func NewHTTPStage(options option.HTTPStageOptions) (*HTTPStage, error) {
	stage := &HTTPStage{
		captureLimit: options.CaptureLimit,
	}
	if stage.captureLimit == 0 {
		stage.captureLimit = C.DefaultCaptureLimit
	}
	rules, err := newURLRewriteRules(options.URLRewrite)
	if err != nil {
		return nil, err
	}
	stage.urlRewriteRules = rules
	if options.URLRewritePath != "" {
		urlRewriteFile, err := os.Open(options.URLRewritePath)
		if err != nil {
			return nil, E.Cause(err, "read url rewrite configuration")
		}
		defer urlRewriteFile.Close()
		rules, err = readSurgeURLRewriteRules(urlRewriteFile)
		if err != nil {
			return nil, E.Cause(err, "read url rewrite configuration at ", options.URLRewritePath)
		}
		stage.urlRewriteRules = append(stage.urlRewriteRules, rules...)
	}
	return stage, nil
}

func (s *HTTPStage) Name() string {
	return C.StageHTTP
}

func (s *HTTPStage) Kind() adapter.StageKind {
	return adapter.StageKindTerminal
}

func (s *HTTPStage) Handle(ctx context.Context, session adapter.Session) error {
	client := newClientLeg(session.ClientConn())
	scheme := "http"
	if session.Metadata().ClientHello != nil {
		scheme = "https"
	}
	var (
		serverConn   net.Conn
		serverReader *std_bufio.Reader
	)
	for {
		var watch *upstreamWatch
		if serverConn != nil {
			watch = watchUpstream(serverReader, client.conn)
		}
		request, err := http.ReadRequest(client.reader)
		if watch != nil {
			upstreamErr := watch.stop(serverConn)
			if upstreamErr != nil {
				session.Logger().DebugContext(ctx, "upstream closed: ", upstreamErr)
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || E.IsClosedOrCanceled(err) {
				return nil
			}
			return E.Cause(err, "read request")
		}
		requestURL := *request.URL
		if requestURL.Host == "" {
			requestURL.Host = request.Host
		}
		if requestURL.Scheme == "" {
			requestURL.Scheme = scheme
		}
		urlString := requestURL.String()
		session.Logger().DebugContext(ctx, "HTTP ", request.Method, " ", urlString, " ", request.Proto)
		request.Header.Del("Proxy-Connection")
		request.Header.Del("Proxy-Authorization")
		flow := session.Flow()
		requestData := &model.HTTPRequest{
			Method:        request.Method,
			URL:           urlString,
			Proto:         request.Proto,
			Header:        request.Header.Clone(),
			ContentLength: request.ContentLength,
		}
		requestMessage := model.NewMessage(flow, model.KindRequest, requestData)
		requestBody := &bodyCapture{limit: s.captureLimit}

		if response := s.rewrite(request, urlString); response != nil {
			_, err = io.Copy(requestBody, request.Body)
			if err != nil {
				return E.Cause(err, "read request body")
			}
			err = s.emitBody(ctx, session, requestMessage, requestData.Header, urlString, requestBody, &requestData.BodySize, &requestData.Truncated)
			if err != nil {
				return err
			}
			err = client.reevaluate(ctx, session)
			if err != nil {
				return err
			}
			err = response.Write(client.conn)
			if err != nil {
				return E.Cause(err, "write rewritten response")
			}
			err = session.Emit(ctx, model.NewMessage(flow, model.KindResponse, responseData(response)))
			if err != nil {
				return err
			}
			if request.Close {
				return nil
			}
			continue
		}

		if serverConn == nil {
			serverConn, err = session.ServerConn(ctx)
			if err != nil {
				return err
			}
			serverReader = std_bufio.NewReader(serverConn)
		}
		if _, loaded := request.Header["User-Agent"]; !loaded {
			// keep request.Write from adding its own
			request.Header["User-Agent"] = []string{""}
		}
		request.Body = teeBody(request.Body, requestBody)
		err = request.Write(serverConn)
		if err != nil {
			return E.Cause(err, "write request")
		}
		err = s.emitBody(ctx, session, requestMessage, requestData.Header, urlString, requestBody, &requestData.BodySize, &requestData.Truncated)
		if err != nil {
			return err
		}
		err = client.reevaluate(ctx, session)
		if err != nil {
			return err
		}

		response, err := http.ReadResponse(serverReader, request)
		if err != nil {
			if errors.Is(err, io.EOF) {
				session.Logger().DebugContext(ctx, "upstream closed before responding to ", urlString)
				return nil
			}
			return E.Cause(err, "read response")
		}
		responseInfo := responseData(response)
		responseMessage := model.NewMessage(flow, model.KindResponse, responseInfo)
		if response.StatusCode == http.StatusSwitchingProtocols {
			return s.upgrade(ctx, session, response, responseMessage, client, serverConn, serverReader)
		}
		responseBody := &bodyCapture{limit: s.captureLimit}
		response.Body = teeBody(response.Body, responseBody)
		err = response.Write(client.conn)
		if err != nil {
			return E.Cause(err, "write response")
		}
		err = s.emitBody(ctx, session, responseMessage, responseInfo.Header, urlString, responseBody, &responseInfo.BodySize, &responseInfo.Truncated)
		if err != nil {
			return err
		}
		err = client.reevaluate(ctx, session)
		if err != nil {
			return err
		}
		if request.Close || response.Close {
			return nil
		}
	}
}

func (s *HTTPStage) rewrite(request *http.Request, urlString string) *http.Response {
	for _, rule := range s.urlRewriteRules {
		if response := rule(request, urlString); response != nil {
			return response
		}
	}
	return nil
}

// emitBody fills in the body fields of a message, emits it, and stores a
// complete non-empty body as an artifact of that message.
func (s *HTTPStage) emitBody(ctx context.Context, session adapter.Session, message *model.Message, header http.Header, urlString string, body *bodyCapture, bodySize *int64, truncated *bool) error {
	*bodySize = body.size
	*truncated = body.truncated
	message.Body = body.Bytes()
	err := session.Emit(ctx, message)
	if err != nil {
		return err
	}
	if body.size == 0 || body.truncated {
		return nil
	}
	content := body.Bytes()
	mimeType := model.MediaType(header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = model.MediaType(http.DetectContentType(content))
	}
	artifact := model.NewArtifact(message, mimeType, fileName(header, urlString), content)
	return session.EmitArtifact(ctx, artifact, content)
}

func (s *HTTPStage) upgrade(ctx context.Context, session adapter.Session, response *http.Response, message *model.Message, client *clientLeg, serverConn net.Conn, serverReader *std_bufio.Reader) error {
	err := response.Write(client.conn)
	if err != nil {
		return E.Cause(err, "write response")
	}
	err = session.Emit(ctx, message)
	if err != nil {
		return err
	}
	protocol := strings.ToLower(response.Header.Get("Upgrade"))
	if httpguts.HeaderValuesContainsToken(response.Header["Upgrade"], "websocket") {
		protocol = C.ProtocolWebSocket
	}
	if protocol != "" {
		_, err = session.NewChild(ctx, protocol)
		if err != nil {
			return err
		}
	}
	session.Logger().DebugContext(ctx, "HTTP upgraded to ", protocol)
	return bufio.CopyConn(ctx, cachedConn(client.conn, client.reader), cachedConn(serverConn, serverReader))
}

// clientLeg is the client stream of an HTTP session. Stages selected by a
// parsed message may wrap the stream between exchanges.
type clientLeg struct {
	conn   net.Conn
	reader *std_bufio.Reader
}

func newClientLeg(conn net.Conn) *clientLeg {
	return &clientLeg{conn: conn, reader: std_bufio.NewReader(conn)}
}

func (l *clientLeg) reevaluate(ctx context.Context, session adapter.Session) error {
	err := session.Reevaluate(ctx)
	if err != nil {
		return err
	}
	conn := session.ClientConn()
	if conn == l.conn {
		return nil
	}
	// conn wraps l.conn, so bytes already buffered are replayed first
	l.reader = std_bufio.NewReader(cachedConn(conn, l.reader))
	l.conn = conn
	return nil
}

// upstreamWatch waits for the server leg to close while the stage is idle
// between exchanges, and closes the client leg when it does.
type upstreamWatch struct {
	done chan struct{}
	err  error
}

func watchUpstream(serverReader *std_bufio.Reader, clientConn net.Conn) *upstreamWatch {
	watch := &upstreamWatch{done: make(chan struct{})}
	go func() {
		defer close(watch.done)
		_, err := serverReader.Peek(1)
		if err != nil && !E.IsTimeout(err) {
			watch.err = err
			clientConn.Close()
		}
	}()
	return watch
}

// stop interrupts the watch and returns the error that closed the server
// leg, if any. The reader is free for use afterwards.
func (w *upstreamWatch) stop(serverConn net.Conn) error {
	_ = serverConn.SetReadDeadline(time.Now())
	<-w.done
	_ = serverConn.SetReadDeadline(time.Time{})
	return w.err
}

func cachedConn(conn net.Conn, reader *std_bufio.Reader) net.Conn {
	buffered := reader.Buffered()
	if buffered == 0 {
		return conn
	}
	content, _ := reader.Peek(buffered)
	return bufio.NewCachedConn(conn, buf.As(content).ToOwned())
}

func responseData(response *http.Response) *model.HTTPResponse {
	return &model.HTTPResponse{
		Proto:         response.Proto,
		StatusCode:    response.StatusCode,
		Status:        response.Status,
		Header:        response.Header.Clone(),
		ContentLength: response.ContentLength,
	}
}

func fileName(header http.Header, urlString string) string {
	if disposition := header.Get("Content-Disposition"); disposition != "" {
		_, params, err := mime.ParseMediaType(disposition)
		if err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	requestURL, err := url.Parse(urlString)
	if err != nil {
		return ""
	}
	name := path.Base(requestURL.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// bodyCapture keeps the first limit bytes written to it and counts the rest.
type bodyCapture struct {
	limit     int64
	buffer    bytes.Buffer
	size      int64
	truncated bool
}

func (c *bodyCapture) Write(p []byte) (int, error) {
	c.size += int64(len(p))
	remaining := c.limit - int64(c.buffer.Len())
	if int64(len(p)) > remaining {
		c.truncated = true
		if remaining > 0 {
			c.buffer.Write(p[:remaining])
		}
		return len(p), nil
	}
	c.buffer.Write(p)
	return len(p), nil
}

func (c *bodyCapture) Bytes() []byte {
	if c.buffer.Len() == 0 {
		return nil
	}
	return c.buffer.Bytes()
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

func teeBody(body io.ReadCloser, capture *bodyCapture) io.ReadCloser {
	if body == nil || body == http.NoBody {
		return body
	}
	return &teeReadCloser{Reader: io.TeeReader(body, capture), Closer: body}
}
