package skunk

import (
	std_bufio "bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/twnesss/skunk/inbound"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"
	"github.com/twnesss/skunk/outbound"
	"github.com/twnesss/skunk/store/sqlite"

	"github.com/sagernet/sing/common/json"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

func TestBoxCapture(t *testing.T) {
	t.Parallel()
	origin := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(writer, "hello from origin")
	}))
	defer origin.Close()

	directory := t.TempDir()
	storePath := filepath.Join(directory, "flows.db")
	options, err := option.Parse([]byte(`{
		"log": {"disabled": true},
		"ca": {"directory": "` + filepath.ToSlash(filepath.Join(directory, "ca")) + `"},
		"inbounds": [{"type": "mixed", "tag": "mixed-in", "listen": "127.0.0.1"}],
		"layer": {"rules": [{"filter": "protocol == \"http\"", "stages": ["http"]}]},
		"store": {"path": "` + filepath.ToSlash(storePath) + `", "blob_path": "` + filepath.ToSlash(filepath.Join(directory, "blob.db")) + `"}
	}`))
	require.NoError(t, err)
	instance, err := New(Options{Options: options})
	require.NoError(t, err)
	require.NoError(t, instance.Start())
	defer instance.Close()
	require.FileExists(t, instance.Authority().CertificatePath())

	mixed := instance.Inbounds()[0].(*inbound.Mixed)
	proxyAddress := M.SocksaddrFromNet(mixed.Addr())
	client, err := outbound.NewSocks(nil, logger.NOP(), "client", option.SocksOutboundOptions{
		ServerOptions: option.ServerOptions{Server: proxyAddress.AddrString(), ServerPort: proxyAddress.Port},
	})
	require.NoError(t, err)
	destination := M.SocksaddrFromNet(origin.Listener.Addr())
	conn, err := client.Connect(context.Background(), destination)
	require.NoError(t, err)
	defer conn.Close()

	request, err := http.NewRequest(http.MethodGet, origin.URL+"/greeting.txt", nil)
	require.NoError(t, err)
	request.Close = true
	require.NoError(t, request.Write(conn))
	reader := std_bufio.NewReader(conn)
	response, err := http.ReadResponse(reader, request)
	require.NoError(t, err)
	content, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.Equal(t, "hello from origin", string(content))
	// the stack closes the client leg once the exchange is recorded
	_, err = reader.ReadByte()
	require.ErrorIs(t, err, io.EOF)

	store, err := sqlite.Open(storePath)
	require.NoError(t, err)
	defer store.Close()
	flows, err := store.Flows(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	require.Equal(t, "tcp", flows[0].Protocol)
	require.Equal(t, "http", flows[1].Protocol)
	require.Equal(t, flows[0].ID, flows[1].ParentID)
	var metadata map[string]any
	require.NoError(t, json.Unmarshal(flows[1].Metadata, &metadata))
	require.Equal(t, "mixed-in", metadata["inbound"])

	messages, err := store.Messages(context.Background(), flows[1].ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, model.KindRequest, messages[0].Kind)
	require.Equal(t, model.KindResponse, messages[1].Kind)
	artifacts, err := store.Artifacts(context.Background(), flows[1].ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, "greeting.txt", artifacts[0].FileName)
	require.Equal(t, model.HashContent([]byte("hello from origin")), artifacts[0].Hash)
}

func TestBoxInvalidFilter(t *testing.T) {
	t.Parallel()
	options, err := option.Parse([]byte(`{
		"log": {"disabled": true},
		"ca": {"directory": "` + filepath.ToSlash(t.TempDir()) + `"},
		"route": {"rules": [{"filter": "host ==", "outbound": "direct"}]}
	}`))
	require.NoError(t, err)
	_, err = New(Options{Options: options})
	require.Error(t, err)
}
