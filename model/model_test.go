package model

import (
	"testing"

	"github.com/sagernet/sing/common/json"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

func TestFlowForest(t *testing.T) {
	t.Parallel()
	root := NewFlow(M.ParseSocksaddrHostPort("example.com", 443), "tcp")
	tlsFlow := root.NewChild("tls")
	httpFlow := tlsFlow.NewChild("http")
	other := NewFlow(M.ParseSocksaddrHostPort("example.org", 80), "tcp")
	require.NoError(t, CheckForest([]*Flow{root, tlsFlow, httpFlow, other}))

	parent, ok := httpFlow.Parent()
	require.True(t, ok)
	require.Equal(t, tlsFlow.ID, parent)
	_, ok = root.Parent()
	require.False(t, ok)
	require.Equal(t, root.Destination, httpFlow.Destination)
}

func TestFlowForestCycle(t *testing.T) {
	t.Parallel()
	a := NewFlow(M.Socksaddr{}, "tcp")
	b := a.NewChild("tls")
	a.parent = b.ID
	require.Error(t, CheckForest([]*Flow{a, b}))
}

func TestFlowForestMissingParent(t *testing.T) {
	t.Parallel()
	root := NewFlow(M.Socksaddr{}, "tcp")
	child := root.NewChild("tls")
	require.Error(t, CheckForest([]*Flow{child}))
}

func TestFlowIDsUnique(t *testing.T) {
	t.Parallel()
	first := NewFlowID()
	second := NewFlowID()
	require.NotEqual(t, first, second)
	require.False(t, first.IsNil())
}

func TestMetadataOrder(t *testing.T) {
	t.Parallel()
	var metadata Metadata
	metadata.Set("b", 1)
	metadata.Set("a", "x")
	metadata.Set("b", 2)
	require.Equal(t, []string{"b", "a"}, metadata.Keys())
	content, err := json.Marshal(metadata)
	require.NoError(t, err)
	require.JSONEq(t, `{"b":2,"a":"x"}`, string(content))
	require.Equal(t, "b=2\na=x", metadata.String())
}

func TestHashContent(t *testing.T) {
	t.Parallel()
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashContent(nil))
	require.Equal(t, "text/html", MediaType("text/html; charset=utf-8"))
}
