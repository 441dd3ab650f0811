package option

import (
	"context"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
)

type Options struct {
	Log       *LogOptions   `json:"log,omitempty"`
	CA        *CAOptions    `json:"ca,omitempty"`
	Inbounds  []Inbound     `json:"inbounds,omitempty"`
	Outbounds []Outbound    `json:"outbounds,omitempty"`
	Route     *RouteOptions `json:"route,omitempty"`
	Layer     *LayerOptions `json:"layer,omitempty"`
	Store     *StoreOptions `json:"store,omitempty"`
}

// Parse decodes a configuration document. Unknown fields are rejected.
func Parse(content []byte) (Options, error) {
	var options Options
	err := json.UnmarshalContextDisallowUnknownFields(context.Background(), content, &options)
	if err != nil {
		return Options{}, E.Cause(err, "decode config")
	}
	return options, nil
}

type LogOptions struct {
	Disabled  bool   `json:"disabled,omitempty"`
	Level     string `json:"level,omitempty"`
	Output    string `json:"output,omitempty"`
	Format    string `json:"format,omitempty"`
	Timestamp bool   `json:"timestamp,omitempty"`
}

type StoreOptions struct {
	Path     string `json:"path,omitempty"`
	BlobPath string `json:"blob_path,omitempty"`
}
