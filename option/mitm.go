package option

import "github.com/sagernet/sing/common/json/badoption"

type LayerOptions struct {
	Rules []LayerRule      `json:"rules,omitempty"`
	TLS   TLSStageOptions  `json:"tls,omitempty"`
	HTTP  HTTPStageOptions `json:"http,omitempty"`
}

type LayerRule struct {
	Filter string                     `json:"filter"`
	Stages badoption.Listable[string] `json:"stages"`
	Final  bool                       `json:"final,omitempty"`
}

type TLSStageOptions struct {
	Insecure   bool   `json:"insecure,omitempty"`
	MinVersion string `json:"min_version,omitempty"`
	MaxVersion string `json:"max_version,omitempty"`
}

type HTTPStageOptions struct {
	CaptureLimit   int64            `json:"capture_limit,omitempty"`
	URLRewrite     []URLRewriteRule `json:"url_rewrite,omitempty"`
	URLRewritePath string           `json:"url_rewrite_path,omitempty"`
}

type URLRewriteRule struct {
	Pattern     string `json:"pattern"`
	Destination string `json:"destination,omitempty"`
	Action      string `json:"action"`
}
