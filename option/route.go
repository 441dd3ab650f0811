package option

type RouteOptions struct {
	Rules []RouteRule `json:"rules,omitempty"`
	Final string      `json:"final,omitempty"`
}

type RouteRule struct {
	Filter   string `json:"filter"`
	Outbound string `json:"outbound"`
}
