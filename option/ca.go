package option

import "github.com/sagernet/sing/common/json/badoption"

type CAOptions struct {
	Directory    string             `json:"directory,omitempty"`
	CommonName   string             `json:"common_name,omitempty"`
	LeafValidity badoption.Duration `json:"leaf_validity,omitempty"`
	Watch        bool               `json:"watch,omitempty"`
}
