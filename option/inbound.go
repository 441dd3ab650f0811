package option

import "github.com/sagernet/sing/common/json/badoption"

type Inbound struct {
	Type         string             `json:"type"`
	Tag          string             `json:"tag,omitempty"`
	Listen       string             `json:"listen,omitempty"`
	ListenPort   uint16             `json:"listen_port,omitempty"`
	Users        []User             `json:"users,omitempty"`
	SniffTimeout badoption.Duration `json:"sniff_timeout,omitempty"`
}

type User struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}
