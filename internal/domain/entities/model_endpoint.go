package entities

import (
	"fmt"
	"time"
)

// ModelEndpoint is a named model and where it is served.
type ModelEndpoint struct {
	Name          string    `json:"name"`
	DisplayName   string    `json:"display_name,omitempty"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Available     bool      `json:"available"`
	LastChecked   time.Time `json:"last_checked,omitempty"`
	Family        string    `json:"family,omitempty"`
	ParameterSize string    `json:"parameter_size,omitempty"`
	Size          int64     `json:"size,omitempty"`
}

// BaseURL returns the HTTP base address of the endpoint.
func (e ModelEndpoint) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// Address returns host:port, used to group models served by one backend.
func (e ModelEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
