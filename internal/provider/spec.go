package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"panelworks/stevedore/pkg/models"
)

const defaultTimeout = 30 * time.Second

// Spec is the validated connection profile for one upstream provider.
type Spec struct {
	APIURL  string
	APIKey  string
	Method  string
	Timeout time.Duration
}

// NewSpec validates the raw provider fields and applies defaults: method
// falls back to POST, timeout to 30s.
func NewSpec(apiURL, apiKey, method string, timeoutSeconds int) (Spec, error) {
	if apiURL == "" {
		return Spec{}, fmt.Errorf("provider api_url is required")
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Spec{}, fmt.Errorf("provider api_url %q is not a valid absolute URL", apiURL)
	}
	if apiKey == "" {
		return Spec{}, fmt.Errorf("provider api_key is required")
	}

	m := strings.ToUpper(strings.TrimSpace(method))
	switch m {
	case "":
		m = http.MethodPost
	case http.MethodGet, http.MethodPost:
	default:
		return Spec{}, fmt.Errorf("provider http_method %q must be GET or POST", method)
	}

	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	return Spec{APIURL: apiURL, APIKey: apiKey, Method: m, Timeout: timeout}, nil
}

// SpecFromProvider builds a Spec from a stored provider row.
func SpecFromProvider(p *models.Provider) (Spec, error) {
	return NewSpec(p.APIURL, p.APIKey, p.HTTPMethod, p.TimeoutSeconds)
}
