package measure

import (
	"net"
	"net/http"
	"reflect"
	"time"
)

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		capped := cfg.OperationTimeout / 2
		if capped < dialTimeout {
			dialTimeout = capped
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	perHost := cfg.MaxConnections
	if perHost < 2 {
		perHost = 2
	}

	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: tr}, tr
}

// applyHTTPClient best-effort installs a custom http.Client on the speedtest
// instance. speedtest-go has changed its client field across versions, so
// typed setters are tried first with a reflection fallback.
func applyHTTPClient(stc any, hc *http.Client) {
	if stc == nil || hc == nil {
		return
	}

	if s, ok := stc.(interface{ SetHTTPClient(*http.Client) }); ok {
		s.SetHTTPClient(hc)
		return
	}
	if s, ok := stc.(interface{ SetClient(*http.Client) }); ok {
		s.SetClient(hc)
		return
	}

	v := reflect.ValueOf(stc)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	e := v.Elem()
	if !e.IsValid() || e.Kind() != reflect.Struct {
		return
	}

	for _, name := range []string{"HTTPClient", "HttpClient", "Client"} {
		f := e.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			continue
		}
		if f.Type().AssignableTo(reflect.TypeOf((*http.Client)(nil))) {
			f.Set(reflect.ValueOf(hc))
			return
		}
		if f.Type() == reflect.TypeOf(http.Client{}) {
			f.Set(reflect.ValueOf(*hc))
			return
		}
	}
}
