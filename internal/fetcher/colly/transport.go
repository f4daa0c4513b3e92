package collyfetcher

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
)

const originalContentTypeHeader = "X-Regcrawl-Content-Type"

// rawBodyTransport hides the charset parameter from colly, which would
// otherwise transcode bodies to UTF-8 before the decode chain sees them. The
// original header is restored in the response hook.
type rawBodyTransport struct {
	base http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("raw body transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("raw body transport roundtrip: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return resp, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return resp, nil
	}
	resp.Header.Set(originalContentTypeHeader, contentType)
	resp.Header.Set("Content-Type", mediaType)
	return resp, nil
}
