package openai

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tuumbleweed/xerr"
)

/*
ReadBody returns the decoded body of resp.

Go's transport only decompresses gzip it asked for itself. Once a caller sets
Accept-Encoding, the body arrives as sent, so gzip, deflate and br are handled
here.
*/
func ReadBody(resp *http.Response) (body []byte, e *xerr.Error) {
	var reader io.Reader = resp.Body
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	switch encoding {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, xerr.NewError(err, "open gzip response body", resp.Request.URL.String())
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer func() {
			_ = fl.Close()
		}()
		reader = fl
	case "br":
		reader = brotli.NewReader(resp.Body)
	default:
		return nil, xerr.NewError(fmt.Errorf("unsupported Content-Encoding '%s'", encoding), "decode response body", encoding)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, xerr.NewError(err, "read response body", encoding)
	}
	return body, nil
}
