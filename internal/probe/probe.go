// Package probe issues the metadata-only origin request (HEAD) that
// discovers size, range support, content type, and the final URL after
// redirects, without transferring the file body.
package probe

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"

	"dlcore/internal/domain"
)

// Result is everything a Download Task needs to lay out segments.
type Result struct {
	Size         int64
	Filename     string
	ContentType  string
	FinalURL     string
	AcceptRanges bool
	ETag         string
	LastModified string
}

// Probe issues a HEAD request against urlStr and reports what the origin
// claims to support. A non-2xx response is reported as a ServerError.
func Probe(ctx context.Context, client *http.Client, urlStr string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return Result{}, domain.NewInvalidURLError(urlStr)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, domain.NewNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, domain.NewServerError(resp.StatusCode, resp.Status)
	}

	filename := filenameFromResponse(resp)
	finalURL := urlStr
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	// An unknown length (no Content-Length) is reported as 0.
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return Result{
		Size:         size,
		Filename:     filename,
		ContentType:  resp.Header.Get("Content-Type"),
		FinalURL:     finalURL,
		AcceptRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func filenameFromResponse(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base := filepath.Base(resp.Request.URL.Path)
		if base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "download"
}
