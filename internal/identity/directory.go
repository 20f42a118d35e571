package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Directory checks principal existence against the upstream auth service.
// Tokens are stateless and remain signature-valid until expiry; this
// secondary lookup is what invalidates them for deleted accounts.
type Directory struct {
	baseURL string
	client  *http.Client
}

// NewDirectory constructs a Directory for the auth service base URL.
func NewDirectory(baseURL string, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Directory{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// UserExists reports whether the principal's backing account still exists.
// 200 means exists, 404 means deleted; any other outcome is a dependency
// error and must not silently authenticate.
func (d *Directory) UserExists(ctx context.Context, p *Principal) (bool, error) {
	if d == nil || d.baseURL == "" {
		return false, fmt.Errorf("identity directory: no auth service url configured")
	}
	endpoint := d.baseURL + "/api/admin/users/" + url.PathEscape(p.ID)
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if errReq != nil {
		return false, errReq
	}
	req.Header.Set("x-user-id", p.ID)
	req.Header.Set("x-user-email", p.Email)

	resp, errDo := d.client.Do(req)
	if errDo != nil {
		return false, errDo
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("identity directory: unexpected status %d", resp.StatusCode)
	}
}
