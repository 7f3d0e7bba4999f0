package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/gwsync/internal/model"
)

// CredentialFunc returns the password for an account, typically backed
// by the system keyring.
type CredentialFunc func(account model.Account) (string, error)

// HTTPClient implements Client over the server's JSON web service with
// basic authentication.
type HTTPClient struct {
	httpClient  *http.Client
	credentials CredentialFunc
}

// NewHTTPClient creates a device web service client. credentials
// resolves each account's password at call time.
func NewHTTPClient(credentials CredentialFunc) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		credentials: credentials,
	}
}

// GetDeviceDetails fetches the device record for the account.
func (c *HTTPClient) GetDeviceDetails(
	ctx context.Context,
	account model.Account,
) (*DeviceDetails, error) {
	var details DeviceDetails
	if err := c.do(ctx, account, http.MethodGet, "/device/details", nil, &details); err != nil {
		return nil, fmt.Errorf("getting device details for %s: %w", account.Email, err)
	}
	return &details, nil
}

// GetUserStoreInfo fetches the aggregate store size record.
func (c *HTTPClient) GetUserStoreInfo(
	ctx context.Context,
	account model.Account,
) (*UserStoreInfo, error) {
	var info UserStoreInfo
	if err := c.do(ctx, account, http.MethodGet, "/store/info", nil, &info); err != nil {
		return nil, fmt.Errorf("getting store info for %s: %w", account.Email, err)
	}
	return &info, nil
}

// SetDeviceOptions applies a new synchronization window on the server.
func (c *HTTPClient) SetDeviceOptions(
	ctx context.Context,
	account model.Account,
	tf model.SyncTimeFrame,
) error {
	body := map[string]int{"filtertype": int(tf)}
	if err := c.do(ctx, account, http.MethodPost, "/device/options", body, nil); err != nil {
		return fmt.Errorf("setting device options for %s: %w", account.Email, err)
	}
	return nil
}

// do builds the request, applies basic auth, and decodes the JSON
// response.
func (c *HTTPClient) do(
	ctx context.Context,
	account model.Account,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := strings.TrimRight(account.ServerURL, "/") + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	password, err := c.credentials(account)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}
	req.SetBasicAuth(account.Email, password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response body: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"unexpected status %d on %s %s: %s",
			resp.StatusCode, method, path, strings.TrimSpace(string(respBody)),
		)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}

	return nil
}
