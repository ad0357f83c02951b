package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"
)

// GraphUser is the subset of a Microsoft Graph user object this core
// cares about. Grounded on original_source's MicrosoftGraphUser struct.
type GraphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
	Department        string `json:"department"`
}

// Email prefers the mail attribute, falling back to the UPN — the same
// fallback original_source uses everywhere it needs "the user's email".
func (u GraphUser) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// DisplayNameOrFallback prefers displayName, then "given surname", then
// the UPN, matching create_new_user_from_microsoft's fallback chain.
func (u GraphUser) DisplayNameOrFallback() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	switch {
	case u.GivenName != "" && u.Surname != "":
		return u.GivenName + " " + u.Surname
	case u.GivenName != "":
		return u.GivenName
	case u.Surname != "":
		return u.Surname
	default:
		return u.UserPrincipalName
	}
}

// GraphClient is the narrow surface the directory sync needs from
// Microsoft Graph — small enough to fake in tests without pulling in the
// official Graph SDK (explicitly out of scope, spec.md §1).
type GraphClient interface {
	ListUsers(ctx context.Context) ([]GraphUser, error)
	FetchPhoto(ctx context.Context, userID string) ([]byte, error)
}

type graphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

type httpGraphClient struct {
	cfg    graphConfig
	oauth  *clientcredentials.Config
	client *http.Client
}

// NewGraphClient builds the default GraphClient using the client
// credentials flow against login.microsoftonline.com, exactly as
// original_source's process_graph_request does manually with a raw
// reqwest POST — here via golang.org/x/oauth2/clientcredentials instead.
func NewGraphClient(tenantID, clientID, clientSecret string) GraphClient {
	cfg := graphConfig{TenantID: tenantID, ClientID: clientID, ClientSecret: clientSecret}
	oauthCfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &httpGraphClient{cfg: cfg, oauth: oauthCfg, client: oauthCfg.Client(context.Background())}
}

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// ListUsers pages through /users via @odata.nextLink until the directory
// is exhausted, the same loop original_source runs manually.
func (c *httpGraphClient) ListUsers(ctx context.Context) ([]GraphUser, error) {
	var all []GraphUser
	next := graphBaseURL + "/users?$select=id,displayName,givenName,surname,mail,userPrincipalName,jobTitle,department&$top=999"

	for next != "" {
		var page struct {
			Value    []GraphUser `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		next = page.NextLink
	}

	return all, nil
}

// FetchPhoto tries the 64x64 thumbnail first, falling back to the
// user's default photo size, matching sync_user_profile_photo's
// 64x64-then-fallback behavior. A 404 on both is not an error — it
// means the user simply has no photo — and is reported as (nil, nil).
func (c *httpGraphClient) FetchPhoto(ctx context.Context, userID string) ([]byte, error) {
	photo, status, err := c.getBinary(ctx, fmt.Sprintf("%s/users/%s/photos/64x64/$value", graphBaseURL, url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK {
		return photo, nil
	}
	if status != http.StatusNotFound {
		return nil, fmt.Errorf("federation: fetch 64x64 photo: unexpected status %d", status)
	}

	photo, status, err = c.getBinary(ctx, fmt.Sprintf("%s/users/%s/photo/$value", graphBaseURL, url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("federation: fetch default photo: unexpected status %d", status)
	}
	return photo, nil
}

func (c *httpGraphClient) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("federation: graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("federation: graph request: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpGraphClient) getBinary(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("federation: graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("federation: read photo body: %w", err)
	}
	return body, resp.StatusCode, nil
}
