package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// OAuthConfig is the Google OAuth client used for consent and token refresh.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{gcal.CalendarScope},
	}
}

type cachedCalendar struct {
	refreshToken string
	calendarID   string
	cal          Calendar
}

// GoogleConnector builds per-tenant Google Calendar clients from stored refresh tokens.
// Clients are cached per tenant and rebuilt when the stored token or calendar id changes.
type GoogleConnector struct {
	oauth      *oauth2.Config
	creds      CredentialStore
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedCalendar
}

// NewGoogleConnector uses base for both token refresh and API calls. A nil base uses http.DefaultTransport.
func NewGoogleConnector(oauth *oauth2.Config, creds CredentialStore, base http.RoundTripper) *GoogleConnector {
	if base == nil {
		base = http.DefaultTransport
	}
	return &GoogleConnector{
		oauth:      oauth,
		creds:      creds,
		httpClient: &http.Client{Transport: base, Timeout: 15 * time.Second},
		cache:      map[string]cachedCalendar{},
	}
}

func (c *GoogleConnector) ForTenant(ctx context.Context, tenantID string) (Calendar, error) {
	cred, ok, err := c.creds.GetCalendarCredential(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load calendar credential: %w", err)
	}
	if !ok || cred.RefreshToken == "" {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[tenantID]; ok && cached.refreshToken == cred.RefreshToken && cached.calendarID == cred.CalendarID {
		return cached.cal, nil
	}

	// The token source outlives the request, so it must not inherit its cancellation.
	bg := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	ts := c.oauth.TokenSource(bg, &oauth2.Token{RefreshToken: cred.RefreshToken})
	client := oauth2.NewClient(bg, ts)
	client.Timeout = c.httpClient.Timeout

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	cal := NewGoogle(svc, cred.CalendarID)
	c.cache[tenantID] = cachedCalendar{refreshToken: cred.RefreshToken, calendarID: cred.CalendarID, cal: cal}
	return cal, nil
}

// Invalidate drops the cached client for a tenant.
func (c *GoogleConnector) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.cache, tenantID)
	c.mu.Unlock()
}
