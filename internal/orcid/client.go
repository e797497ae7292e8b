// Package orcid integrates the ORCID researcher-identity provider.
//
// ORCID has no official Go SDK, so this is a hand-rolled Authorization Code
// flow on top of golang.org/x/oauth2 with ORCID's endpoints plugged in:
//
//  1. We redirect the user to ORCID's authorization endpoint with our
//     client_id, scope=/authenticate and an opaque state blob.
//  2. ORCID redirects back to our callback with a short-lived code.
//  3. We exchange the code for an access token (server-to-server). ORCID's
//     token response also carries the user's ORCID iD and display name as
//     extra fields next to the standard OAuth ones.
//  4. We call ORCID's public API for the user's name and (if visible) email.
//
// FAILURE CONTRACT:
// ExchangeCode and FetchProfile return nil on ANY failure — non-2xx, network
// error, unparseable body. The caller treats nil as a hard failure for this
// attempt and does not retry; errors are logged here, never propagated.
package orcid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://orcid.org/oauth/authorize"
	defaultTokenURL = "https://orcid.org/oauth/token"
	defaultAPIBase  = "https://pub.orcid.org/v3.0"
)

// IDPattern matches an ORCID iD: four groups of four digits, where the final
// character may be the literal checksum character "X".
var IDPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// ValidID reports whether s is a well-formed ORCID iD.
func ValidID(s string) bool {
	return IDPattern.MatchString(s)
}

// Identity is what the token exchange yields: enough to recognise the user
// without a second API call.
type Identity struct {
	AccessToken string
	ORCIDID     string
	Name        string
}

// Profile is the subset of the public ORCID record we care about.
type Profile struct {
	ORCID string
	Name  string
	Email string // first primary (or first visible) email, may be empty
}

// Client talks to the ORCID OAuth and public API endpoints.
type Client struct {
	config  *oauth2.Config
	apiBase string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client against the real ORCID endpoints.
func New(clientID, clientSecret string, logger *slog.Logger) *Client {
	return NewWithEndpoints(clientID, clientSecret, defaultAuthURL, defaultTokenURL, defaultAPIBase, logger)
}

// NewWithEndpoints creates a Client with explicit endpoint URLs.
// Tests point these at an httptest server standing in for ORCID.
func NewWithEndpoints(clientID, clientSecret, authURL, tokenURL, apiBase string, logger *slog.Logger) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{"/authenticate"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: apiBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// IsConfigured reports whether both credentials are present. Callers check
// this up front and fail with a clear configuration error instead of letting
// a credential-less token request produce a confusing provider response.
func (c *Client) IsConfigured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// AuthorizationURL builds the provider authorization URL for the given
// redirect URI and opaque state blob (CSRF nonce + post-login destination).
func (c *Client) AuthorizationURL(redirectURI, state string) string {
	return c.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
}

// ExchangeCode trades an authorization code for the user's identity.
//
// ORCID's token response looks like:
//
//	{"access_token":"...", "token_type":"bearer", "expires_in":631138518,
//	 "scope":"/authenticate", "orcid":"0000-0001-2345-6789", "name":"Nguyen Van A"}
//
// The orcid and name fields ride along as extras on the oauth2.Token.
// Returns nil on any failure; the error is logged, never returned.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) *Identity {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
	if err != nil {
		c.logger.Error("orcid: token exchange failed", slog.String("error", err.Error()))
		return nil
	}

	id := Identity{AccessToken: tok.AccessToken}
	if v, ok := tok.Extra("orcid").(string); ok {
		id.ORCIDID = v
	}
	if v, ok := tok.Extra("name").(string); ok {
		id.Name = v
	}

	if id.AccessToken == "" || !ValidID(id.ORCIDID) {
		c.logger.Error("orcid: token response missing access_token or orcid iD",
			slog.String("orcid", id.ORCIDID),
		)
		return nil
	}

	return &id
}

// orcidPerson mirrors the nested shape of GET {api}/{orcid-id}/person.
// ORCID wraps every scalar in {"value": ...} and nests emails two levels deep.
type orcidPerson struct {
	Name struct {
		GivenNames struct {
			Value string `json:"value"`
		} `json:"given-names"`
		FamilyName struct {
			Value string `json:"value"`
		} `json:"family-name"`
	} `json:"name"`
	Emails struct {
		Email []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		} `json:"email"`
	} `json:"emails"`
}

// FetchProfile reads the user's public record. Returns nil on any failure.
func (c *Client) FetchProfile(ctx context.Context, orcidID, accessToken string) *Profile {
	url := fmt.Sprintf("%s/%s/person", c.apiBase, orcidID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("orcid: building profile request", slog.String("error", err.Error()))
		return nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("orcid: profile request failed", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("orcid: profile endpoint returned non-200",
			slog.Int("status", resp.StatusCode),
			slog.String("orcid", orcidID),
		)
		return nil
	}

	var person orcidPerson
	if err := json.NewDecoder(resp.Body).Decode(&person); err != nil {
		c.logger.Error("orcid: decoding profile response", slog.String("error", err.Error()))
		return nil
	}

	p := &Profile{
		ORCID: orcidID,
		Name:  joinName(person.Name.GivenNames.Value, person.Name.FamilyName.Value),
	}

	// Prefer the primary email; fall back to the first visible one.
	for _, e := range person.Emails.Email {
		if e.Email == "" {
			continue
		}
		if p.Email == "" {
			p.Email = e.Email
		}
		if e.Primary {
			p.Email = e.Email
			break
		}
	}

	return p
}

func joinName(given, family string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	default:
		return given + " " + family
	}
}
