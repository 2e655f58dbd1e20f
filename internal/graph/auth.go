package graph

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultTenant is the Azure AD tenant that accepts both personal and
// work/school accounts.
const DefaultTenant = "common"

// DefaultScopes are requested on every authorization. offline_access is what
// makes the provider return a refresh token.
var DefaultScopes = []string{
	"offline_access",
	"Files.ReadWrite.All",
	"User.Read",
}

// OAuthConfig builds the authorization-code configuration for the Microsoft
// identity platform. An empty tenant selects DefaultTenant; an empty
// clientSecret configures a public client.
func OAuthConfig(clientID, clientSecret, tenant, redirectURL string) *oauth2.Config {
	if tenant == "" {
		tenant = DefaultTenant
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       DefaultScopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}
}
