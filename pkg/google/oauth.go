package google

import (
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/people/v1"
)

// Scopes are the read-only scopes the pipeline needs.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	people.ContactsReadonlyScope,
}

// OAuthConfig returns the OAuth2 configuration used to refresh stored
// account tokens.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       Scopes,
	}
}
