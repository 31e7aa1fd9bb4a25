// Package bitrix24 is a client for the Bitrix24 REST API on behalf of an
// installed OAuth 2.0 application.
//
// One Client serves any number of tenant portals. For every call it loads
// the tenant's credentials from an injected CredentialStore, waits for the
// per-tenant rate limiter, sends the method invocation through an HTTP
// transport with retries and manual redirect handling, and transparently
// refreshes an expired access token once before retrying the call.
//
//	store := bitrix24.NewFileStore("credentials.json")
//	client, err := bitrix24.New(bitrix24.Config{
//		ClientID:     os.Getenv("B24_CLIENT_ID"),
//		ClientSecret: os.Getenv("B24_CLIENT_SECRET"),
//		Store:        store,
//	})
//	...
//	res, err := client.Call(ctx, "user.current", nil, bitrix24.Credentials{Domain: "acme.bitrix24.com"})
package bitrix24
