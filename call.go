package bitrix24

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/qs"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/transport"
	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// Result is the decoded response envelope of one method call. A successful
// call carries at least a "result" key; domain-level failures carry "error"
// and optionally "error_description".
type Result map[string]any

// Call invokes a named REST method for the tenant identified by hint.
//
// The hint must carry at least the domain; credentials are loaded from the
// store, the request waits for the tenant's rate limiter, and an
// expired_token reply triggers one refresh exchange followed by a single
// retry of the original call.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, hint Credentials) (_ Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic during call",
				"api_method", method,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = apierrors.Newf(apierrors.KindModuleError, "internal failure: %v", r)
		}
	}()

	if method == "" {
		return nil, apierrors.New(apierrors.KindModuleError, "method name is required")
	}
	if hint.Domain == "" {
		return nil, apierrors.New(apierrors.KindModuleError, "credentials hint must carry a domain")
	}

	creds, err := c.store.Read(ctx, hint)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.KindNoInstallApp, "credential store read failed")
	}
	if creds == nil || !creds.Valid() {
		return nil, apierrors.Newf(apierrors.KindNoInstallApp,
			"no valid credentials for %s; is the application installed?", hint.Domain)
	}

	return c.call(ctx, method, params, *creds, true)
}

// call performs one gated method invocation. allowRefresh bounds the
// refresh recursion at depth 1.
func (c *Client) call(ctx context.Context, method string, params map[string]any, creds Credentials, allowRefresh bool) (Result, error) {
	if err := c.limiter.Admit(ctx, creds.Domain, method); err != nil {
		return nil, err
	}

	form := make(map[string]any, len(params)+1)
	for k, v := range params {
		form[k] = v
	}
	form["auth"] = creds.AccessToken

	resp, err := c.transport.Fetch(ctx, transport.Request{
		URL:       creds.ClientEndpoint + method + ".json",
		Method:    http.MethodPost,
		Body:      qs.EncodeString(form),
		Domain:    creds.Domain,
		APIMethod: method,
	})
	if resp != nil {
		c.limiter.Observe(creds.Domain, resp.Status, resp.Body)
	}
	if err != nil {
		return nil, err
	}

	if code, _ := resp.Body["error"].(string); code == "expired_token" {
		if !allowRefresh {
			// The freshly refreshed token was rejected too; surfacing the
			// envelope beats refreshing forever.
			return nil, apierrors.New(apierrors.KindClientError, "token still expired after refresh").
				WithStatus(resp.Status).WithBody(resp.Body)
		}
		refreshed, err := c.refreshCredentials(ctx, creds)
		if err != nil {
			return nil, err
		}
		return c.call(ctx, method, params, refreshed, false)
	}

	return Result(resp.Body), nil
}

// refreshCredentials runs the OAuth refresh_token exchange for the tenant
// and persists the merged record. Concurrent refreshes for one domain are
// collapsed into a single exchange.
func (c *Client) refreshCredentials(ctx context.Context, creds Credentials) (Credentials, error) {
	v, err, _ := c.refresh.Do(creds.Domain, func() (any, error) {
		merged, err := c.doRefresh(ctx, creds)
		if err != nil {
			if c.metrics != nil {
				c.metrics.RefreshesTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RefreshesTotal.WithLabelValues("success").Inc()
		}
		return merged, nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return v.(Credentials), nil
}

func (c *Client) doRefresh(ctx context.Context, creds Credentials) (Credentials, error) {
	if err := c.limiter.Admit(ctx, creds.Domain, "oauth.token"); err != nil {
		return Credentials{}, err
	}

	endpoint := oauthEndpoint(creds.ServerEndpoint)
	query := qs.EncodeString(map[string]any{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": creds.RefreshToken,
	})

	c.logger.Info("refreshing access token", "domain", creds.Domain)
	resp, err := c.transport.Fetch(ctx, transport.Request{
		URL:       endpoint + "?" + query,
		Method:    http.MethodGet,
		Domain:    creds.Domain,
		APIMethod: "oauth.token",
	})
	if resp != nil {
		c.limiter.Observe(creds.Domain, resp.Status, resp.Body)
	}
	if err != nil {
		return Credentials{}, err
	}
	if code, _ := resp.Body["error"].(string); code != "" {
		desc, _ := resp.Body["error_description"].(string)
		if desc == "" {
			desc = code
		}
		return Credentials{}, apierrors.Newf(apierrors.KindClientError, "refresh rejected: %s", desc).
			WithStatus(resp.Status).WithBody(resp.Body)
	}

	merged := creds.merged(resp.Body)
	if !merged.Valid() {
		return Credentials{}, apierrors.New(apierrors.KindModuleError,
			"refresh response produced an invalid credential record")
	}
	if err := c.store.Write(ctx, merged); err != nil {
		return Credentials{}, apierrors.Wrap(err, apierrors.KindModuleError,
			"persisting refreshed credentials failed")
	}
	c.logger.Info("access token refreshed", "domain", creds.Domain)
	return merged, nil
}
