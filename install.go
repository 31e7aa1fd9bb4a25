package bitrix24

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/qs"
	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// InstallResult reports what the install handler did with a callback
// payload.
type InstallResult struct {
	// RestOnly is true for headless (ONAPPINSTALL event) installs and
	// false for UI (PLACEMENT=DEFAULT) installs.
	RestOnly bool `json:"rest_only"`
	// Auth is the credential record extracted from the payload.
	Auth Credentials `json:"auth"`
	// Installed reports whether the record was persisted.
	Installed bool `json:"install"`
}

// HandleInstall turns an install-callback payload into an initial
// credential record and persists it through store.
//
// Two payload shapes are recognized: a headless install event
// (event=ONAPPINSTALL with a nested auth record) and a UI install
// (PLACEMENT=DEFAULT with flat AUTH_ID/DOMAIN/... fields). Anything else is
// an install_error.
func HandleInstall(ctx context.Context, payload map[string]any, store CredentialStore) (*InstallResult, error) {
	if store == nil {
		return nil, apierrors.New(apierrors.KindInstallError, "credential store is required")
	}

	if event := asString(payload["event"]); strings.EqualFold(event, "ONAPPINSTALL") {
		return handleHeadlessInstall(ctx, payload, store)
	}
	if placement := asString(payload["PLACEMENT"]); placement == "DEFAULT" {
		return handleUIInstall(ctx, payload, store)
	}
	return nil, apierrors.New(apierrors.KindInstallError, "unrecognized install payload shape")
}

func handleHeadlessInstall(ctx context.Context, payload map[string]any, store CredentialStore) (*InstallResult, error) {
	authMap, ok := payload["auth"].(map[string]any)
	if !ok {
		return nil, apierrors.New(apierrors.KindInstallError, "install event carries no auth record")
	}
	creds := credentialsFromMap(authMap)
	if creds.AccessToken == "" || creds.Domain == "" {
		return nil, apierrors.New(apierrors.KindInstallError, "install auth record is incomplete")
	}
	if creds.ClientEndpoint == "" {
		creds.ClientEndpoint = "https://" + creds.Domain + "/rest/"
	}
	if err := store.Write(ctx, creds); err != nil {
		return nil, apierrors.Wrap(err, apierrors.KindInstallError, "persisting install credentials failed")
	}
	return &InstallResult{RestOnly: true, Auth: creds, Installed: true}, nil
}

func handleUIInstall(ctx context.Context, payload map[string]any, store CredentialStore) (*InstallResult, error) {
	authID := asString(payload["AUTH_ID"])
	domain := asString(payload["DOMAIN"])
	if authID == "" || domain == "" {
		return nil, apierrors.New(apierrors.KindInstallError, "AUTH_ID and DOMAIN are mandatory")
	}

	expires := 3600
	if v, ok := asInt(payload["AUTH_EXPIRES"]); ok && v > 0 {
		expires = v
	}
	creds := Credentials{
		AccessToken:      authID,
		RefreshToken:     asString(payload["REFRESH_ID"]),
		Domain:           domain,
		ClientEndpoint:   "https://" + domain + "/rest/",
		ApplicationToken: asString(payload["APP_SID"]),
		MemberID:         asString(payload["member_id"]),
		Status:           asString(payload["status"]),
		ExpiresIn:        expires,
	}
	if err := store.Write(ctx, creds); err != nil {
		return nil, apierrors.Wrap(err, apierrors.KindInstallError, "persisting install credentials failed")
	}
	return &InstallResult{RestOnly: false, Auth: creds, Installed: true}, nil
}

// HandleInstall is the Client-bound variant of the package-level handler.
func (c *Client) HandleInstall(ctx context.Context, payload map[string]any) (*InstallResult, error) {
	res, err := HandleInstall(ctx, payload, c.store)
	if err != nil {
		c.logger.Warn("install failed", "error", err)
		return nil, err
	}
	c.logger.Info("application installed",
		"domain", res.Auth.Domain,
		"rest_only", res.RestOnly,
	)
	return res, nil
}

// InstallHandler returns an http.Handler for the install callback endpoint
// of an application. Bitrix24 posts form-encoded payloads; JSON bodies are
// accepted too for local tooling.
func (c *Client) InstallHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := decodeInstallRequest(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": string(apierrors.KindInstallError), "error_description": err.Error(),
			})
			return
		}
		res, err := c.HandleInstall(r.Context(), payload)
		if err != nil {
			status := http.StatusBadRequest
			if apierrors.KindOf(err) != apierrors.KindInstallError {
				status = http.StatusInternalServerError
			}
			writeJSON(w, status, map[string]any{
				"error": string(apierrors.KindOf(err)), "error_description": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func decodeInstallRequest(r *http.Request) (map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	// Bracket-notation form fields (auth[access_token]=...) come back as a
	// nested tree, matching the JSON shape.
	return qs.Decode(r.PostForm.Encode())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
