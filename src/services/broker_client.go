// backend/src/services/broker_client.go
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/models"
)

// activityChunk is the widest date window the broker accepts on the
// activities endpoint (31 days); 29 leaves slack around DST transitions.
const activityChunk = 29 * 24 * time.Hour

// tokenRefreshSlack forces a refresh when the access token is about to expire,
// so a long snapshot does not go stale mid-run.
const tokenRefreshSlack = 60 * time.Second

// questradeClient implements BrokerClient against the Questrade-style API:
// a refresh-token grant at the login host yields a bearer token plus the
// per-session api_server that all subsequent calls target.
type questradeClient struct {
	db         *sql.DB
	httpClient *http.Client
	oauthCfg   *oauth2.Config
}

func NewBrokerClient(db *sql.DB) BrokerClient {
	return &questradeClient{
		db:         db,
		httpClient: &http.Client{Timeout: config.Cfg.BrokerTimeout},
		oauthCfg: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  config.Cfg.BrokerLoginURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Connect exchanges a user-supplied refresh token for a session and persists
// the connection. The broker rotates the refresh token on every exchange, so
// the stored token always replaces the submitted one.
func (c *questradeClient) Connect(ctx context.Context, userID int64, refreshToken string) (models.BrokerConnection, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return models.BrokerConnection{}, errors.New("refresh token is required")
	}

	conn, err := c.exchange(ctx, userID, refreshToken)
	if err != nil {
		return models.BrokerConnection{}, err
	}
	logger.L.Info("Broker connection established", "userID", userID, "apiServer", conn.APIServer)
	return conn, nil
}

func (c *questradeClient) Disconnect(ctx context.Context, userID int64) error {
	if err := model.DeleteBrokerConnection(ctx, c.db, userID); err != nil {
		return err
	}
	logger.L.Info("Broker connection removed", "userID", userID)
	return nil
}

func (c *questradeClient) Accounts(ctx context.Context, userID int64) ([]models.BrokerAccount, error) {
	var payload struct {
		Accounts []models.BrokerAccount `json:"accounts"`
	}
	if err := c.get(ctx, userID, "v1/accounts", &payload); err != nil {
		return nil, err
	}
	return payload.Accounts, nil
}

// Snapshot gathers positions, balances and the activity history over the
// lookback window. Activities are fetched in fixed-size date chunks because
// the broker caps the queryable range per call.
func (c *questradeClient) Snapshot(ctx context.Context, userID int64, accountID string, lookback time.Duration) (models.BrokerSnapshot, error) {
	snapshot := models.BrokerSnapshot{AccountID: accountID}

	var positions struct {
		Positions []models.BrokerPosition `json:"positions"`
	}
	if err := c.get(ctx, userID, fmt.Sprintf("v1/accounts/%s/positions", accountID), &positions); err != nil {
		return snapshot, fmt.Errorf("fetch positions: %w", err)
	}
	snapshot.Positions = positions.Positions

	if err := c.get(ctx, userID, fmt.Sprintf("v1/accounts/%s/balances", accountID), &snapshot.Balances); err != nil {
		return snapshot, fmt.Errorf("fetch balances: %w", err)
	}

	end := time.Now().UTC()
	start := end.Add(-lookback)
	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.Add(activityChunk) {
		chunkEnd := chunkStart.Add(activityChunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		path := fmt.Sprintf("v1/accounts/%s/activities?startTime=%s&endTime=%s",
			accountID,
			chunkStart.Format(time.RFC3339),
			chunkEnd.Format(time.RFC3339))

		var chunk struct {
			Activities []models.BrokerActivity `json:"activities"`
		}
		if err := c.get(ctx, userID, path, &chunk); err != nil {
			return snapshot, fmt.Errorf("fetch activities %s: %w", chunkStart.Format("2006-01-02"), err)
		}
		snapshot.Activities = append(snapshot.Activities, chunk.Activities...)
	}

	return snapshot, nil
}

// get performs an authenticated GET against the connection's api_server,
// refreshing the session and retrying once on a 401.
func (c *questradeClient) get(ctx context.Context, userID int64, path string, out any) error {
	conn, err := c.ensureSession(ctx, userID, false)
	if err != nil {
		return err
	}

	status, body, err := c.do(ctx, conn, path)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		conn, err = c.ensureSession(ctx, userID, true)
		if err != nil {
			return err
		}
		status, body, err = c.do(ctx, conn, path)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("broker returned status %d for %s", status, path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode broker response for %s: %w", path, err)
	}
	return nil
}

func (c *questradeClient) do(ctx context.Context, conn models.BrokerConnection, path string) (int, []byte, error) {
	url := strings.TrimSuffix(conn.APIServer, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("broker request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read broker response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// ensureSession returns a connection with a usable access token, performing a
// refresh-token exchange when the stored token is missing, near expiry or the
// caller forces it after a 401.
func (c *questradeClient) ensureSession(ctx context.Context, userID int64, force bool) (models.BrokerConnection, error) {
	conn, err := model.GetBrokerConnection(ctx, c.db, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BrokerConnection{}, ErrBrokerNotConnected
		}
		return models.BrokerConnection{}, fmt.Errorf("load broker connection: %w", err)
	}

	if !force && conn.AccessToken != "" && conn.TokenExpiresAt != nil &&
		time.Until(*conn.TokenExpiresAt) > tokenRefreshSlack {
		return conn, nil
	}
	return c.exchange(ctx, userID, conn.RefreshToken)
}

// exchange runs the refresh-token grant and persists the rotated credentials.
func (c *questradeClient) exchange(ctx context.Context, userID int64, refreshToken string) (models.BrokerConnection, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return models.BrokerConnection{}, fmt.Errorf("broker token exchange: %w", err)
	}

	apiServer, _ := token.Extra("api_server").(string)
	if apiServer == "" {
		return models.BrokerConnection{}, errors.New("broker token response missing api_server")
	}

	expiry := token.Expiry.UTC()
	conn := models.BrokerConnection{
		UserID:         userID,
		RefreshToken:   token.RefreshToken,
		AccessToken:    token.AccessToken,
		APIServer:      apiServer,
		TokenExpiresAt: &expiry,
	}
	if err := model.UpsertBrokerConnection(ctx, c.db, conn); err != nil {
		return models.BrokerConnection{}, err
	}

	stored, err := model.GetBrokerConnection(ctx, c.db, userID)
	if err != nil {
		return models.BrokerConnection{}, fmt.Errorf("reload broker connection: %w", err)
	}
	return stored, nil
}
