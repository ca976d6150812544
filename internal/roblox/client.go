// Package roblox talks to the Roblox users, groups and thumbnails web APIs.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultUsersBaseURL      = "https://users.roblox.com"
	defaultGroupsBaseURL     = "https://groups.roblox.com"
	defaultThumbnailsBaseURL = "https://thumbnails.roblox.com"
	defaultMaxRetries        = 3
	defaultRetryInterval     = 250 * time.Millisecond
	defaultRolesCacheTTL     = 10 * time.Minute
	defaultRequestTimeout    = 10 * time.Second

	// PlaceholderAvatarURL is returned when a headshot cannot be resolved.
	PlaceholderAvatarURL = "https://www.roblox.com/asset/?id=0"

	csrfHeader = "X-Csrf-Token"
)

var (
	// ErrUserNotFound indicates the username does not resolve to an account.
	ErrUserNotFound = errors.New("roblox: user not found")
	// ErrRoleNotFound indicates the group has no role with the requested rank.
	ErrRoleNotFound = errors.New("roblox: group role not found")
	// ErrMissingCookie indicates a rank write was attempted without credentials.
	ErrMissingCookie = errors.New("roblox: security cookie not configured")
	// ErrInvalidClientConfig wraps configuration validation failures.
	ErrInvalidClientConfig = errors.New("roblox: invalid client config")

	errMissingGroupID = errors.New("group id is required")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Header     http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("roblox %s returned status %d", e.Endpoint, e.StatusCode)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Recorder observes outbound requests; metrics.Collectors satisfies it.
type Recorder interface {
	ExternalRequest(endpoint, outcome string)
}

// ClientConfig bundles the client settings.
type ClientConfig struct {
	GroupID           int64
	SecurityCookie    string
	UsersBaseURL      string
	GroupsBaseURL     string
	ThumbnailsBaseURL string
	HTTPClient        *http.Client
	MaxRetries        uint64
	RetryInterval     time.Duration
	RolesCacheTTL     time.Duration
	Recorder          Recorder
	Logger            *zap.Logger
	Clock             func() time.Time
}

// Client is a retrying Roblox API client scoped to one group.
type Client struct {
	groupID        int64
	cookie         string
	usersBase      string
	groupsBase     string
	thumbnailsBase string
	httpClient     *http.Client
	maxRetries     uint64
	retryInterval  time.Duration
	recorder       Recorder
	logger         *zap.Logger
	clock          func() time.Time
	roles          *rolesCache

	csrfMu    sync.Mutex
	csrfToken string
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.GroupID <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingGroupID)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	rolesTTL := cfg.RolesCacheTTL
	if rolesTTL <= 0 {
		rolesTTL = defaultRolesCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		groupID:        cfg.GroupID,
		cookie:         strings.TrimSpace(cfg.SecurityCookie),
		usersBase:      baseURL(cfg.UsersBaseURL, defaultUsersBaseURL),
		groupsBase:     baseURL(cfg.GroupsBaseURL, defaultGroupsBaseURL),
		thumbnailsBase: baseURL(cfg.ThumbnailsBaseURL, defaultThumbnailsBaseURL),
		httpClient:     httpClient,
		maxRetries:     maxRetries,
		retryInterval:  retryInterval,
		recorder:       cfg.Recorder,
		logger:         logger,
		clock:          clock,
		roles:          &rolesCache{ttl: rolesTTL},
	}, nil
}

func baseURL(configured, fallback string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(configured), "/")
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// GroupID returns the configured group.
func (c *Client) GroupID() int64 {
	return c.groupID
}

// User is a resolved Roblox account.
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// ResolveUsername maps a username to its account.
func (c *Client) ResolveUsername(ctx context.Context, username string) (User, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return User{}, ErrUserNotFound
	}
	payload := map[string]any{
		"usernames":          []string{trimmed},
		"excludeBannedUsers": true,
	}
	var response struct {
		Data []User `json:"data"`
	}
	if err := c.doJSON(ctx, "resolve_username", http.MethodPost, c.usersBase+"/v1/usernames/users", payload, nil, &response); err != nil {
		return User{}, err
	}
	if len(response.Data) == 0 {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, trimmed)
	}
	return response.Data[0], nil
}

type groupRef struct {
	ID int64 `json:"id"`
}

// Role is a group role.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// GroupRank returns the user's rank number in the group, or 0 when the
// user is not a member.
func (c *Client) GroupRank(ctx context.Context, userID int64) (int, error) {
	var response struct {
		Data []struct {
			Group groupRef `json:"group"`
			Role  Role     `json:"role"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/v1/users/%d/groups/roles", c.groupsBase, userID)
	if err := c.doJSON(ctx, "group_rank", http.MethodGet, endpoint, nil, nil, &response); err != nil {
		return 0, err
	}
	for _, membership := range response.Data {
		if membership.Group.ID == c.groupID {
			return membership.Role.Rank, nil
		}
	}
	return 0, nil
}

// IsPrimaryGroup reports whether the user's primary group is the configured
// group. A missing primary group is false, not an error.
func (c *Client) IsPrimaryGroup(ctx context.Context, userID int64) (bool, error) {
	var response *struct {
		Group groupRef `json:"group"`
	}
	endpoint := fmt.Sprintf("%s/v1/users/%d/groups/primary/role", c.groupsBase, userID)
	err := c.doJSON(ctx, "primary_group", http.MethodGet, endpoint, nil, nil, &response)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return response != nil && response.Group.ID == c.groupID, nil
}

// ProfileDescription returns the user's profile text.
func (c *Client) ProfileDescription(ctx context.Context, userID int64) (string, error) {
	var response struct {
		Description string `json:"description"`
	}
	endpoint := fmt.Sprintf("%s/v1/users/%d", c.usersBase, userID)
	if err := c.doJSON(ctx, "profile", http.MethodGet, endpoint, nil, nil, &response); err != nil {
		return "", err
	}
	return response.Description, nil
}

// AvatarURL returns the user's headshot image, or PlaceholderAvatarURL on any failure.
func (c *Client) AvatarURL(ctx context.Context, userID int64) string {
	var response struct {
		Data []struct {
			ImageURL string `json:"imageUrl"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/v1/users/avatar-headshot?userIds=%d&size=720x720&format=Png&isCircular=false", c.thumbnailsBase, userID)
	if err := c.doJSON(ctx, "avatar", http.MethodGet, endpoint, nil, nil, &response); err != nil {
		c.logger.Warn("avatar lookup failed",
			zap.Int64("roblox_user_id", userID),
			zap.Error(err))
		return PlaceholderAvatarURL
	}
	if len(response.Data) == 0 || response.Data[0].ImageURL == "" {
		return PlaceholderAvatarURL
	}
	return response.Data[0].ImageURL
}

// GroupRoles lists the group's roles, served from a short-lived cache.
func (c *Client) GroupRoles(ctx context.Context) ([]Role, error) {
	now := c.clock()
	if roles := c.roles.get(now); roles != nil {
		return roles, nil
	}
	var response struct {
		Roles []Role `json:"roles"`
	}
	endpoint := fmt.Sprintf("%s/v1/groups/%d/roles", c.groupsBase, c.groupID)
	if err := c.doJSON(ctx, "group_roles", http.MethodGet, endpoint, nil, nil, &response); err != nil {
		return nil, err
	}
	c.roles.store(response.Roles, now)
	return response.Roles, nil
}

// SetGroupRank moves the user to the group role with the given rank number.
// Writing the rank the user already holds is harmless.
func (c *Client) SetGroupRank(ctx context.Context, userID int64, rank int) error {
	if c.cookie == "" {
		return ErrMissingCookie
	}
	roles, err := c.GroupRoles(ctx)
	if err != nil {
		return err
	}
	roleID := int64(0)
	for _, role := range roles {
		if role.Rank == rank {
			roleID = role.ID
			break
		}
	}
	if roleID == 0 {
		return fmt.Errorf("%w: rank %d", ErrRoleNotFound, rank)
	}

	endpoint := fmt.Sprintf("%s/v1/groups/%d/users/%d", c.groupsBase, c.groupID, userID)
	payload := map[string]int64{"roleId": roleID}
	err = c.doJSON(ctx, "set_rank", http.MethodPatch, endpoint, payload, c.authHeaders(), nil)

	// the first write in a session is rejected with a fresh csrf token
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden {
		token := statusErr.Header.Get(csrfHeader)
		if token == "" {
			return err
		}
		c.csrfMu.Lock()
		c.csrfToken = token
		c.csrfMu.Unlock()
		err = c.doJSON(ctx, "set_rank", http.MethodPatch, endpoint, payload, c.authHeaders(), nil)
	}
	if err != nil {
		c.logger.Error("group rank write failed",
			zap.Int64("roblox_user_id", userID),
			zap.Int("rank", rank),
			zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) authHeaders() map[string]string {
	headers := map[string]string{"Cookie": ".ROBLOSECURITY=" + c.cookie}
	c.csrfMu.Lock()
	if c.csrfToken != "" {
		headers[csrfHeader] = c.csrfToken
	}
	c.csrfMu.Unlock()
	return headers
}

// doJSON performs one logical request with bounded exponential retry.
// Network failures, 429 and 5xx are retried; every other status is final.
func (c *Client) doJSON(ctx context.Context, endpoint, method, url string, payload any, headers map[string]string, out any) error {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	retrier := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var body io.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		}
		request, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		request.Header.Set("Accept", "application/json")
		if encoded != nil {
			request.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			request.Header.Set(key, value)
		}

		response, err := c.httpClient.Do(request)
		if err != nil {
			c.logger.Debug("roblox request failed",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		defer response.Body.Close()

		if response.StatusCode < 200 || response.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, response.Body)
			statusErr := &StatusError{Endpoint: endpoint, StatusCode: response.StatusCode, Header: response.Header}
			if retryableStatus(response.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, response.Body)
			return nil
		}
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", endpoint, err))
		}
		return nil
	}, retrier)

	c.record(endpoint, err)
	return err
}

func (c *Client) record(endpoint string, err error) {
	if c.recorder == nil {
		return
	}
	outcome := "ok"
	var statusErr *StatusError
	switch {
	case err == nil:
	case errors.As(err, &statusErr):
		outcome = strconv.Itoa(statusErr.StatusCode)
	default:
		outcome = "error"
	}
	c.recorder.ExternalRequest(endpoint, outcome)
}

type rolesCache struct {
	mu        sync.RWMutex
	roles     []Role
	expiresAt time.Time
	ttl       time.Duration
}

func (c *rolesCache) get(now time.Time) []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.roles == nil || now.After(c.expiresAt) {
		return nil
	}
	return c.roles
}

func (c *rolesCache) store(roles []Role, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles = roles
	c.expiresAt = now.Add(c.ttl)
}
