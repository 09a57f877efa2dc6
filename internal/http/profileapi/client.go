package profileapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/crate-audio/crate/pkg/httputil"
)

const (
	searchProfileTemplate = "%s/v1/profiles/search?platform=%s&username=%s"
	getProfileTemplate    = "%s/v1/profiles/%s"

	defaultRequestTimeout = time.Second * 15
)

type (
	Config struct {
		BaseURL string `yaml:"base_url" env:"PROFILE_API_BASE_URL"`
		APIKey  string `yaml:"api_key" env:"PROFILE_API_KEY"`
	}

	// Profile is the validated boundary representation of an upstream
	// creator profile. Responses which cannot be decoded in to this
	// shape are rejected with an UnknownRequestError.
	Profile struct {
		ID             string `json:"id"`
		Username       string `json:"unique_id"`
		DisplayName    string `json:"nickname"`
		AvatarURL      string `json:"avatar_url"`
		Verified       bool   `json:"verified"`
		FollowerCount  int64  `json:"follower_count"`
		FollowingCount int64  `json:"following_count"`
		LikeCount      int64  `json:"like_count"`
	}

	searchResult struct {
		Results      []Profile `json:"results"`
		TotalResults int       `json:"total_results"`
	}

	// client is the primary lookup method for the creator fetch
	// service to find profile information for a platform account.
	// The upstream API is treated as untrusted and rate-limited;
	// requests are retried (bounded) and responses validated.
	client struct {
		config Config
		http   *httputil.RetryClient
	}
)

func NewClient(config Config) *client {
	return &client{
		config: config,
		http: httputil.NewRetryClient(
			&http.Client{Timeout: defaultRequestTimeout},
			httputil.DefaultRetryConfig(),
		),
	}
}

// SearchForProfile queries the upstream profile API for accounts
// matching the username provided. An error will be raised if:
//   - The upstream query fails
//   - The search returns zero results
//   - The search returns multiple results and the client cannot
//     decide which is correct
func (c *client) SearchForProfile(ctx context.Context, platform string, username string) (*Profile, error) {
	if username == "" {
		return nil, &IllegalRequestError{"username must not be empty"}
	}

	path := fmt.Sprintf(searchProfileTemplate, c.config.BaseURL, url.QueryEscape(platform), url.QueryEscape(username))
	var result searchResult
	if err := c.getJSONResponse(ctx, path, &result); err != nil {
		return nil, err
	}

	return c.handleSearchResults(result.Results, username)
}

// GetProfile queries the upstream profile API for the account with the
// platform unique ID provided. The ID must be a valid upstream ID, or
// else an error will be returned.
func (c *client) GetProfile(ctx context.Context, platformID string) (*Profile, error) {
	path := fmt.Sprintf(getProfileTemplate, c.config.BaseURL, url.PathEscape(platformID))
	var profile Profile
	if err := c.getJSONResponse(ctx, path, &profile); err != nil {
		return nil, err
	}

	if profile.ID == "" {
		return nil, &UnknownRequestError{"profile response is missing the platform ID"}
	}

	return &profile, nil
}

// handleSearchResults accepts a list of profile stubs and attempts to
// whittle them down to a singular result. Exact username matches win;
// otherwise string similarity against the requested username is used,
// keeping the best match only when it is a clear winner.
func (c *client) handleSearchResults(results []Profile, username string) (*Profile, error) {
	for i := range results {
		if results[i].Username == username {
			return &results[i], nil
		}
	}

	if len(results) == 1 {
		return &results[0], nil
	} else if len(results) == 0 {
		return nil, &NoResultError{}
	}

	metric := &metrics.Hamming{CaseSensitive: false}
	stringSimilarity := make([]float64, len(results))
	for i, res := range results {
		stringSimilarity[i] = strutil.Similarity(res.Username, username, metric)
	}

	// Sort an index view so each similarity stays paired with its result.
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return stringSimilarity[order[i]] > stringSimilarity[order[j]] })

	if stringSimilarity[order[0]] > stringSimilarity[order[1]]+0.25 {
		return &results[order[0]], nil
	}

	return nil, &MultipleResultError{Results: results}
}

func (c *client) getJSONResponse(ctx context.Context, urlPath string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to construct GET(%s): %s", urlPath, err.Error())}
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to perform GET(%s): %s", urlPath, err.Error())}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var upstreamError upstreamError
		if err := json.Unmarshal(respBody, &upstreamError); err != nil {
			return &FailedRequestError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled", upstreamCode: -1}
		}

		return &FailedRequestError{httpCode: resp.StatusCode, message: upstreamError.Message, upstreamCode: upstreamError.Code}
	}

	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	return nil
}

type (
	upstreamError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	FailedRequestError struct {
		httpCode     int
		upstreamCode int
		message      string
	}
	NoResultError       struct{}
	MultipleResultError struct{ Results []Profile }
	UnknownRequestError struct{ reason string }
	IllegalRequestError struct{ reason string }
)

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with the profile API: %s", err.reason)
}
func (err *IllegalRequestError) Error() string {
	return fmt.Sprintf("illegal profile request because %s", err.reason)
}
func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("profile request failure (HTTP %d): %s", err.httpCode, err.message)
}
func (err *NoResultError) Error() string       { return "no results returned from the profile API" }
func (err *MultipleResultError) Error() string { return "too many results returned from the profile API" }
