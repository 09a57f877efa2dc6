package profileapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClient(handler http.HandlerFunc) (*client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}), srv
}

func Test_SearchForProfile_ExactMatchWins(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"total_results": 2, "results": [
			{"id": "1", "unique_id": "lofigirls"},
			{"id": "2", "unique_id": "lofigirl"}
		]}`)
	})
	defer srv.Close()

	profile, err := client.SearchForProfile(context.Background(), "tiktok", "lofigirl")
	assert.NoError(t, err)
	assert.Equal(t, "2", profile.ID)
}

func Test_SearchForProfile_NoResults(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_results": 0, "results": []}`)
	})
	defer srv.Close()

	profile, err := client.SearchForProfile(context.Background(), "tiktok", "nobody")
	assert.Nil(t, profile)
	assert.IsType(t, &NoResultError{}, err)
}

func Test_SearchForProfile_ClearSimilarityWinner(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_results": 3, "results": [
			{"id": "1", "unique_id": "zzzzzzzzz"},
			{"id": "2", "unique_id": "qqqqqqqqq"},
			{"id": "3", "unique_id": "lofigirl_"}
		]}`)
	})
	defer srv.Close()

	// No exact match, but the near-identical username should win
	// regardless of where the upstream placed it in the results.
	profile, err := client.SearchForProfile(context.Background(), "tiktok", "lofigirl")
	assert.NoError(t, err)
	assert.Equal(t, "3", profile.ID)
}

func Test_SearchForProfile_AmbiguousResults(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_results": 2, "results": [
			{"id": "1", "unique_id": "musicfan1"},
			{"id": "2", "unique_id": "musicfan2"}
		]}`)
	})
	defer srv.Close()

	profile, err := client.SearchForProfile(context.Background(), "tiktok", "musicfan")
	assert.Nil(t, profile)
	assert.IsType(t, &MultipleResultError{}, err)
}

func Test_SearchForProfile_UpstreamError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code": 12, "message": "API key invalid"}`)
	})
	defer srv.Close()

	_, err := client.SearchForProfile(context.Background(), "tiktok", "lofigirl")
	assert.IsType(t, &FailedRequestError{}, err)
	assert.Contains(t, err.Error(), "API key invalid")
}

func Test_SearchForProfile_EmptyUsername(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost"})
	_, err := client.SearchForProfile(context.Background(), "tiktok", "")
	assert.IsType(t, &IllegalRequestError{}, err)
}

func Test_GetProfile_Success(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/profiles/7001", r.URL.Path)
		fmt.Fprint(w, `{"id": "7001", "unique_id": "lofigirl", "nickname": "Lofi Girl", "verified": true, "follower_count": 120000}`)
	})
	defer srv.Close()

	profile, err := client.GetProfile(context.Background(), "7001")
	assert.NoError(t, err)
	assert.Equal(t, "Lofi Girl", profile.DisplayName)
	assert.True(t, profile.Verified)
	assert.EqualValues(t, 120000, profile.FollowerCount)
}

func Test_GetProfile_MissingID(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unique_id": "lofigirl"}`)
	})
	defer srv.Close()

	_, err := client.GetProfile(context.Background(), "7001")
	assert.IsType(t, &UnknownRequestError{}, err)
}
