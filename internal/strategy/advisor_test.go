package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAdvisor_Suggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/suggest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 585.0, body["spot"])
		assert.Equal(t, 16.0, body["vix"])
		assert.Equal(t, 5.0, body["expected_move"])

		fmt.Fprint(w, `{"suggested_put_strike":580,"suggested_call_strike":590,"win_probability":0.71,"confidence":0.9,"source_name":"ML"}`)
	}))
	defer srv.Close()

	sug, err := NewHTTPAdvisor(srv.URL).Suggest(context.Background(), testSnapshot(), 5.0)
	require.NoError(t, err)
	require.NotNil(t, sug)
	assert.Equal(t, 580.0, sug.PutStrike)
	assert.Equal(t, 590.0, sug.CallStrike)
	assert.Equal(t, 0.71, sug.WinProbability)
	assert.Equal(t, "ML", sug.SourceName)
}

func TestHTTPAdvisor_NoContentMeansNoOpinion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sug, err := NewHTTPAdvisor(srv.URL).Suggest(context.Background(), testSnapshot(), 5.0)
	require.NoError(t, err)
	assert.Nil(t, sug)
}

func TestHTTPAdvisor_ZeroStrikesMeansNoOpinion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"suggested_put_strike":0,"suggested_call_strike":0}`)
	}))
	defer srv.Close()

	sug, err := NewHTTPAdvisor(srv.URL).Suggest(context.Background(), testSnapshot(), 5.0)
	require.NoError(t, err)
	assert.Nil(t, sug)
}

func TestHTTPAdvisor_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAdvisor(srv.URL).Suggest(context.Background(), testSnapshot(), 5.0)
	require.Error(t, err)
}

func TestNoopAdvisor(t *testing.T) {
	sug, err := NoopAdvisor{}.Suggest(context.Background(), testSnapshot(), 5.0)
	require.NoError(t, err)
	assert.Nil(t, sug)
}
