// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetInitState(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/self", mgr.config.HTTPPort)

	res, err := http.Get(url)
	require.Nil(t, err, "Expected to be able to do the request")
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var state struct {
		Init bool `json:"init"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&state))
	require.True(t, state.Init)
}

func TestInitializeManager(t *testing.T) {
	type testCase struct {
		name           string
		user           string
		password       string
		expectedStatus int
	}

	cases := []testCase{
		{
			name:           "no-user",
			password:       "password",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "no-password",
			user:           "admin",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "user-too-long",
			user:           strings.Repeat("a", 65),
			password:       "password",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "password-too-long",
			user:           "admin",
			password:       strings.Repeat("a", 65),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "valid",
			user:           "admin",
			password:       "password",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "already-initialized",
			user:           "admin",
			password:       "password",
			expectedStatus: http.StatusBadRequest,
		},
	}

	mgr := createTestManager(t)
	mgr.initialized = false
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/self", mgr.config.HTTPPort)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := json.Marshal(initializeReq{User: tc.user, Password: tc.password})
			require.NoError(t, err)

			res, err := http.Post(url, "application/json", bytes.NewReader(body))
			require.Nil(t, err, "Expected to be able to do the request")
			defer res.Body.Close()

			require.Equal(t, tc.expectedStatus, res.StatusCode)
		})
	}

	require.True(t, mgr.initialized)
}

func TestTokenLogin(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/self/token", mgr.config.HTTPPort)

	t.Run("valid", func(t *testing.T) {
		body, err := json.Marshal(initializeReq{User: "user", Password: "password"})
		require.NoError(t, err)

		res, err := http.Post(url, "application/json", bytes.NewReader(body))
		require.Nil(t, err, "Expected to be able to do the request")
		defer res.Body.Close()

		require.Equal(t, http.StatusOK, res.StatusCode)

		token, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		// the token has to be usable against an authed endpoint
		req, err := http.NewRequest(http.MethodGet,
			fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors", mgr.config.HTTPPort), nil)
		require.NoError(t, err)

		req.Header.Set("Authorization", "Bearer "+string(token))

		authedRes, err := http.DefaultClient.Do(req)
		require.Nil(t, err, "Expected to be able to do the request")
		defer authedRes.Body.Close()

		require.Equal(t, http.StatusOK, authedRes.StatusCode)
	})

	t.Run("bad-password", func(t *testing.T) {
		body, err := json.Marshal(initializeReq{User: "user", Password: "drowssap"})
		require.NoError(t, err)

		res, err := http.Post(url, "application/json", bytes.NewReader(body))
		require.Nil(t, err, "Expected to be able to do the request")
		defer res.Body.Close()

		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("unknown-user", func(t *testing.T) {
		body, err := json.Marshal(initializeReq{User: "ghost", Password: "password"})
		require.NoError(t, err)

		res, err := http.Post(url, "application/json", bytes.NewReader(body))
		require.Nil(t, err, "Expected to be able to do the request")
		defer res.Body.Close()

		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestTriggerCleanup(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/cleanup", mgr.config.HTTPPort)

	res := doJSONRequest(t, http.MethodPost, url, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
