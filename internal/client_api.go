package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpTimeout = 5 * time.Second

// apiError is a non-2xx response from the server, keeping the status code
// available so callers can branch on it instead of parsing the message.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.message)
}

func apiSignup(baseURL, id, nickname, password string) error {
	payload := map[string]string{"id": id, "nickname": nickname, "password": password}
	return doJSONRequest(http.MethodPost, baseURL+"/signup", "", payload, nil)
}

func apiLogin(baseURL, id, password string) (*loginResponse, error) {
	payload := map[string]string{"id": id, "password": password}
	var resp loginResponse
	if err := doJSONRequest(http.MethodPost, baseURL+"/login", "", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiLogout(baseURL, token string) error {
	return doJSONRequest(http.MethodPost, baseURL+"/logout", token, nil, nil)
}

func apiCreateSpace(baseURL, token, name string, members []string) (Space, error) {
	payload := createSpaceRequest{Name: name, Members: members}
	var space Space
	if err := doJSONRequest(http.MethodPost, baseURL+"/spaces", token, payload, &space); err != nil {
		return Space{}, err
	}
	return space, nil
}

func apiAddMember(baseURL, token, spaceID, userID string) (Space, error) {
	path := baseURL + "/spaces/" + url.PathEscape(spaceID) + "/members"
	payload := addMemberRequest{UserID: userID}
	var space Space
	if err := doJSONRequest(http.MethodPost, path, token, payload, &space); err != nil {
		var respErr *apiError
		if errors.As(err, &respErr) && respErr.status == http.StatusConflict {
			return Space{}, ErrAlreadyMember
		}
		return Space{}, err
	}
	return space, nil
}

func apiListSpaces(baseURL, token string) ([]Space, error) {
	var resp spacesResponse
	if err := doJSONRequest(http.MethodGet, baseURL+"/spaces", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Spaces, nil
}

func doJSONRequest(method, endpoint, token string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, message: readResponseError(resp.Body)}
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
