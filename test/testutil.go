//go:build e2e

package test

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// HTTPJSONStep represents a single HTTP JSON request step in a test
type HTTPJSONStep struct {
	Name           string
	Method         string
	URL            string
	Body           any
	Headers        map[string]string
	ExpectedStatus int
	Validator      func(*testing.T, map[string]any) // Optional response validator
}

// ExecuteHTTPJSONStep executes a single HTTP JSON step and handles all the common boilerplate
func ExecuteHTTPJSONStep(t *testing.T, step HTTPJSONStep, baseURL string) map[string]any {
	t.Helper()
	t.Logf("step: %s", step.Name)

	url := baseURL + step.URL
	resp, err := httpJSON(step.Method, url, step.Body, step.Headers)
	require.NoError(t, err)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Errorf("failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, step.ExpectedStatus, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// 204s and other empty replies have nothing to decode
	var respData map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &respData))
	}

	if step.Validator != nil {
		step.Validator(t, respData)
	}

	return respData
}

// ExecuteHTTPJSONSteps executes a sequence of HTTP JSON steps
func ExecuteHTTPJSONSteps(t *testing.T, steps []HTTPJSONStep, baseURL string) []map[string]any {
	t.Helper()
	var results []map[string]any

	for _, step := range steps {
		result := ExecuteHTTPJSONStep(t, step, baseURL)
		results = append(results, result)
	}

	return results
}

// ErrorMessageValidator validates that an error response contains expected message content
func ErrorMessageValidator(expectedSubstring string) func(*testing.T, map[string]any) {
	return func(t *testing.T, respData map[string]any) {
		t.Helper()
		errorMsg, exists := respData["error"]
		require.True(t, exists, "Expected error field to exist in response")
		assert.Contains(t, errorMsg.(string), expectedSubstring,
			"Expected error message to contain '%s', but got: %s", expectedSubstring, errorMsg)
	}
}

// DocumentValidator validates the document object embedded in a response.
func DocumentValidator(check func(*testing.T, map[string]any)) func(*testing.T, map[string]any) {
	return func(t *testing.T, respData map[string]any) {
		t.Helper()
		doc, ok := respData["document"].(map[string]any)
		require.True(t, ok, "Expected document field to exist in response")
		check(t, doc)
	}
}

// GetDocument extracts the document object from a response.
func GetDocument(t *testing.T, respData map[string]any) map[string]any {
	t.Helper()
	doc, ok := respData["document"].(map[string]any)
	require.True(t, ok, "Expected document field to exist in response")
	return doc
}

// GetDocumentID extracts the document id from a response.
func GetDocumentID(t *testing.T, respData map[string]any) string {
	t.Helper()
	id, ok := GetDocument(t, respData)["id"].(string)
	require.True(t, ok, "Expected document id to be a string")
	require.NotEmpty(t, id)
	return id
}
