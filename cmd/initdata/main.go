package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ----------------------------------------------------------------------------
// Config ---------------------------------------------------------------------
var (
	baseURL = flag.String("url", env("API_BASE_URL", "http://localhost:8080"), "Server base URL")
	secret  = flag.String("secret", env("JWT_SECRET", "this-is-a-default-jwt-secret-key-with-32-plus-characters"), "JWT signing secret")
	userID  = flag.String("user", env("USER_ID", ""), "User id (hex); random when empty")
	name    = flag.String("name", env("USER_NAME", "Demo User"), "Display name")
	nDocs   = flag.Int("n", envInt("COUNT", 200), "How many documents to create")
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

// ----------------------------------------------------------------------------
// HTTP helpers ---------------------------------------------------------------
func postJSON(path string, body any, hdr map[string]string) (*http.Response, error) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return http.DefaultClient.Do(req)
}

func must(body io.ReadCloser) []byte {
	defer body.Close()
	data, _ := io.ReadAll(body)
	return data
}

// ----------------------------------------------------------------------------
// Main -----------------------------------------------------------------------
func main() {
	flag.Parse()
	gofakeit.Seed(time.Now().UnixNano())

	uid := *userID
	if uid == "" {
		uid = bson.NewObjectID().Hex()
	}

	fmt.Printf("Seeding %d documents for user %s on %s\n", *nDocs, uid, *baseURL)

	token, err := mintToken(uid, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "FATAL:", err)
		os.Exit(1)
	}

	if err := createDocuments(token, *nDocs); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL:", err)
		os.Exit(1)
	}

	fmt.Println("✔ done")
}

// ----------------------------------------------------------------------------
// Step 1 – mint an access token ----------------------------------------------
// There is no sign-up flow: identity lives in the JWT, so the seeder
// signs one itself with the shared secret.
func mintToken(uid, displayName string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid,
		"name":    displayName,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(*secret))
}

// ----------------------------------------------------------------------------
// Step 2 – create documents ---------------------------------------------------
func createDocuments(token string, total int) error {
	h := map[string]string{"Authorization": "Bearer " + token}

	for i := 1; i <= total; i++ {
		doc := map[string]any{
			"title":     gofakeit.Sentence(3),
			"body":      gofakeit.Paragraph(1, 3, 40, " "),
			"is_public": gofakeit.Bool(),
		}

		resp, err := postJSON("/api/v1/documents", doc, h)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("create document %d failed (%d): %s", i, resp.StatusCode, must(resp.Body))
		}

		if i%50 == 0 || i == total {
			fmt.Printf("  … %d/%d\n", i, total)
		}
	}
	return nil
}
