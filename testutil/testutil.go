// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielhkuo/ballotbox/auth"
	"github.com/danielhkuo/ballotbox/cliparse"
	"github.com/danielhkuo/ballotbox/db"
	"github.com/danielhkuo/ballotbox/identity"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
)

// TestEncryptionKey is the identity key used by every test
const TestEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// SetupTestDB creates a fresh SQLite database file with the full schema.
// It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ballotbox.db")
	conn, err := db.Open(db.TypeSQLite, "file:"+path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// SetupTestStore returns a store over a fresh test database
func SetupTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(SetupTestDB(t))
}

// PostgresURLEnv names the database used by SetupPostgresDB
const PostgresURLEnv = "TEST_DATABASE_URL"

// SetupPostgresDB opens the PostgreSQL database named by TEST_DATABASE_URL
// with a fresh schema on its search path, and skips the test when the
// variable is unset. The schema is dropped when the test ends.
func SetupPostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	base := os.Getenv(PostgresURLEnv)
	if base == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}

	admin, err := db.Open(db.TypePostgres, base)
	if err != nil {
		t.Fatalf("Failed to open admin connection: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("Failed to generate schema name: %v", err)
	}
	schemaName := "test_" + hex.EncodeToString(buf)
	if _, err := admin.Exec("CREATE SCHEMA " + schemaName); err != nil {
		t.Fatalf("Failed to create schema %s: %v", schemaName, err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec("DROP SCHEMA " + schemaName + " CASCADE"); err != nil {
			t.Logf("Failed to drop schema %s: %v", schemaName, err)
		}
	})

	dsn, err := withSearchPath(base, schemaName)
	if err != nil {
		t.Fatalf("Bad %s: %v", PostgresURLEnv, err)
	}
	conn, err := db.Open(db.TypePostgres, dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return conn
}

// SetupPostgresStore returns a store over SetupPostgresDB
func SetupPostgresStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(SetupPostgresDB(t))
}

// withSearchPath adds a search_path startup parameter to a URL or
// key=value connection string.
func withSearchPath(dsn, schemaName string) (string, error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " search_path=" + schemaName, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schemaName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:            3318,
		DatabaseURL:     "file::memory:",
		DatabaseType:    db.TypeSQLite,
		AdminKeySalt:    "test-admin-salt",
		CorrelationSalt: "test-correlation-salt",
		EncryptionKey:   TestEncryptionKey,
		AdminEmails:     []string{"admin@example.com"},
		RateLimit:       8,
		RateWindow:      10 * time.Minute,
		BurstThreshold:  3,
		BurstWindow:     500 * time.Millisecond,
		RateStore:       cliparse.RateStoreMemory,
		SweepInterval:   time.Minute,
		LogLevel:        "info",
	}
}

// NewTestCodec returns the identity codec for TestEncryptionKey
func NewTestCodec(t *testing.T) *identity.Codec {
	t.Helper()

	codec, err := identity.NewCodecFromHex(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	return codec
}

// Window returns a poll window that puts the poll in status right now.
// status should be "upcoming", "active", or "completed"
func Window(status string) (startsAt, endsAt time.Time) {
	now := time.Now().UTC().Truncate(time.Second)
	switch status {
	case models.StatusUpcoming:
		return now.Add(time.Hour), now.Add(2 * time.Hour)
	case models.StatusCompleted:
		return now.Add(-2 * time.Hour), now.Add(-time.Hour)
	default:
		return now.Add(-time.Hour), now.Add(time.Hour)
	}
}

// CreateTestPoll creates a poll with three options and returns it with option IDs filled in.
// authorID may be empty.
func CreateTestPoll(t *testing.T, s *store.Store, status string, settings models.Settings, authorID string) *models.Poll {
	t.Helper()

	pollID, _ := auth.GenerateID(16)
	startsAt, endsAt := Window(status)
	if settings.MaxSelections == 0 {
		settings.MaxSelections = 1
	}

	p := &models.Poll{
		ID:          pollID,
		Title:       "Test Poll",
		Description: "A test poll",
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		Settings:    settings,
		Revision:    1,
		Status:      status,
		AuthorID:    authorID,
		CreatedAt:   time.Now().UTC(),
	}
	for _, label := range []string{"Option A", "Option B", "Option C"} {
		optionID, _ := auth.GenerateID(12)
		p.Options = append(p.Options, models.Option{ID: optionID, PollID: pollID, Text: label})
	}

	if err := s.CreatePoll(context.Background(), p); err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}

	return p
}

// CreateTestVoter registers a voter and returns it with its bearer token
func CreateTestVoter(t *testing.T, s *store.Store, codec *identity.Codec, email string) (models.Voter, string) {
	t.Helper()

	protected, err := codec.Protect(email)
	if err != nil {
		t.Fatalf("Failed to protect email: %v", err)
	}
	token, _ := auth.GenerateVoterToken()
	voterID, _ := auth.GenerateID(16)

	v := models.Voter{
		ID:          voterID,
		EmailHash:   protected.Hash,
		EmailCipher: protected.Ciphertext,
		TokenHash:   identity.Hash(token),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateVoter(context.Background(), v); err != nil {
		t.Fatalf("Failed to create test voter: %v", err)
	}

	return v, token
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// BrowserHeaders returns headers that pass the admission guard's automation checks
func BrowserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		"Accept":          "application/json",
		"Accept-Language": "en-US,en;q=0.9",
	}
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
