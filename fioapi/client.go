package fioapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/lumafield/fio-dashboard/fiomark"
)

// Client is the API of the FIO analyzer backend as far as the dashboard needs it.
// Every call receives the caller's credentials explicitly.
type Client interface {
	ListTestRuns(ctx context.Context, auth AuthContext, opts ListOptions) (*TestRunResponse, error)
	FilterOptions(ctx context.Context, auth AuthContext) (map[string][]interface{}, error)
	BulkUpdate(ctx context.Context, auth AuthContext, ids []int64, update TestRunUpdate) (*BulkUpdateResult, error)
	DeleteTestRun(ctx context.Context, auth AuthContext, id int64) error
	ImportFIO(ctx context.Context, auth AuthContext, filename string, data []byte) (*ImportResult, error)
	PerformanceData(ctx context.Context, auth AuthContext, ids []int64, metrics []fiomark.Metric) ([]fiomark.PerformanceEntry, error)
	LatestTestRuns(ctx context.Context, auth AuthContext, hostnames []string, limit int) ([]LatestRun, error)

	CurrentUser(ctx context.Context, auth AuthContext) (*User, error)
	ListUsers(ctx context.Context, auth AuthContext) ([]User, error)
	GetUser(ctx context.Context, auth AuthContext, username string) (*User, error)
	CreateUser(ctx context.Context, auth AuthContext, user UserCreate) (*User, error)
	UpdateUser(ctx context.Context, auth AuthContext, username string, update UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, auth AuthContext, username string) error
}

// AuthContext carries the credentials of one caller. Token wins over
// username and password.
type AuthContext struct {
	Username  string
	Password  string
	Token     string
	RequestID string
}

func (a AuthContext) Anonymous() bool {
	return a.Token == "" && a.Username == ""
}

func (a AuthContext) apply(req *http.Request) {
	switch {
	case a.Token != "":
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case a.Username != "":
		req.SetBasicAuth(a.Username, a.Password)
	}
	if a.RequestID != "" {
		req.Header.Set("X-Request-ID", a.RequestID)
	}
}

// AuthFromHeader turns an incoming Authorization header back into an auth
// context so it can be forwarded. Unsupported schemes yield an anonymous context.
func AuthFromHeader(header string) AuthContext {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return AuthContext{}
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(scheme) {
	case "bearer":
		return AuthContext{Token: value}
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return AuthContext{}
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return AuthContext{}
		}
		return AuthContext{Username: user, Password: pass}
	}
	return AuthContext{}
}

// ListOptions selects a page of test runs. A zero Limit means the backend default.
type ListOptions struct {
	Filters fiomark.FilterState
	Limit   int
	Offset  int
}

const MaxListLimit = 1000

// TestRunUpdate holds the metadata fields an admin may change; nil fields stay untouched.
type TestRunUpdate struct {
	Description *string `json:"description,omitempty"`
	TestName    *string `json:"test_name,omitempty"`
	Hostname    *string `json:"hostname,omitempty"`
	Protocol    *string `json:"protocol,omitempty"`
	DriveType   *string `json:"drive_type,omitempty"`
	DriveModel  *string `json:"drive_model,omitempty"`
}

func (u TestRunUpdate) empty() bool {
	return u.Description == nil && u.TestName == nil && u.Hostname == nil &&
		u.Protocol == nil && u.DriveType == nil && u.DriveModel == nil
}

type BulkUpdateResult struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
}

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (u *User) Admin() bool {
	return u.Role == "admin"
}

const (
	RoleAdmin    = "admin"
	RoleUploader = "uploader"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

type UserCreate struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (u UserCreate) validate() error {
	if !usernamePattern.MatchString(u.Username) {
		return errors.Errorf("invalid username %q", u.Username)
	}
	if err := validatePassword(u.Password); err != nil {
		return err
	}
	return validateRole(u.Role)
}

// UserUpdate changes the password, the role or both.
type UserUpdate struct {
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

func (u UserUpdate) validate() error {
	if u.Password == nil && u.Role == nil {
		return errors.New("no updates provided")
	}
	if u.Password != nil {
		if err := validatePassword(*u.Password); err != nil {
			return err
		}
	}
	if u.Role != nil {
		return validateRole(*u.Role)
	}
	return nil
}

func validatePassword(p string) error {
	if len(p) < 4 || len(p) > 100 {
		return errors.New("password must be 4 to 100 characters")
	}
	return nil
}

func validateRole(role string) error {
	if role != RoleAdmin && role != RoleUploader {
		return errors.Errorf("role must be %s or %s", RoleAdmin, RoleUploader)
	}
	return nil
}

type ImportResult struct {
	Message   string `json:"message"`
	TestRunID int64  `json:"test_run_id"`
	Filename  string `json:"filename"`
}

// LatestRun is a row of the most recent results view.
type LatestRun struct {
	Timestamp        string              `json:"timestamp"`
	Hostname         *string             `json:"hostname"`
	Protocol         *string             `json:"protocol"`
	DriveModel       *string             `json:"drive_model"`
	DriveType        *string             `json:"drive_type"`
	BlockSize        fiomark.BlockSize   `json:"block_size"`
	ReadWritePattern string              `json:"read_write_pattern"`
	QueueDepth       int                 `json:"queue_depth"`
	Metrics          map[string]*float64 `json:"metrics"`
}

// NewLatestRun flattens a test run into the latest view row.
func NewLatestRun(r fiomark.TestRun) LatestRun {
	return LatestRun{
		Timestamp:        r.Timestamp,
		Hostname:         r.Hostname,
		Protocol:         r.Protocol,
		DriveModel:       r.DriveModel,
		DriveType:        r.DriveType,
		BlockSize:        r.BlockSize,
		ReadWritePattern: r.ReadWritePattern,
		QueueDepth:       r.QueueDepth,
		Metrics: map[string]*float64{
			"iops":        r.IOPS,
			"avg_latency": r.AvgLatency,
			"bandwidth":   r.Bandwidth,
			"p95_latency": r.P95Latency,
			"p99_latency": r.P99Latency,
		},
	}
}

const (
	defaultLatestLimit = 100
	maxLatestLimit     = 1000
)

func latestLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLatestLimit
	case limit > maxLatestLimit:
		return maxLatestLimit
	}
	return limit
}
