// Package license checks that the process may expose its tools.
package license

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/logging"
)

// DefaultGumroadURL is the Gumroad API base.
const DefaultGumroadURL = "https://api.gumroad.com"

// Verdict is the answer of a license check.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Verifier checks a license key. An error means the check itself could
// not be performed.
type Verifier interface {
	Verify(ctx context.Context, key string) (Verdict, error)
}

// Disabled accepts everything. Used when no license provider is set.
type Disabled struct{}

func (Disabled) Verify(context.Context, string) (Verdict, error) {
	return Verdict{Valid: true, Reason: "license checks disabled"}, nil
}

// Gumroad verifies keys against the Gumroad licenses API.
type Gumroad struct {
	baseURL   string
	permalink string
	http      *http.Client
}

// NewGumroad creates a Gumroad verifier for a product permalink.
func NewGumroad(baseURL, permalink string, client *http.Client) *Gumroad {
	if baseURL == "" {
		baseURL = DefaultGumroadURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gumroad{baseURL: strings.TrimRight(baseURL, "/"), permalink: permalink, http: client}
}

type gumroadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Purchase struct {
		Refunded            bool    `json:"refunded"`
		Chargebacked        bool    `json:"chargebacked"`
		SubscriptionEndedAt *string `json:"subscription_ended_at"`
	} `json:"purchase"`
}

func (g *Gumroad) Verify(ctx context.Context, key string) (Verdict, error) {
	if strings.TrimSpace(key) == "" {
		return Verdict{Reason: "no license key"}, nil
	}
	form := url.Values{
		"product_permalink": {g.permalink},
		"license_key":       {strings.TrimSpace(key)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/licenses/verify", strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("gumroad request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, err
	}
	// Unknown keys come back as 404 with success=false.
	if resp.StatusCode >= 500 {
		return Verdict{}, fmt.Errorf("gumroad returned HTTP %d", resp.StatusCode)
	}
	var body gumroadResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return Verdict{}, fmt.Errorf("decode gumroad response: %w", err)
	}

	p := body.Purchase
	switch {
	case !body.Success:
		return Verdict{Reason: "invalid key"}, nil
	case p.Refunded || p.Chargebacked:
		return Verdict{Reason: "refunded"}, nil
	case p.SubscriptionEndedAt != nil && *p.SubscriptionEndedAt != "":
		return Verdict{Reason: "expired on " + *p.SubscriptionEndedAt}, nil
	}
	return Verdict{Valid: true, Reason: "active subscription"}, nil
}

// New returns the verifier for a configured provider name.
func New(provider, apiURL, permalink string, client *http.Client) (Verifier, error) {
	switch provider {
	case "", "none":
		return Disabled{}, nil
	case "gumroad":
		return NewGumroad(apiURL, permalink, client), nil
	}
	return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown license provider %q", provider)
}

// KeySource supplies the license key, possibly by asking the user.
type KeySource func(ctx context.Context) (string, error)

// StaticKey returns a KeySource for a fixed key.
func StaticKey(key string) KeySource {
	return func(context.Context) (string, error) { return key, nil }
}

// Gate runs the license check at most once per process.
type Gate struct {
	verifier Verifier
	key      KeySource
	logger   *logging.Logger

	once    sync.Once
	verdict Verdict
	err     error
}

// NewGate creates a gate.
func NewGate(v Verifier, key KeySource, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{verifier: v, key: key, logger: logger.WithComponent("license")}
}

// Check returns nil when the license is valid. The first call performs
// the check; later calls return the same answer.
func (g *Gate) Check(ctx context.Context) error {
	g.once.Do(func() {
		g.verdict, g.err = g.check(ctx)
		fields := map[string]interface{}{"valid": g.verdict.Valid, "reason": g.verdict.Reason}
		if g.err != nil {
			fields["error"] = g.err.Error()
			g.logger.Warn("license check failed", fields)
			return
		}
		g.logger.Info("license checked", fields)
	})
	return g.err
}

// Verdict returns the recorded verdict; zero until Check has run.
func (g *Gate) Verdict() Verdict {
	return g.verdict
}

func (g *Gate) check(ctx context.Context) (Verdict, error) {
	if _, ok := g.verifier.(Disabled); ok {
		return g.verifier.Verify(ctx, "")
	}
	key := ""
	if g.key != nil {
		k, err := g.key(ctx)
		if err != nil {
			return Verdict{Reason: "no license key"}, apperrors.Wrap(err, apperrors.CodeLicenseInvalid, "read license key")
		}
		key = k
	}
	v, err := g.verifier.Verify(ctx, key)
	if err != nil {
		v = Verdict{Reason: "license service error"}
		return v, apperrors.Wrap(err, apperrors.CodeLicenseInvalid, v.Reason)
	}
	if !v.Valid {
		return v, apperrors.New(apperrors.CodeLicenseInvalid, "license rejected: "+v.Reason)
	}
	return v, nil
}
