package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// minimalEnv satisfies validation so individual tests only add what they probe.
func minimalEnv(extra map[string]string) map[string]string {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":           "om-dev",
		"API_STORAGE_PRODUCT_IMAGES_BUCKET": "orchard-product-images-dev",
	}
	for key, value := range extra {
		env[key] = value
	}
	return env
}

func loadWith(t *testing.T, env map[string]string, opts ...Option) Config {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadWith(t, minimalEnv(nil))

	if cfg.Server.Port != "8080" || cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "om-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "om-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Payments.DefaultProvider != "stripe" || cfg.Payments.Currency != "usd" {
		t.Errorf("unexpected payment defaults: %+v", cfg.Payments)
	}
	if cfg.Storage.SignedURLTTL != defaultSignedURLTTL {
		t.Errorf("unexpected default signed url ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 || cfg.RateLimits.WebhookBurst != defaultRateLimitWebhook {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimits)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("unexpected default jwks url %s", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected google and iap issuers by default, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval || cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected idempotency cleanup defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadOverridesAndSecretResolution(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_IDLE_TIMEOUT":           "2m",
		"API_FIREBASE_PROJECT_ID":           "om-prod",
		"API_FIRESTORE_PROJECT_ID":          "om-fire",
		"API_STORAGE_PRODUCT_IMAGES_BUCKET": "product-images-prod",
		"API_STORAGE_SIGNER_KEY":            "secret://storage/signer",
		"API_STORAGE_SIGNED_URL_TTL":        "30m",
		"API_PSP_STRIPE_API_KEY":            "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":     "secret://stripe/webhook",
		"API_PSP_STRIPE_ACCOUNT_ID":         "acct_123",
		"API_PAYMENTS_DEFAULT_PROVIDER":     "Mock",
		"API_PAYMENTS_CURRENCY":             "EUR",
		"API_PUBSUB_PROJECT_ID":             "om-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":     "order-events",
		"API_RATELIMIT_WEBHOOK_BURST":       "80",
		"API_FEATURE_MOCK_PAYMENTS":         "true",
		"API_FEATURE_LOW_STOCK_FEED":        "off",
		"API_SECURITY_ENVIRONMENT":          "prod",
		"API_SECURITY_OIDC_AUDIENCES":       "prod=https://service.example.com, dev=https://dev.example.com",
		"API_SECURITY_OIDC_ISSUERS":         "https://accounts.google.com, https://cloud.google.com/iap",
		"API_IDEMPOTENCY_HEADER":            "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":               "48h",
	}

	vault := map[string]string{
		"secret://storage/signer": "signer-key",
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if value, ok := vault[ref]; ok {
			return value, nil
		}
		return "", errors.New("unknown ref " + ref)
	})

	cfg := loadWith(t, env, WithSecretResolver(resolver))

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server overrides: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "om-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.SignerKey != "signer-key" || cfg.Storage.SignedURLTTL != 30*time.Minute {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" || cfg.PSP.StripeWebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved stripe secrets, got %+v", cfg.PSP)
	}
	if cfg.PSP.StripeAccountID != "acct_123" {
		t.Errorf("unexpected stripe account id %s", cfg.PSP.StripeAccountID)
	}
	if cfg.Payments.DefaultProvider != "mock" || cfg.Payments.Currency != "eur" {
		t.Errorf("expected lowercased payment settings, got %+v", cfg.Payments)
	}
	if cfg.PubSub.ProjectID != "om-events" || cfg.PubSub.OrderEventsTopic != "order-events" {
		t.Errorf("unexpected pubsub config: %+v", cfg.PubSub)
	}
	if !cfg.Features.EnableMockPayments || cfg.Features.EnableLowStockFeed {
		t.Errorf("unexpected feature flags: %+v", cfg.Features)
	}
	if cfg.RateLimits.WebhookBurst != 80 {
		t.Errorf("unexpected webhook burst %d", cfg.RateLimits.WebhookBurst)
	}
	// Audience falls back to the per-environment map for the active environment.
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("expected prod audience from map, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency overrides: %+v", cfg.Idempotency)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"om-dot\"\nAPI_STORAGE_PRODUCT_IMAGES_BUCKET=images-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "om-dot" {
		t.Errorf("expected unquoted firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := invalid.Fields()
	if len(fields) == 0 {
		t.Fatal("expected missing fields to be reported")
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	env := minimalEnv(map[string]string{
		"API_PSP_STRIPE_API_KEY": "secret://missing",
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	expect := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}
	for key, want := range expect {
		if got := values[key]; got != want {
			t.Errorf("%s: expected %q, got %q", key, want, got)
		}
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(minimalEnv(nil)),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret", "PSP.StripeWebhookSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeWebhookSecret" {
		t.Fatalf("unexpected missing secrets %v", names)
	}
	sum := sha256.Sum256([]byte("PSP.StripeWebhookSecret"))
	want := hex.EncodeToString(sum[:8])
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] != want {
		t.Fatalf("unexpected redacted names %v", redacted)
	}
}

func TestLoadNormalisesLegacySecretScheme(t *testing.T) {
	env := minimalEnv(map[string]string{
		"API_PSP_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	})

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://stripe/webhook" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "legacy-secret", nil
	})

	cfg := loadWith(t, env, WithSecretResolver(resolver))
	if cfg.PSP.StripeWebhookSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.PSP.StripeWebhookSecret)
	}
}
