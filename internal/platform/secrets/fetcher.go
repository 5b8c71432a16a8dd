// Package secrets resolves secret:// references found in configuration values (database DSN,
// Redis password, MinIO secret key, JWT signing secret) against Google Secret Manager, with a
// local file for developer machines and outages.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	latestVersion       = "latest"
	meterName           = "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/secrets"
)

const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references and caches plaintext values for a bounded time.
type Fetcher struct {
	client     accessor
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	ttl            time.Duration
	now            func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type settings struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string
	fallbackPath   string
	ttl            time.Duration
	now            func() time.Time
	meter          metric.Meter
	client         accessor
	clientOpts     []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects the entry of the project map and environment-scoped version pins.
func WithEnvironment(env string) Option {
	return func(s *settings) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			s.env = env
		}
	}
}

// WithDefaultProject sets the project used when the environment has no mapping.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) { s.projects = cloneMap(projects) }
}

// WithFallbackFile points at a KEY=VALUE file keyed by secret reference. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithVersionPins pins references to explicit versions. Keys are either a canonical reference
// or "<env>:<reference>"; the environment-scoped pin wins.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) { s.pins = cloneMap(pins) }
}

// WithCacheTTL bounds how long resolved values are reused. Zero or negative keeps the default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMeter(meter metric.Meter) Option {
	return func(s *settings) { s.meter = meter }
}

// WithSecretManagerClient injects a client. The fetcher does not close injected clients.
func WithSecretManagerClient(client accessor) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a fetcher. A Secret Manager client that cannot be created is not an
// error: the fetcher then serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		ttl:          defaultCacheTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:         s.client,
		logger:         s.logger,
		env:            s.env,
		defaultProject: s.defaultProject,
		projects:       cloneMap(s.projects),
		pins:           cloneMap(s.pins),
		ttl:            s.ttl,
		now:            s.now,
		fallbackPath:   s.fallbackPath,
		cache:          make(map[string]cachedSecret),
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source")); err != nil {
		f.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if f.cacheHits, err = s.meter.Int64Counter("secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from memory")); err != nil {
		f.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve returns the plaintext for ref ("secret://name?version=3&project=p"). Transient or
// permission failures fall back to the local file; NotFound from Secret Manager does not.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (value string, err error) {
	started := f.now()
	source := sourceError
	defer func() {
		f.observe(ctx, source, f.now().Sub(started))
	}()

	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := parsed.canonical + "#" + version

	if cached, ok := f.cached(key); ok {
		source = sourceCache
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", redact(parsed.canonical))))
		}
		return cached, nil
	}

	if project := f.project(parsed); project != "" && f.client != nil {
		value, err := f.access(ctx, project, parsed.name, version)
		if err == nil {
			source = sourceRemote
			f.store(key, value)
			return value, nil
		}
		if !fallbackEligible(err) {
			return "", fmt.Errorf("secrets: access %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: secret manager failed; trying fallback file",
			zap.String("secret", redact(parsed.canonical)), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed.canonical, version)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.canonical)
	}
	source = sourceFallback
	f.store(key, value)
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !f.now().Before(entry.expiresAt) {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) project(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if project := strings.TrimSpace(f.projects[f.env]); project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) version(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	for _, key := range []string{f.env + ":" + ref.canonical, ref.canonical} {
		if pin := strings.TrimSpace(f.pins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, source string, elapsed time.Duration) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// lookupFallback prefers a version-qualified line ("secret://x?version=3=value") over a bare one.
func (f *Fetcher) lookupFallback(canonical, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if value, ok := f.fallback[canonical+"#"+version]; ok {
		return value, true
	}
	value, ok := f.fallback[canonical]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("secrets: fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, value, ok := splitFallbackLine(line)
		if !ok {
			continue
		}
		if strings.HasPrefix(raw, "sm://") {
			raw = "secret://" + strings.TrimPrefix(raw, "sm://")
		}
		ref, err := parseReference(raw)
		if err != nil {
			continue
		}
		if ref.version != "" {
			f.fallback[ref.canonical+"#"+ref.version] = value
			continue
		}
		f.fallback[ref.canonical] = value
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("secrets: fallback file read failed", zap.String("path", f.fallbackPath), zap.Error(err))
	}
}

// splitFallbackLine finds the '=' that ends the reference. Query parameters in the reference
// carry their own '=' and values may contain more.
func splitFallbackLine(line string) (string, string, bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		key := strings.TrimSpace(line[:i])
		if key == "" {
			return "", "", false
		}
		if _, query, hasQuery := strings.Cut(key, "?"); hasQuery {
			complete := true
			for _, part := range strings.Split(query, "&") {
				if !strings.Contains(part, "=") {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
		}
		return key, strings.TrimSpace(line[i+1:]), true
	}
	return "", "", false
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: reference has no secret name")
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func redact(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
