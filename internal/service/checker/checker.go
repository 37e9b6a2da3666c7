package checker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/mirror"
	"github.com/dtq1997/steamshelf-updater/internal/repository/manifest"
	"github.com/dtq1997/steamshelf-updater/internal/repository/state"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

// DefaultTimeout bounds a single mirror attempt.
const DefaultTimeout = 10 * time.Second

// checkKey is the single-flight key shared by background and manual checks.
const checkKey = "check"

var (
	// ErrNoSources is returned by New when no mirror is configured.
	ErrNoSources = errors.New("no update mirrors configured")
	// errNoPlatformURLs marks a newer manifest that cannot serve this platform.
	errNoPlatformURLs = errors.New("no download urls for platform")
)

// Status is the outcome of an update check.
type Status int

const (
	// StatusUnknown means every mirror failed; hosts treat it as "no update".
	StatusUnknown Status = iota
	// StatusUpToDate means the running version is the latest or newer.
	StatusUpToDate
	// StatusAvailable means a newer release is published.
	StatusAvailable
)

// String returns a lower-case name for logs.
func (s Status) String() string {
	switch s {
	case StatusUpToDate:
		return "up-to-date"
	case StatusAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// Result is what a check resolved to.
type Result struct {
	// Status is the check outcome.
	Status Status
	// Current is the running version.
	Current release.Version
	// Latest is the published version; zero when the status is unknown.
	Latest release.Version
	// Manifest is the manifest of the winning mirror.
	Manifest *release.Manifest
	// Mirror names the mirror that answered.
	Mirror string
	// Mandatory is set when the running version is below the manifest's minimum.
	Mandatory bool
	// Manual is set for checks the user asked for.
	Manual bool
	// Notify tells the host to show the result to the user.
	Notify bool
	// Err explains an unknown status. It is informational only.
	Err error
	// CheckedAt is when the check resolved.
	CheckedAt time.Time
}

// UpdateAvailable reports whether a newer release was found.
func (r Result) UpdateAvailable() bool {
	return r.Status == StatusAvailable
}

// Notice is the update notification currently offered to the user.
type Notice struct {
	// Version is the advertised release.
	Version release.Version
	// Changelog is the release summary.
	Changelog string
	// Mandatory mirrors Result.Mandatory.
	Mandatory bool
}

// IsZero reports whether there is nothing to show.
func (n Notice) IsZero() bool {
	return n.Version.IsZero()
}

// Options configure a Checker.
type Options struct {
	// Sources return raw manifest bodies in priority order.
	Sources []mirror.Provider[[]byte]
	// Current is the running version.
	Current release.Version
	// Platform selects the download URLs; the source archive when empty.
	Platform release.Platform
	// Timeout bounds every mirror attempt; DefaultTimeout when zero.
	Timeout time.Duration
	// State persists the dismissed notification; optional.
	State state.Repository
	// Deliver receives every result. It is the host's hand-off to its UI thread
	// and must not block for long.
	Deliver func(Result)
	// Now returns the current time; time.Now when nil.
	Now func() time.Time
}

// Checker discovers whether a newer release is published.
type Checker struct {
	opts  Options
	group singleflight.Group
	wg    sync.WaitGroup
	ready chan struct{}

	// stateMu serializes read-modify-write cycles on the state file.
	stateMu sync.Mutex

	mu        sync.Mutex
	starting  bool
	running   bool
	latest    *Result
	notice    Notice
	notified  map[release.Version]struct{}
	dismissed string
	loaded    bool
}

// NewHTTPSources builds manifest sources for mirror URLs.
func NewHTTPSources(urls []string, userAgent string, client *http.Client) []mirror.Provider[[]byte] {
	sources := make([]mirror.Provider[[]byte], 0, len(urls))
	for _, u := range urls {
		sources = append(sources, &mirror.HTTPSource{URL: u, UserAgent: userAgent, Client: client})
	}

	return sources
}

// New creates a Checker.
func New(opts Options) (*Checker, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSources
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Platform == "" {
		opts.Platform = release.PlatformSource
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Checker{
		opts:     opts,
		ready:    make(chan struct{}),
		notified: make(map[release.Version]struct{}),
	}, nil
}

// UserAgent returns the User-Agent sent to mirrors for the running version.
func (c *Checker) UserAgent() string {
	return version.UserAgentFor(c.opts.Current.String())
}

// Check runs one lookup synchronously and joins a lookup already in flight
// instead of starting another one. It never fails: errors end up in
// Result.Err and a StatusUnknown result. Unlike CheckNow it neither records
// nor delivers the result.
func (c *Checker) Check(ctx context.Context) Result {
	value, _, _ := c.group.Do(checkKey, func() (any, error) {
		c.mu.Lock()
		c.running = true
		c.starting = false
		c.mu.Unlock()

		res := c.lookup(ctx)

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()

		return res, nil
	})

	res, _ := value.(Result)

	return res
}

func (c *Checker) lookup(ctx context.Context) Result {
	ctx = logger.WithName(ctx, "update-checker")

	res := Result{Status: StatusUnknown, Current: c.opts.Current}

	providers := make([]mirror.Provider[*release.Manifest], 0, len(c.opts.Sources))
	for _, source := range c.opts.Sources {
		providers = append(providers, mirror.Decoded(source, c.decode))
	}

	found, err := mirror.First(ctx, c.opts.Timeout, providers...)
	res.CheckedAt = c.opts.Now()

	if err != nil {
		logger.WarnKV(ctx, "Update check failed", "error", err)

		res.Err = err

		return res
	}

	m := found.Value
	latest, _ := m.ParsedVersion()

	res.Latest = latest
	res.Manifest = m
	res.Mirror = found.Provider

	if !c.opts.Current.Less(latest) {
		res.Status = StatusUpToDate

		logger.InfoKV(ctx, "Already on the latest version", "version", c.opts.Current.String(), "mirror", found.Provider)

		return res
	}

	res.Status = StatusAvailable

	if minVersion, ok, _ := m.ParsedMinVersion(); ok && c.opts.Current.Less(minVersion) {
		res.Mandatory = true
	}

	logger.InfoKV(ctx, "Update available",
		"current", c.opts.Current.String(), "latest", latest.String(),
		"mandatory", res.Mandatory, "mirror", found.Provider)

	return res
}

// decode parses a body and rejects newer manifests that list URLs for other
// platforms only, so the lookup moves on to the next mirror.
func (c *Checker) decode(data []byte) (*release.Manifest, error) {
	m, err := manifest.Decode(data)
	if err != nil {
		return nil, err
	}

	latest, _ := m.ParsedVersion()
	if !c.opts.Current.Less(latest) || m.DownloadURLs.IsZero() {
		return m, nil
	}

	if len(m.URLsFor(c.opts.Platform)) == 0 {
		return nil, fmt.Errorf("%w %s", errNoPlatformURLs, c.opts.Platform)
	}

	return m, nil
}

// Start launches a background check and returns immediately. It reports
// false when a check is already running; no second lookup is started then.
func (c *Checker) Start(ctx context.Context) bool {
	c.mu.Lock()
	if c.starting || c.running {
		c.mu.Unlock()
		return false
	}

	c.starting = true
	c.mu.Unlock()

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.run(ctx, false)
	}()

	return true
}

// CheckNow runs a manual check. It joins a check that is already in flight
// instead of starting another one. The result is always delivered.
func (c *Checker) CheckNow(ctx context.Context) Result {
	return c.run(ctx, true)
}

// InProgress reports whether a check is running.
func (c *Checker) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.starting || c.running
}

// Wait blocks until the first result of this session arrives.
func (c *Checker) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.ready:
		res, _ := c.Latest()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Latest returns the most recent result. The flag is false before any check resolved.
func (c *Checker) Latest() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest == nil {
		return Result{}, false
	}

	return *c.latest, true
}

// Notice returns the notification to show; zero when there is none.
func (c *Checker) Notice() Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.notice
}

// Dismiss hides the current notice and remembers the version across sessions.
func (c *Checker) Dismiss(ctx context.Context) error {
	c.mu.Lock()
	dismissed := c.notice.Version
	c.notice = Notice{}

	if !dismissed.IsZero() {
		c.dismissed = dismissed.String()
	}
	c.mu.Unlock()

	if dismissed.IsZero() || c.opts.State == nil {
		return nil
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	n := c.loadState(ctx)
	n.DismissedVersion = dismissed.String()

	if err := c.opts.State.Save(ctx, n); err != nil {
		return fmt.Errorf("save dismissed version: %w", err)
	}

	return nil
}

// Close waits for background checks to return. Cancel their context first
// to make it quick.
func (c *Checker) Close() {
	c.wg.Wait()
}

func (c *Checker) run(ctx context.Context, manual bool) Result {
	res := c.Check(ctx)

	// A manual call that joined a background check can land here before the
	// background caller cleared its pending flag.
	if !manual {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}

	res.Manual = manual
	res = c.record(ctx, res)

	if c.opts.Deliver != nil {
		c.opts.Deliver(res)
	}

	return res
}

// record stores res, decides whether the user is told and updates the notice.
func (c *Checker) record(ctx context.Context, res Result) Result {
	dismissed := c.dismissedVersion(ctx)

	c.mu.Lock()

	switch {
	case res.Manual:
		res.Notify = true
	case res.Status != StatusAvailable:
		// Nothing to offer.
	case res.Latest.String() == dismissed:
		logger.DebugKV(ctx, "Update notice was dismissed earlier", "version", dismissed)
	default:
		if _, seen := c.notified[res.Latest]; !seen {
			res.Notify = true
		}
	}

	if res.Status == StatusAvailable && res.Notify {
		c.notified[res.Latest] = struct{}{}
		c.notice = Notice{
			Version:   res.Latest,
			Changelog: res.Manifest.Changelog,
			Mandatory: res.Mandatory,
		}
	}

	first := c.latest == nil
	stored := res
	c.latest = &stored

	c.mu.Unlock()

	if first {
		close(c.ready)
	}

	c.saveState(ctx, res)

	return res
}

// dismissedVersion lazily loads the persisted dismissed version once.
func (c *Checker) dismissedVersion(ctx context.Context) string {
	c.mu.Lock()
	loaded := c.loaded || c.opts.State == nil
	dismissed := c.dismissed
	c.mu.Unlock()

	if loaded {
		return dismissed
	}

	n := c.loadState(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.loaded = true

		// A dismissal in this session wins over the stored one.
		if c.dismissed == "" {
			c.dismissed = n.DismissedVersion
		}
	}

	return c.dismissed
}

func (c *Checker) loadState(ctx context.Context) *state.Notification {
	n, err := c.opts.State.Load(ctx)
	if err == nil {
		return n
	}

	if !errors.Is(err, state.ErrNotFound) {
		logger.WarnKV(ctx, "Unable to read update state", "error", err)
	}

	return new(state.Notification)
}

func (c *Checker) saveState(ctx context.Context, res Result) {
	if c.opts.State == nil || res.Status == StatusUnknown {
		return
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	n := c.loadState(ctx)
	n.LastCheck = res.CheckedAt

	if res.Notify && res.Status == StatusAvailable {
		n.LastNotified = res.Latest.String()
	}

	if err := c.opts.State.Save(ctx, n); err != nil {
		logger.WarnKV(ctx, "Unable to save update state", "error", err)
	}
}
