// Command cookieauth-loadtest measures login, renewal and logout throughput
// of a Manager over the selected backend. The redis backend runs on
// miniredis unless -redis-addr or REDIS_ADDR is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cookieauth"
	"github.com/MrEthical07/cookieauth/refresh"
	"github.com/MrEthical07/cookieauth/store/memstore"
	"github.com/MrEthical07/cookieauth/store/pgstore"
	"github.com/MrEthical07/cookieauth/store/redisstore"
)

type seeded struct {
	userID  string
	access  string
	refresh string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "cookieauth-lt", "redis key prefix")
		backend     = flag.String("backend", "redis", "memory, redis or postgres")
		postgresDSN = flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "postgres DSN for the postgres backend")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	repo, cleanup, err := openBackend(ctx, *backend, *redisAddr, *prefix, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s backend: %v\n", *backend, err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := cookieauth.DefaultConfig()
	cfg.JWT.SecretKey = "loadtest-secret-loadtest-secret!"
	cfg.JWT.AccessTTL = time.Hour
	manager, err := cookieauth.New().
		WithConfig(cfg).
		WithStore(repo).
		WithLogger(logger).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build manager: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	states, err := seed(ctx, manager, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	accessStats := runPhase(states, *ops, *concurrency, func(s *seeded) error {
		return authenticate(ctx, manager, cfg.Cookie.AccessName, s.access)
	})
	renewStats := runPhase(states, *ops, *concurrency, func(s *seeded) error {
		return authenticate(ctx, manager, cfg.Cookie.RefreshName, s.refresh)
	})
	revokeStats := runPhase(states, len(states), *concurrency, func(s *seeded) error {
		return revoke(ctx, manager, cfg.Cookie.RefreshName, s.refresh)
	})

	fmt.Println("---- results ----")
	printStats("access", accessStats)
	printStats("renew", renewStats)
	printStats("revoke", revokeStats)

	snap := manager.MetricsSnapshot()
	fmt.Printf("counters: access_valid=%d renewed=%d refresh_rejected=%d storage_fault=%d\n",
		snap.Counters[cookieauth.MetricAccessValid],
		snap.Counters[cookieauth.MetricAccessRenewed],
		snap.Counters[cookieauth.MetricRefreshRejected],
		snap.Counters[cookieauth.MetricStorageFault],
	)
}

func openBackend(ctx context.Context, backend, redisAddr, prefix, dsn string) (refresh.Repository, func(), error) {
	switch backend {
	case "memory":
		fmt.Println("using in-memory store")
		return memstore.New(), func() {}, nil
	case "redis":
		addr := redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		cleanup := func() {}
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			addr = mr.Addr()
			cleanup = mr.Close
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		repo, err := redisstore.New(client, redisstore.Options{Prefix: prefix})
		if err != nil {
			_ = client.Close()
			cleanup()
			return nil, nil, err
		}
		return repo, func() {
			_ = client.Close()
			cleanup()
		}, nil
	case "postgres":
		if dsn == "" {
			return nil, nil, fmt.Errorf("-postgres-dsn or POSTGRES_DSN is required")
		}
		if err := pgstore.Migrate(ctx, dsn); err != nil {
			return nil, nil, err
		}
		repo, err := pgstore.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		fmt.Println("using postgres")
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func seed(ctx context.Context, m *cookieauth.Manager, n int) ([]seeded, error) {
	accessName := m.Config().Cookie.AccessName
	out := make([]seeded, n)
	for i := range out {
		a := m.NewAuth(nil)
		userID := fmt.Sprintf("u-%d", i)
		if err := m.IssueSession(ctx, a, userID); err != nil {
			return nil, err
		}
		out[i] = seeded{userID: userID, refresh: a.RefreshToken}
		for _, c := range a.PendingCookies() {
			if c.Name == accessName {
				out[i].access = c.Value
			}
		}
	}
	return out, nil
}

func newRequest(cookieName, value string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "http://loadtest.local/", nil)
	r.RemoteAddr = "127.0.0.1:40000"
	r.AddCookie(&http.Cookie{Name: cookieName, Value: value})
	return r
}

func authenticate(ctx context.Context, m *cookieauth.Manager, cookieName, value string) error {
	a, err := m.Authenticate(ctx, newRequest(cookieName, value))
	if err != nil {
		return err
	}
	if !a.Authenticated() {
		return cookieauth.ErrUnauthorized
	}
	return nil
}

func revoke(ctx context.Context, m *cookieauth.Manager, cookieName, value string) error {
	a, err := m.Authenticate(ctx, newRequest(cookieName, value))
	if err != nil {
		return err
	}
	return m.EndSession(ctx, a)
}

// runPhase executes ops calls of fn spread over concurrency workers. The
// revoke phase passes len(states) so each session is revoked once.
func runPhase(states []seeded, ops, concurrency int, fn func(*seeded) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)
	sequential := ops == len(states)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := i
				if !sequential {
					idx = r.Intn(len(states))
				}
				t0 := time.Now()
				err := fn(&states[idx])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
