package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/storeauth/internal/rate"
	"github.com/MrEthical07/storeauth/session"
)

var (
	ltSessions    int
	ltConcurrency int
	ltOps         int
	ltRedisAddr   string
	ltPrefix      string
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure session validation and rate-limit latency against Redis",
	Long: `Seeds sessions in Redis, then runs a validate phase (sliding-expiry
session lookups) and a consume phase (refilling-bucket updates) with
concurrent workers. Without --redis-addr or REDIS_ADDR an embedded
miniredis is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ltSessions <= 0 || ltConcurrency <= 0 || ltOps <= 0 {
			return fmt.Errorf("sessions, concurrency, and ops must be > 0")
		}
		ctx := cmd.Context()

		client, cleanup, err := loadtestRedis(ltRedisAddr)
		if err != nil {
			return err
		}
		defer cleanup()

		manager := session.NewManager(session.NewRedisStore(client, ltPrefix), session.DefaultConfig())

		tokens := make([]string, ltSessions)
		fmt.Printf("seeding %d sessions...\n", ltSessions)
		startSeed := time.Now()
		for i := range tokens {
			token, _, err := manager.Create(ctx, fmt.Sprintf("u%d", i%1000), session.Flags{}, "127.0.0.1", "loadtest", false)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			tokens[i] = token
		}
		fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

		bucket, err := rate.NewRefillingBucket(rate.NewRedisStore(client, ltPrefix+"rl"), "loadtest", 20, time.Second)
		if err != nil {
			return err
		}

		validateStats := runPhase(ltOps, ltConcurrency, 7919, func(r *rand.Rand) error {
			_, err := manager.Validate(ctx, tokens[r.Intn(len(tokens))])
			return err
		})
		consumeStats := runPhase(ltOps, ltConcurrency, 6151, func(r *rand.Rand) error {
			_, _, err := bucket.Consume(ctx, fmt.Sprintf("ip-%d", r.Intn(ltSessions)), 1)
			return err
		})

		fmt.Println("---- results ----")
		printStats("validate", validateStats)
		printStats("consume", consumeStats)
		return nil
	},
}

func loadtestRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

// runPhase spreads ops calls of op over concurrency workers and records
// the latency of each call.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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

func init() {
	rootCmd.AddCommand(loadtestCmd)
	loadtestCmd.Flags().IntVar(&ltSessions, "sessions", 10000, "Number of sessions to seed")
	loadtestCmd.Flags().IntVar(&ltConcurrency, "concurrency", 64, "Number of concurrent workers")
	loadtestCmd.Flags().IntVar(&ltOps, "ops", 100000, "Operations per phase")
	loadtestCmd.Flags().StringVar(&ltRedisAddr, "redis-addr", "", "Redis address; REDIS_ADDR or miniredis when empty")
	loadtestCmd.Flags().StringVar(&ltPrefix, "prefix", "lt", "Key prefix")
}
