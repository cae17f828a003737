package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plantops.org/internal/metrics"
	"plantops.org/internal/session"
	"plantops.org/internal/upstream"
)

// opsctl is a terminal companion to the dashboard: it logs in against a
// running plantops API, keeps the credential in a session guard, and
// renders the same reports the web UI shows.
func main() {
	log.SetFlags(0)
	var (
		baseURL = flag.String("api", envOr("PLANTOPS_API_URL", "http://localhost:8080"), "plantops API base URL")
		timeout = flag.Duration("timeout", 10*time.Second, "per-request timeout")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// The guard resolves identities through the client, and the client
	// reads its bearer token from the guard.
	var guard *session.Guard
	client := upstream.NewClient(*baseURL, upstream.WithCredentialSource(func() (string, bool) {
		return guard.Credential()
	}))
	guard = session.NewGuard(client, session.WithResolveTimeout(*timeout))

	agg := metrics.NewAggregator(client,
		metrics.WithSessionGuard(guard),
		metrics.WithOEECache(),
	)

	switch flag.Arg(0) {
	case "login":
		runLogin(ctx, client, guard)
	case "whoami":
		restoreSession(ctx, guard)
		runWhoami(ctx, guard)
	case "summary":
		restoreSession(ctx, guard)
		runSummary(ctx, agg)
	case "oee":
		restoreSession(ctx, guard)
		runOEE(ctx, agg, flag.Args()[1:])
	case "trend":
		restoreSession(ctx, guard)
		runTrend(ctx, agg, flag.Args()[1:])
	case "orders":
		restoreSession(ctx, guard)
		runOrders(ctx, agg)
	case "machines":
		restoreSession(ctx, guard)
		runMachines(ctx, agg)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: opsctl [flags] <command>

commands:
  login               prompt-free login: reads PLANTOPS_USER / PLANTOPS_PASS
  whoami              show the resolved identity
  summary             dashboard summary (orders, machines, production)
  oee <machine> <start> <end>
                      OEE report for a machine over an RFC3339 window
  trend [hours]       hourly production trend (default 12 hours)
  orders              order counts grouped by status
  machines            machine status histogram`)
	os.Exit(2)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runLogin(ctx context.Context, client *upstream.Client, guard *session.Guard) {
	username := os.Getenv("PLANTOPS_USER")
	password := os.Getenv("PLANTOPS_PASS")
	if username == "" || password == "" {
		log.Fatal("set PLANTOPS_USER and PLANTOPS_PASS")
	}
	token, err := client.Login(ctx, username, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	guard.SetCredential(ctx, token)
	if err := guard.WaitResolved(ctx); err != nil {
		log.Fatalf("resolve identity: %v", err)
	}
	identity, ok := guard.Identity()
	if !ok {
		log.Fatal("login accepted but identity did not resolve")
	}
	if err := saveToken(token); err != nil {
		log.Fatalf("save token: %v", err)
	}
	fmt.Printf("logged in as %s (%s)\n", identity.Username, identity.Role)
}

// restoreSession loads the saved token into the guard and waits for the
// identity to resolve. Commands needing auth call this first.
func restoreSession(ctx context.Context, guard *session.Guard) {
	token, err := loadToken()
	if err != nil {
		log.Fatal("not logged in: run `opsctl login` first")
	}
	guard.SetCredential(ctx, token)
	if err := guard.WaitResolved(ctx); err != nil {
		log.Fatalf("resolve identity: %v", err)
	}
	if _, ok := guard.Identity(); !ok {
		log.Fatal("stored token rejected: run `opsctl login` again")
	}
}

func runWhoami(ctx context.Context, guard *session.Guard) {
	identity, ok := guard.Identity()
	if !ok {
		log.Fatal("not authenticated")
	}
	fmt.Printf("%s\t%s\t%s\n", identity.Username, identity.Role, identity.FullName)
}

func runSummary(ctx context.Context, agg *metrics.Aggregator) {
	summary, err := agg.DashboardSummary(ctx)
	if err != nil {
		log.Fatalf("summary: %v", err)
	}
	fmt.Printf("active orders:   %d\n", summary.ActiveOrderCount)
	fmt.Printf("machines:        %d\n", summary.MachineCount)
	fmt.Printf("total produced:  %d\n", summary.TotalProduced)
	fmt.Printf("avg priority:    %.2f\n", summary.AvgPriority)
	fmt.Printf("total quantity:  %d\n", summary.TotalQuantity)
}

func runOEE(ctx context.Context, agg *metrics.Aggregator, args []string) {
	if len(args) != 3 {
		log.Fatal("usage: opsctl oee <machine> <start> <end>")
	}
	start, err := parseWhen(args[1])
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	end, err := parseWhen(args[2])
	if err != nil {
		log.Fatalf("end: %v", err)
	}
	report, err := agg.OEE(ctx, args[0], start, end)
	if err != nil {
		log.Fatalf("oee: %v", err)
	}
	fmt.Printf("machine:       %s\n", report.MachineID)
	fmt.Printf("availability:  %.4f\n", report.Availability)
	fmt.Printf("performance:   %.4f\n", report.Performance)
	fmt.Printf("quality:       %.4f\n", report.Quality)
	fmt.Printf("oee:           %.4f\n", report.OEE)
}

func runTrend(ctx context.Context, agg *metrics.Aggregator, args []string) {
	hours := 12
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &hours); err != nil || hours <= 0 {
			log.Fatal("hours must be a positive integer")
		}
	}
	points, err := agg.ProductionTrend(ctx, hours)
	if err != nil {
		log.Fatalf("trend: %v", err)
	}
	for _, p := range points {
		fmt.Printf("%s\t%d\t%d\n", p.Hour.Format("2006-01-02 15:04"), p.Produced, p.Good)
	}
}

func runOrders(ctx context.Context, agg *metrics.Aggregator) {
	counts, err := agg.OrdersByStatusReport(ctx)
	if err != nil {
		log.Fatalf("orders: %v", err)
	}
	for _, sc := range counts {
		fmt.Printf("%-12s %d\n", sc.Status, sc.Count)
	}
}

func runMachines(ctx context.Context, agg *metrics.Aggregator) {
	hist, err := agg.MachineStatuses(ctx)
	if err != nil {
		log.Fatalf("machines: %v", err)
	}
	for status, n := range hist {
		fmt.Printf("%-12s %d\n", status, n)
	}
}

func parseWhen(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plantops", "token"), nil
}

func saveToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

func loadToken() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", os.ErrNotExist
	}
	return token, nil
}
