package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/graphcache"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/defistate/defistate-router-go/router"
	"github.com/defistate/defistate-router-go/streams/jsonrpc/client"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientSnapshotBufferSize = 100
	localSnapshotID                 = "local"
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeSnapshot remembers which snapshot the console works on.
type SafeSnapshot struct {
	mu sync.RWMutex
	id string
}

func (s *SafeSnapshot) Update(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *SafeSnapshot) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

type flags struct {
	pools        string
	upstream     string
	from         string
	to           string
	amount       string
	hops         int
	scan         bool
	minProfitBps float64
	borrow       float64
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.pools, "pools", "", "JSON file holding a pool list to load as the local snapshot.")
	flag.StringVar(&f.upstream, "upstream", "", "Router snapshot stream to follow (ws://host:port/ws).")
	flag.StringVar(&f.from, "from", "", "Source asset; with -to, prints one route and exits.")
	flag.StringVar(&f.to, "to", "", "Destination asset.")
	flag.StringVar(&f.amount, "amount", "1", "Input amount for -from/-to.")
	flag.IntVar(&f.hops, "hops", 0, "Maximum hops. Zero uses the router default.")
	flag.BoolVar(&f.scan, "scan", false, "Print an arbitrage scan and exit.")
	flag.Float64Var(&f.minProfitBps, "min-profit-bps", grapher.DefaultScanParams().MinProfitBps, "Minimum net profit of a reported cycle.")
	flag.Float64Var(&f.borrow, "borrow", grapher.DefaultMaxBorrowAmount, "Flash loan amount priced by -scan.")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile("console.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check console.log for details." + Reset)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. INITIALIZE ROUTER ---
	cache, err := graphcache.New(rootLogger.With("component", "graphcache"))
	if err != nil {
		rootLogger.Error("Failed to initialize Graph Cache", "error", err)
		closeApp()
	}
	r, err := router.New(router.WithLogger(rootLogger.With("component", "router")), router.WithGraphCache(cache))
	if err != nil {
		rootLogger.Error("Failed to initialize Router", "error", err)
		closeApp()
	}

	current := &SafeSnapshot{}
	if f.pools != "" {
		if err := loadPools(cache, f.pools); err != nil {
			rootLogger.Error("Failed to load pools", "path", f.pools, "error", err)
			closeApp()
		}
		current.Update(localSnapshotID)
	}

	// --- 3. ONE-SHOT MODE ---
	if f.from != "" || f.scan {
		if current.Get() == "" {
			fmt.Println(Red + "[ERROR] one-shot mode needs -pools" + Reset)
			os.Exit(2)
		}
		g, err := r.Graph(current.Get())
		if err != nil {
			fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
			os.Exit(1)
		}
		if f.from != "" {
			runRoute(ctx, r, g, engine.RouteRequest{SourceAsset: f.from, DestinationAsset: f.to, InputAmount: f.amount, MaxHops: f.hops})
		}
		if f.scan {
			params := r.Config().Scan
			params.MinProfitBps = f.minProfitBps
			params.MaxBorrowAmount = f.borrow
			runScan(ctx, r, g, params)
		}
		return
	}

	// --- 4. FOLLOW STREAM ---
	var (
		updates <-chan *engine.Snapshot
		errs    <-chan error
	)
	if f.upstream != "" {
		stream, err := client.NewClient(ctx, client.Config{
			URL:        f.upstream,
			Logger:     rootLogger.With("component", "jsonrpc-client"),
			BufferSize: DefaultClientSnapshotBufferSize,
			Store:      cache,
		})
		if err != nil {
			rootLogger.Error("Failed to initialize Client", "url", f.upstream, "error", err)
			closeApp()
		}
		updates, errs = stream.Updates(), stream.Err()
	}

	// --- 5. START CONSOLE & UPDATE LOOP ---
	fmt.Println(Green + "Starting Router Console..." + Reset)
	fmt.Println("Logs are being written to 'console.log'")
	go runConsole(ctx, r, current)

	for {
		select {
		case snapshot := <-updates:
			current.Update(snapshot.ID)

		case err, ok := <-errs:
			if ok {
				rootLogger.Error("Fatal client error", "error", err)
				closeApp()
			}
			errs = nil

		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			return
		}
	}
}

func loadPools(cache *graphcache.Cache, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pools []engine.PoolEdge
	if err := json.Unmarshal(data, &pools); err != nil {
		return fmt.Errorf("parse pools: %w", err)
	}
	return cache.Put(&engine.Snapshot{ID: localSnapshotID, Version: 1, Timestamp: time.Now(), Pools: pools})
}

// runConsole handles user input and display.
func runConsole(ctx context.Context, r *router.Router, current *SafeSnapshot) {
	reader := bufio.NewReader(os.Stdin)
	time.Sleep(500 * time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			return
		}
		handleCommand(ctx, strings.TrimSpace(input), r, current, reader)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "ROUTER CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Snapshot Summary\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Pools For Asset\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Neighbors  %s(one hop)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Route      %s(best rate)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Quote      %s(exact output)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s6.%s Arbitrage  %s(cycle scan)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s7.%s MEV Check\n", Cyan, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sh.%s Help\n", Yellow, Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func handleCommand(ctx context.Context, input string, r *router.Router, current *SafeSnapshot, reader *bufio.Reader) {
	switch input {
	case "h":
		printHelp()
		return
	case "q":
		exitConsole()
	case "7":
		checkMEV(r, reader)
		return
	}

	id := current.Get()
	if id == "" {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first snapshot... (Check connection/logs)" + Reset)
		return
	}
	snapshot, _ := r.Cache().Snapshot(id)
	g, err := r.Graph(id)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}

	switch input {
	case "1":
		printSnapshotSummary(snapshot, g)
	case "2":
		printPoolsForAsset(g, prompt(reader, "[Pools] Asset: "))
	case "3":
		printNeighbors(g, prompt(reader, "[Neighbors] Asset: "))
	case "4":
		runRoute(ctx, r, g, engine.RouteRequest{
			SourceAsset:      prompt(reader, "[Route] From: "),
			DestinationAsset: prompt(reader, "[Route] To: "),
			InputAmount:      prompt(reader, "[Route] Amount: "),
		})
	case "5":
		runQuote(ctx, r, g, reader)
	case "6":
		runScan(ctx, r, g, r.Config().Scan)
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print("\n" + Bold + label + Reset)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func printHelp() {
	fmt.Print("\033[H\033[2J")

	header("ROUTER")
	fmt.Println("Pools are undirected edges between assets. Every swap direction is")
	fmt.Println("weighted by -ln(rate), so the best route is the lightest path and a")
	fmt.Println("profitable cycle is a negative one.")
	fmt.Println("")
	fmt.Println(Bold + "Snapshots" + Reset + " come from -pools or a followed router stream.")
	fmt.Println(Bold + "Quotes" + Reset + " invert the best unit route and add a slippage margin.")
	fmt.Println(Bold + "Scans" + Reset + " price cycles as flash-loan funded trades after fee and gas.")
}

func printSnapshotSummary(snapshot *engine.Snapshot, g *grapher.Graph) {
	header("SNAPSHOT")
	fmt.Printf(" %s%-10s%s %s\n", Gray, "ID:", Reset, snapshot.ID)
	fmt.Printf(" %s%-10s%s %d\n", Gray, "Version:", Reset, snapshot.Version)
	fmt.Printf(" %s%-10s%s %d\n", Gray, "Assets:", Reset, len(g.Assets()))
	fmt.Printf(" %s%-10s%s %d (%d directed edges)\n", Gray, "Pools:", Reset, len(g.Pools()), g.NumEdges())

	rejected := g.Rejected()
	if len(rejected) == 0 {
		return
	}
	header("REJECTED POOLS")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "INDEX\tPOOL\tREASON\t")
	fmt.Fprintln(w, "-----\t----\t------\t")
	for _, edge := range rejected {
		fmt.Fprintf(w, "%d\t%s\t%s\t\n", edge.Index, edge.Pool.Key(), edge.Reason)
	}
	w.Flush()
}

func printPoolsForAsset(g *grapher.Graph, asset string) {
	keys := g.PoolsForAsset(asset)
	if len(keys) == 0 {
		fmt.Println(Yellow + "[INFO] Asset has no usable pools." + Reset)
		return
	}
	header("POOLS FOR " + strings.ToUpper(asset))
	for _, key := range keys {
		fmt.Println(" " + key)
	}
}

func printNeighbors(g *grapher.Graph, asset string) {
	neighbors := g.Neighbors(asset)
	if len(neighbors) == 0 {
		fmt.Println(Yellow + "[INFO] Asset has no neighbors." + Reset)
		return
	}
	header("NEIGHBORS OF " + strings.ToUpper(asset))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ASSET\tRATE\tWEIGHT\tPROTOCOL\t")
	fmt.Fprintln(w, "-----\t----\t------\t--------\t")
	for _, n := range neighbors {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%s\t\n", n.Asset, n.Rate, n.Weight, n.Protocol)
	}
	w.Flush()
}

func runRoute(ctx context.Context, r *router.Router, g *grapher.Graph, req engine.RouteRequest) {
	res, err := r.FindRoute(ctx, g, req)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	if !res.Available {
		fmt.Printf(Yellow+"[UNAVAILABLE] %s%s\n", res.Reason, Reset)
		return
	}
	printRoute(*res.Route)
	fmt.Printf("\n%sFound in %s%s\n", Gray, res.Elapsed, Reset)
}

func printRoute(route engine.Route) {
	header("ROUTE " + strings.Join(route.Assets, " -> "))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "HOP\tPOOL\tPROTOCOL\tRATE\tIN\tOUT\t")
	fmt.Fprintln(w, "---\t----\t--------\t----\t--\t---\t")
	for i, hop := range route.Hops {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.6f\t%.7f\t%.7f\t\n", i+1, hop.PoolKey, hop.Protocol, hop.Rate, hop.AmountIn, hop.AmountOut)
	}
	w.Flush()
	fmt.Printf("\n %sOutput:%s %s%.7f%s | Impact %.4f%% | Liquidity %.4f\n",
		Gray, Reset, Bold, route.OutputAmount, Reset, route.PriceImpact*100, route.AggregateLiquidity)
	if route.NegativeCycleDetected {
		fmt.Println(Yellow + " [WARN] a profitable cycle is reachable from the source" + Reset)
	}
}

func runQuote(ctx context.Context, r *router.Router, g *grapher.Graph, reader *bufio.Reader) {
	req := engine.QuoteRequest{
		SourceAsset:       prompt(reader, "[Quote] From: "),
		DestinationAsset:  prompt(reader, "[Quote] To: "),
		DestinationAmount: prompt(reader, "[Quote] Receive: "),
	}
	if v := prompt(reader, "[Quote] Volatility index (blank for 0): "); v != "" {
		vol, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fmt.Printf(Red+"[ERROR] Invalid volatility: %v%s\n", err, Reset)
			return
		}
		req.VolatilityIndex = vol
	}

	res, err := r.Quote(ctx, g, req)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	if !res.Available {
		fmt.Printf(Yellow+"[UNAVAILABLE] %s%s\n", res.Reason, Reset)
		return
	}
	q := res.Quote
	header("QUOTE " + strings.Join(q.Path, " -> "))
	fmt.Printf(" %s%-14s%s %s\n", Gray, "Receive:", Reset, q.DestinationAmount)
	fmt.Printf(" %s%-14s%s %s\n", Gray, "Send:", Reset, q.SourceAmount)
	fmt.Printf(" %s%-14s%s %s%s%s\n", Gray, "Max send:", Reset, Bold, q.MaxSourceAmount, Reset)
	fmt.Printf(" %s%-14s%s %.2f bps\n", Gray, "Slippage:", Reset, q.SlippageBps)
	fmt.Printf(" %s%-14s%s %.8f\n", Gray, "Rate:", Reset, q.ExpectedRatio)
}

func runScan(ctx context.Context, r *router.Router, g *grapher.Graph, params grapher.ScanParams) {
	result, err := r.ScanArbitrage(ctx, g, params)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	header("ARBITRAGE")
	fmt.Printf(" %d candidates, %d below %.2f bps, %d steps in %s\n",
		result.Candidates, result.Filtered, params.MinProfitBps, result.Steps, result.Elapsed)
	if result.Truncated {
		fmt.Println(Yellow + " [WARN] scan budget ran out; results are partial" + Reset)
	}
	if len(result.Cycles) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "CYCLE\tPRODUCT\tNET\tBPS\t")
	fmt.Fprintln(w, "-----\t-------\t---\t---\t")
	for _, c := range result.Cycles {
		fmt.Fprintf(w, "%s\t%.6f\t%.4f\t%s%.2f%s\t\n", strings.Join(c.Assets, " -> "), c.CycleProduct, c.NetProfit, Green, c.ProfitBps, Reset)
	}
	w.Flush()
}

func checkMEV(r *router.Router, reader *bufio.Reader) {
	yes := func(label string) bool {
		answer := strings.ToLower(prompt(reader, label+" [y/N]: "))
		return answer == "y" || answer == "yes"
	}
	cfg := engine.MEVConfig{
		Enabled:            yes("[MEV] Protection enabled?"),
		PrivateMempool:     yes("[MEV] Private mempool?"),
		SandwichProtection: yes("[MEV] Sandwich protection?"),
	}
	if fee := prompt(reader, "[MEV] Max priority fee: "); fee != "" {
		v, err := strconv.ParseUint(fee, 10, 64)
		if err != nil {
			fmt.Printf(Red+"[ERROR] Invalid fee: %v%s\n", err, Reset)
			return
		}
		cfg.MaxPriorityFee = v
	}

	a := r.EvaluateMEV(cfg)
	header("MEV PROTECTION: " + strings.ToUpper(string(a.Level)))
	for _, warning := range a.Warnings {
		fmt.Println(" " + Yellow + "! " + Reset + warning)
	}
	for _, rec := range a.Recommendations {
		fmt.Println(" " + Green + "> " + Reset + rec)
	}
}

func exitConsole() {
	fmt.Println("Goodbye.")
	os.Exit(0)
}
