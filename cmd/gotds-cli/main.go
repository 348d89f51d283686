package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ha1tch/gotds/client"
	"github.com/ha1tch/gotds/config"
	"github.com/ha1tch/gotds/pkg/log"
	"github.com/ha1tch/gotds/pkg/version"
	"github.com/ha1tch/gotds/pool"
	"github.com/ha1tch/gotds/tds"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gotds-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configFile  = fs.String("c", "", "Configuration file path")
		configFileL = fs.String("config", "", "Configuration file path")

		host  = fs.String("host", "", "Server hostname")
		port  = fs.Int("port", 0, "Server port")
		user  = fs.String("user", "", "SQL authentication username")
		pass  = fs.String("password", "", "SQL authentication password")
		db    = fs.String("database", "", "Initial database")
		query = fs.String("query", "", "Run a single query and exit instead of starting the REPL")

		tlsMode   = fs.String("tls", "", "TLS mode: disabled, opportunistic, required, customTrust, strict")
		trustFile = fs.String("trust-file", "", "Custom CA trust bundle (for tls=customTrust)")
		watchFile = fs.Bool("watch-trust-file", false, "Hot-reload the trust bundle on change")

		maxConns = fs.Int("max-conns", 0, "Maximum pooled connections")
		minIdle  = fs.Int("min-idle", 0, "Minimum idle pooled connections")

		logLevel  = fs.String("log-level", "info", "Log level: debug, info, warn, error")
		logFormat = fs.String("log-format", "text", "Log format: text, json")

		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
		noBanner     = fs.Bool("no-banner", false, "Suppress startup banner")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *configFileL != "" {
		*configFile = *configFileL
	}
	if *showHelpL {
		*showHelp = true
	}
	if *showVersionL {
		*showVersion = true
	}

	if *showHelp {
		printUsage(stdout)
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	var opts []config.Option
	if *host != "" || *port != 0 {
		opts = append(opts, config.WithHostAndPort(*host, *port))
	}
	if *user != "" || *pass != "" {
		opts = append(opts, config.WithCredentials(*user, *pass))
	}
	if *db != "" {
		opts = append(opts, config.WithDatabase(*db))
	}
	if *tlsMode != "" {
		opts = append(opts, config.WithTLS(config.TLSMode(*tlsMode), *trustFile))
	}
	if *maxConns != 0 || *minIdle != 0 {
		opts = append(opts, config.WithPoolLimits(*maxConns, *minIdle, 0))
	}

	cfg, err := config.Load(*configFile, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "error loading config: %v\n", err)
		return 1
	}
	cfg.WatchTrustFile = *watchFile || cfg.WatchTrustFile

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	format := log.FormatText
	if *logFormat == "json" {
		format = log.FormatJSON
	}
	logCfg := log.DefaultConfig()
	logCfg.DefaultLevel = level
	logCfg.Format = format
	logCfg.Output = stderr
	logger := log.New(logCfg)

	poolCfg, err := cfg.BuildPoolConfig(logger)
	if err != nil {
		fmt.Fprintf(stderr, "error building pool config: %v\n", err)
		return 1
	}

	p := pool.New(poolCfg)
	defer p.Close()

	var tw *config.TrustWatcher
	if cfg.TLS == config.TLSCustomTrust && cfg.WatchTrustFile {
		tlsCfg := poolCfg.Handshake.TLSConfig
		tw, err = config.WatchTrustFile(cfg.TLSTrustFile, tlsCfg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error starting trust file watcher: %v\n", err)
			return 1
		}
		defer tw.Stop()
	}

	c := client.New(p, logger)
	defer c.Close()

	if !*noBanner && *query == "" {
		fmt.Fprint(stdout, `
    ___  __  __
   / _ \/ /_/ /
  / , _/ __/ _ \
 /_/|_/_/ /____/
`)
		fmt.Fprintf(stdout, "gotds-cli (version %s)\n", version.Version)
		fmt.Fprintf(stdout, "  Connected to: %s\n", cfg.Addr())
		if cfg.Database != "" {
			fmt.Fprintf(stdout, "  Database: %s\n", cfg.Database)
		}
		fmt.Fprintln(stdout, "Type SQL statements terminated by a newline, or 'exit' to quit.")
	}

	ctx := context.Background()

	if *query != "" {
		return runOneShot(ctx, c, stdout, stderr, *query)
	}
	return runREPL(ctx, c, stdin, stdout, stderr)
}

func runOneShot(ctx context.Context, c *client.Client, stdout, stderr io.Writer, sql string) int {
	if err := execAndPrint(ctx, c, stdout, sql); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runREPL(ctx context.Context, c *client.Client, stdin io.Reader, stdout, stderr io.Writer) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lineCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		close(lineCh)
	}()

	for {
		fmt.Fprint(stdout, "gotds> ")

		select {
		case sig := <-sigCh:
			fmt.Fprintf(stdout, "\nreceived %s, shutting down\n", sig.String())
			return 0

		case line, ok := <-lineCh:
			if !ok {
				fmt.Fprintln(stdout)
				return 0
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return 0
			}

			reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := execAndPrint(reqCtx, c, stdout, line)
			cancel()
			if err != nil {
				fmt.Fprintf(stderr, "error: %v\n", err)
			}
		}
	}
}

func execAndPrint(ctx context.Context, c *client.Client, stdout io.Writer, sql string) error {
	res, err := c.Query(ctx, sql)
	if err != nil {
		return err
	}

	for _, msg := range res.Messages {
		fmt.Fprintf(stdout, "-- %s\n", msg.Message)
	}

	for i, rs := range res.ResultSets {
		if len(rs.Rows) == 0 {
			fmt.Fprintf(stdout, "(%d rows affected)\n", rs.Done.RowCount)
			continue
		}
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		printResultSet(stdout, rs.Rows)
	}

	if res.ReturnStatus != nil {
		fmt.Fprintf(stdout, "return status: %d\n", *res.ReturnStatus)
	}
	return nil
}

func printResultSet(stdout io.Writer, rows []tds.Row) {
	if len(rows) == 0 {
		return
	}
	names := make([]string, len(rows[0].Columns))
	for i, col := range rows[0].Columns {
		names[i] = col.Name
	}
	fmt.Fprintln(stdout, strings.Join(names, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row.Values))
		for i, v := range row.Values {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(stdout, strings.Join(cells, "\t"))
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `gotds-cli - interactive client for the TDS wire protocol

Usage:
  gotds-cli [options]

Connection Options:
  -c, --config <file>       Configuration file path
  --host <host>             Server hostname
  --port <port>             Server port
  --user <name>             SQL authentication username
  --password <pass>         SQL authentication password
  --database <name>         Initial database

TLS Options:
  --tls <mode>              disabled, opportunistic, required, customTrust, strict
  --trust-file <path>       Custom CA trust bundle
  --watch-trust-file        Hot-reload the trust bundle on change

Pool Options:
  --max-conns <n>           Maximum pooled connections
  --min-idle <n>            Minimum idle pooled connections

Logging:
  --log-level <level>       debug, info, warn, error (default: info)
  --log-format <format>     text, json (default: text)

Query Mode:
  --query <sql>             Run a single query and exit instead of starting the REPL

General:
  -h, --help                Show help
  -v, --version              Show version
  --no-banner               Suppress startup banner

Examples:
  gotds-cli --host db.internal --user sa --password secret --database master
  gotds-cli -c ./gotds.json --query "SELECT @@VERSION"

Exit Codes:
  0  Success
  1  Runtime error
  2  CLI usage error
`)
}
