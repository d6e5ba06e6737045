// Command wiretap records an ARI application's raw event feed to a JSONL
// capture file for use as test fixtures, and sanitizes captures before they
// are committed.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/ari-calllog/internal/ari"
)

func main() {
	eventsURL := flag.String("url", "ws://127.0.0.1:8088/ari/events", "ARI events URL")
	app := flag.String("app", "calllog", "ARI application to subscribe")
	user := flag.String("user", "asterisk", "ARI username")
	password := flag.String("password", "", "ARI password")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if *password == "" {
		fmt.Fprintln(os.Stderr, "error: -password is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := capture(ctx, *eventsURL, *app, *user, *password, *outDir); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func capture(ctx context.Context, eventsURL, app, user, password, outDir string) error {
	u, err := ari.SubscriptionURL(eventsURL, app)
	if err != nil {
		return err
	}
	fmt.Printf("connecting to %s...\n", eventsURL)

	conn, err := ari.WebsocketDialer{}.Dial(ctx, u, ari.BasicAuth(user, password))
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".jsonl")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	fmt.Println("streaming events (ctrl+c to stop)...")

	var n int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("captured %d frames\n", n)
			return err
		}
		if _, err := f.Write(append(compactFrame(data), '\n')); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		n++
	}
}

// compactFrame puts a JSON frame on a single line. Frames that are not
// valid JSON are kept as they are, minus line breaks.
func compactFrame(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		return buf.Bytes()
	}
	return bytes.ReplaceAll(bytes.ReplaceAll(data, []byte("\r"), nil), []byte("\n"), []byte(" "))
}

var (
	ipPattern     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	numberPattern = regexp.MustCompile(`("number"\s*:\s*")\+?1?\d{10,}(")`)
	apiKeyPattern = regexp.MustCompile(`(api_key=)[^&"\s]+`)
)

func sanitizeLine(line string) string {
	line = apiKeyPattern.ReplaceAllString(line, "${1}REDACTED")

	// Redact IPs (but preserve localhost)
	line = ipPattern.ReplaceAllStringFunc(line, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})

	// External numbers only; extensions stay readable.
	return numberPattern.ReplaceAllString(line, "${1}+15550001234${2}")
}

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
