package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"golang.org/x/sync/errgroup"

	"github.com/szimmers/mock-indexeddb/internal/devseed"
	idbmock "github.com/szimmers/mock-indexeddb/mock/idb"
)

const requestIDHeader = "X-Request-Id"

var rootConfig struct {
	Addr        string
	Fixture     string
	Delay       time.Duration
	WaitTimeout time.Duration
	DebugLevel  int
}

var rootCmd = &cobra.Command{
	Use:   "idbsandbox",
	Short: "Serves the object-store engine mock over HTTP",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(rootConfig.DebugLevel)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&rootConfig.Addr, "addr", "a", ":8789", "listen address")
	rootCmd.Flags().StringVarP(&rootConfig.Fixture, "fixture", "f", os.Getenv("IDBSANDBOX_FIXTURE"), "JSON or YAML fixture with records and flags")
	rootCmd.Flags().DurationVar(&rootConfig.Delay, "delay", idbmock.DefaultDelay, "callback delay of every mock operation")
	rootCmd.Flags().DurationVar(&rootConfig.WaitTimeout, "wait-timeout", 5*time.Second, "how long a request waits for its callback")
	rootCmd.PersistentFlags().IntVarP(&rootConfig.DebugLevel, "debug", "d", 1, "0=error, 1=info, 2=debug, 3=trace")
}

func initLogging(debugLevel int) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		DisableSorting:  true,
		ForceFormatting: true,
		FullTimestamp:   true,
	})
	switch debugLevel {
	case 0:
		log.SetLevel(log.ErrorLevel)
	case 1:
		log.SetLevel(log.InfoLevel)
	case 2:
		log.SetLevel(log.DebugLevel)
	case 3:
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("Log level set to %d", debugLevel)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	m := idbmock.New(idbmock.WithDelay(rootConfig.Delay), idbmock.WithLogger(log.WithField("mock", "idb")))
	if rootConfig.Fixture != "" {
		fx, err := devseed.LoadFixture(rootConfig.Fixture)
		if err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
		if err := m.ApplyFixture(fx); err != nil {
			return fmt.Errorf("apply fixture: %w", err)
		}
		log.Infof("Seeded %d records from %s", len(fx.Records), rootConfig.Fixture)
	}

	sb := newSandbox(m, rootConfig.WaitTimeout)
	server := &http.Server{
		Addr:              rootConfig.Addr,
		Handler:           recoverMiddleware(requestIDMiddleware(loggingMiddleware(newRouter(sb)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      rootConfig.WaitTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Infof("idbsandbox listening on %s (delay %s)", rootConfig.Addr, rootConfig.Delay)
	fmt.Printf("export IDBSANDBOX_URL=http://%s\n", hostFromAddr(rootConfig.Addr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("shutdown error: %v", err)
		}
		m.Reset()
		return nil
	})
	return g.Wait()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	lrw.buf.Write(p)
	return lrw.ResponseWriter.Write(p)
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("panic: %v", rec)
				writeError(w, http.StatusInternalServerError, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var reqBody []byte
		if r.Body != nil {
			var err error
			reqBody, err = io.ReadAll(r.Body)
			if err != nil {
				log.Warnf("read request body error: %v", err)
			}
			r.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)

		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}
		entry := log.WithFields(log.Fields{
			"req":    r.Header.Get(requestIDHeader),
			"status": status,
			"took":   time.Since(start).Truncate(time.Microsecond),
		})
		entry.Infof("%s %s", r.Method, r.URL.RequestURI())
		entry.Debugf("request: %s response: %s", formatBodyForLog(reqBody), formatBodyForLog(lrw.buf.Bytes()))
	})
}

func hostFromAddr(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		return "localhost"
	}
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return host
}

func formatBodyForLog(body []byte) string {
	if len(body) == 0 {
		return "<empty>"
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<whitespace>"
	}
	return trimmed
}
