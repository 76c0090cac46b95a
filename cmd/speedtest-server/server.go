package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecatalog/speedtest/internal/handler"
	"github.com/filecatalog/speedtest/internal/netx"
	"github.com/filecatalog/speedtest/internal/ratelimit"
	"github.com/filecatalog/speedtest/pkg/speedtest/spec"
	"github.com/gorilla/handlers"
	"github.com/m-lab/access/controller"
	"github.com/m-lab/access/token"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
)

var (
	flagCertFile          = flag.String("cert", "", "The file with server certificates in PEM format.")
	flagKeyFile           = flag.String("key", "", "The file with server key in PEM format.")
	flagEndpoint          = flag.String("https_addr", ":4443", "Listen address/port for TLS connections")
	flagEndpointCleartext = flag.String("http_addr", ":4000", "Listen address/port for cleartext connections")
	flagBasePath          = flag.String("base_path", "/api", "Path prefix for the speed-test endpoints")
	flagDataDir           = flag.String("datadir", "./data", "Directory to store data in")
	flagSessionTTL        = flag.Duration("session_ttl", spec.DefaultSessionCacheTTL, "How long a measurement session is kept before being archived")
	flagRateLimit         = flag.Int("ratelimit.requests", 300, "Requests allowed per client and window (0 disables rate limiting)")
	flagRateWindow        = flag.Duration("ratelimit.window", time.Minute, "Rate limiting window")
	flagHeaderTimeout     = flag.Duration("header_timeout", 10*time.Second, "Maximum time to read request headers")
	flagIdleTimeout       = flag.Duration("idle_timeout", time.Minute, "Maximum time an idle keep-alive connection is kept open")
	flagShutdownTimeout   = flag.Duration("shutdown_timeout", 30*time.Second, "Maximum time to wait for in-flight requests on shutdown")
	flagDebug             = flag.Bool("debug", false, "Enable debug logging")
	tokenVerifyKey        = flagx.FileBytesArray{}
	tokenVerify           bool
	tokenMachine          string

	// Context for the whole program. It is cancelled on SIGINT or SIGTERM.
	ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
)

func init() {
	flag.Var(&tokenVerifyKey, "token.verify-key", "Public key for verifying access tokens")
	flag.BoolVar(&tokenVerify, "token.verify", false, "Verify access tokens")
	flag.StringVar(&tokenMachine, "token.machine", "", "Use given machine name to verify token claims")
}

// httpServer creates a new *http.Server with the provided address and
// handler, header and idle timeouts, and an empty TLS configuration.
//
// Connections accepted through a netx.Listener expose their ConnInfo to
// handlers via the request context.
func httpServer(addr string, handler http.Handler, headerTimeout, idleTimeout time.Duration) *http.Server {
	tlsconf := &tls.Config{}
	return &http.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsconf,
		// NOTE: only the request headers and idle keep-alive connections are
		// bounded. Bulk transfers on slow links can take minutes, and an
		// absolute read or write deadline would truncate them.
		ReadHeaderTimeout: headerTimeout,
		IdleTimeout:       idleTimeout,
		ConnContext:       netx.WithConnInfo,
	}
}

// serve runs srv on l until ctx is done, then shuts srv down, waiting up to
// shutdownTimeout for in-flight requests. TLS is used when certFile and
// keyFile are both set.
func serve(ctx context.Context, srv *http.Server, l net.Listener,
	certFile, keyFile string, shutdownTimeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			errc <- srv.ServeTLS(l, certFile, keyFile)
			return
		}
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	return srv.Shutdown(sctx)
}

// noContent answers browser probes such as /favicon.ico.
func noContent(rw http.ResponseWriter, req *http.Request) {
	rw.WriteHeader(http.StatusNoContent)
}

// newRootHandler mounts the speed-test endpoints under basePath, wrapped by
// the access control chain, and adds the process-level routes. The whole
// tree is rate limited per client and answers CORS requests from any origin.
func newRootHandler(h *handler.Handler, access func(http.Handler) http.Handler,
	limiter *ratelimit.Limiter, basePath string) http.Handler {
	api := http.NewServeMux()
	h.Register(api)

	root := http.NewServeMux()
	basePath = "/" + strings.Trim(basePath, "/")
	if basePath == "/" {
		root.Handle("/", access(api))
	} else {
		root.Handle(basePath+"/", http.StripPrefix(basePath, access(api)))
		root.HandleFunc("GET "+spec.HealthPath, handler.Health)
	}
	root.HandleFunc("GET /favicon.ico", noContent)
	root.HandleFunc("/.well-known/", noContent)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost}),
		handlers.AllowedHeaders([]string{"Content-Type", "Cache-Control", "Pragma"}),
	)
	return limiter.Then(cors(root))
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	// Initialize logging and metrics.
	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	v, err := token.NewVerifier(tokenVerifyKey.Get()...)
	if (tokenVerify) && err != nil {
		rtx.Must(err, "Failed to load verifier")
	}
	// Transfers go through the tx controller. Tokens are never required on
	// the speed-test paths.
	txPaths := controller.Paths{
		spec.DownloadPath: true,
		spec.UploadPath:   true,
	}
	tokenPaths := controller.Paths{}
	acm, _ := controller.Setup(ctx, v, tokenVerify, tokenMachine,
		txPaths, tokenPaths)

	speedtestHandler := handler.New(*flagDataDir, *flagSessionTTL)
	defer speedtestHandler.Close()
	limiter := ratelimit.New(*flagRateLimit, *flagRateWindow)
	defer limiter.Stop()

	root := newRootHandler(speedtestHandler, acm.Then, limiter, *flagBasePath)
	accessLog := log.StandardLog().Writer()

	var wg sync.WaitGroup
	start := func(addr, certFile, keyFile string) {
		srv := httpServer(addr, handlers.CombinedLoggingHandler(accessLog, root),
			*flagHeaderTimeout, *flagIdleTimeout)
		tcpl, err := net.Listen("tcp", srv.Addr)
		rtx.Must(err, "failed to create listener")
		l := netx.NewListener(tcpl.(*net.TCPListener))

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := serve(ctx, srv, l, certFile, keyFile, *flagShutdownTimeout)
			rtx.Must(err, "Server on %s failed", addr)
		}()
	}

	log.Info("About to listen for speed tests", "endpoint", *flagEndpointCleartext,
		"base_path", *flagBasePath)
	start(*flagEndpointCleartext, "", "")

	// Only start TLS-based services if certs and keys are provided
	if *flagCertFile != "" && *flagKeyFile != "" {
		log.Info("About to listen for TLS speed tests", "endpoint", *flagEndpoint)
		start(*flagEndpoint, *flagCertFile, *flagKeyFile)
	}

	<-ctx.Done()
	cancel()
	log.Info("Shutting down")
	// Wait for the servers so that the deferred handler Close archives the
	// sessions still in memory.
	wg.Wait()
}
