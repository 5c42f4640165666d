// Command fakekms runs the in-memory KMS stand-in (internal/fakekms) as a
// standalone process, for integration tests that want to exercise
// kmsiface.Client against a real wire transport. On startup it prints the
// listener's host:port to stdout as a single line, then blocks until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/kms-token-provider/internal/fakekms"
	"github.com/kenneth/kms-token-provider/internal/middleware"
	"github.com/kenneth/kms-token-provider/internal/registry"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:0", "address to listen on")
	seed := flag.Bool("seed", true, "seed one RSA-PSS-2048 key-version on startup")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // stdout is reserved for the banner line; keep noise on stderr
	logger.SetOutput(os.Stderr)

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakekms: listen: %v\n", err)
		os.Exit(1)
	}

	server := fakekms.NewServer()
	if *seed {
		if _, err := server.CreateKey("projects/p/locations/l/keyRings/r", "seed-key", registry.RSASignPSS2048SHA256); err != nil {
			fmt.Fprintf(os.Stderr, "fakekms: seed key: %v\n", err)
			os.Exit(1)
		}
	}

	handler := fakekms.NewHandler(server, logger)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	var wrapped http.Handler = router
	wrapped = middleware.RecoveryMiddleware(logger)(wrapped)

	httpServer := &http.Server{Handler: wrapped}
	go func() {
		if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("fakekms server stopped")
		}
	}()

	fmt.Println(lis.Addr().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}
