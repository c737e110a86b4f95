package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/lucas-clemente/quic-go/http3"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/MeowCollections/piping-server/internal/pipingserver"
)

type options struct {
	httpPort    int
	enableHTTPS bool
	httpsPort   int
	keyPath     string
	crtPath     string
	enableHTTP3 bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:     "piping-server",
		Short:   "Streaming HTTP relay between senders and receivers of the same path",
		Version: pipingserver.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := root.Flags()
	flags.IntVarP(&opts.httpPort, "http-port", "p", 8080, "HTTP port (cleartext, HTTP/1.1 + h2c)")
	flags.BoolVar(&opts.enableHTTPS, "enable-https", false, "Enable HTTPS (and HTTP/2 over TLS)")
	flags.IntVar(&opts.httpsPort, "https-port", 8443, "HTTPS port")
	flags.StringVar(&opts.keyPath, "key-path", "", "TLS private key path (required with --enable-https)")
	flags.StringVar(&opts.crtPath, "crt-path", "", "TLS certificate path (required with --enable-https)")
	flags.BoolVar(&opts.enableHTTP3, "enable-http3", false, "Also serve over HTTP/3 (QUIC), requires --enable-https")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	handler := pipingserver.NewServer(logger)

	errCh := make(chan error, 3)
	running := 0

	// Cleartext HTTP/1.1 + HTTP/2 (h2c): the Path Router sees identical
	// requests regardless of which protocol a client negotiated (§6).
	h2s := &http2.Server{}
	cleartext := h2c.NewHandler(handler, h2s)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.httpPort),
		Handler: cleartext,
	}
	running++
	go func() {
		logger.Printf("listening (HTTP/1.1 + h2c) on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	if opts.enableHTTPS {
		if opts.keyPath == "" || opts.crtPath == "" {
			return fmt.Errorf("--enable-https requires --key-path and --crt-path")
		}
		tlsConfig := &tls.Config{}
		httpsSrv := &http.Server{
			Addr:      fmt.Sprintf(":%d", opts.httpsPort),
			Handler:   handler,
			TLSConfig: tlsConfig,
		}
		if err := http2.ConfigureServer(httpsSrv, &http2.Server{}); err != nil {
			return fmt.Errorf("configure http/2: %w", err)
		}
		running++
		go func() {
			logger.Printf("listening (HTTPS + HTTP/2) on %s", httpsSrv.Addr)
			errCh <- httpsSrv.ListenAndServeTLS(opts.crtPath, opts.keyPath)
		}()

		if opts.enableHTTP3 {
			http3Srv := &http3.Server{
				Server: &http.Server{
					Addr:    fmt.Sprintf(":%d", opts.httpsPort),
					Handler: handler,
				},
			}
			running++
			go func() {
				logger.Printf("listening (HTTP/3 over QUIC) on %s", http3Srv.Addr)
				errCh <- http3Srv.ListenAndServeTLS(opts.crtPath, opts.keyPath)
			}()
		}
	} else if opts.enableHTTP3 {
		return fmt.Errorf("--enable-http3 requires --enable-https")
	}

	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}
