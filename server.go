package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kr/secureheader"
)

type requestIDKey struct{}

func NewRequestID() string { return "req_" + uuid.NewString() }

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return NewRequestID()
}

// RouterServer exposes a Router over HTTP.
type RouterServer struct {
	Router             *Router
	NonceStore         string
	CORSAllowedOrigins []string
	HTTPSRedirect      bool

	log *Logger
}

func NewRouterServer(router *Router, nonceStore string, corsAllowedOrigins []string, log *Logger) *RouterServer {
	if log == nil {
		log = NewNopLogger()
	}
	return &RouterServer{
		Router:             router,
		NonceStore:         nonceStore,
		CORSAllowedOrigins: corsAllowedOrigins,
		log:                log.With("service", "RouterServer"),
	}
}

// corsMiddleware handles CORS origin check
func (server *RouterServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			for _, allowedOrigin := range server.CORSAllowedOrigins {
				if r.Header.Get("Origin") == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
					w.Header().Set("Access-Control-Allow-Methods", "GET,POST")
					// Credentials are cookies, authorization headers, or TLS client certificates
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		for _, allowedOrigin := range server.CORSAllowedOrigins {
			if r.Header.Get("Origin") == allowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware assigns a request id and writes one access log line per request
func (server *RouterServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := NewRequestID()
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		next.ServeHTTP(w, r)

		ip := r.Header.Get("X-Real-Ip")
		if ip == "" {
			var err error
			ip, _, err = net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
		}
		server.log.Info("request",
			"request_id", id,
			"ip", ip,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(started).String(),
		)
	})
}

// panicMiddleware handles panic errors to prevent server shutdown
func (server *RouterServer) panicMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				server.log.Error("recovered panic error", "error", fmt.Sprint(err))
				writeError(w, r, http.StatusInternalServerError, "Internal", "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Handler is the complete HTTP API with its middleware stack.
func (server *RouterServer) Handler() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/ping", PingHandler)
	mux.Get("/status", server.StatusHandler)
	mux.Get("/address", server.AddressHandler)
	mux.Get("/metrics", MetricsHandler)
	mux.Get("/nonces/{nonce}", server.NonceHandler)
	mux.Post("/authorization_hash", server.AuthorizationHashHandler)
	mux.Post("/deploy", server.DeployHandler)

	// Set middleware, from bottom to top
	var commonHandler http.Handler = server.corsMiddleware(mux)
	commonHandler = metricsMiddleware(commonHandler)
	commonHandler = server.logMiddleware(commonHandler)
	commonHandler = server.panicMiddleware(commonHandler)

	return &secureheader.Config{
		HTTPSRedirect:          server.HTTPSRedirect,
		HTTPSUseForwardedProto: secureheader.ShouldUseForwardedProto(),
		PermitClearLoopback:    true,
		ContentTypeOptions:     true,
		HSTS:                   true,
		HSTSMaxAge:             300 * 24 * time.Hour,
		FrameOptions:           true,
		FrameOptionsPolicy:     secureheader.Deny,
		XSSProtection:          true,
		Next:                   commonHandler,
	}
}

// maxRequestBodyBytes caps JSON request bodies. A deploy with a few thousand owners fits easily.
const maxRequestBodyBytes = 1 << 20

// decodeRequest reads a capped JSON body into v. On failure it writes the error response and returns
// false.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	bodyDecoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decodeErr := bodyDecoder.Decode(v)
	if decodeErr == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(decodeErr, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "RequestTooLarge", fmt.Sprintf("Request body exceeds %d bytes", maxRequestBodyBytes))
	case errors.Is(decodeErr, ErrUnknownAssetKind):
		writeError(w, r, http.StatusBadRequest, errorCode(ErrUnknownAssetKind), ErrUnknownAssetKind.Error())
	default:
		writeError(w, r, http.StatusBadRequest, "BadRequest", "Error decoding request")
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		RequestID: requestID(r),
		Error:     ErrorBody{Code: code, Message: message},
	})
}

// PingHandler response with status of the server itself
func PingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{Status: "ok"})
}

func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsSnapshot())
}

type FactoryStatus struct {
	Kind        AssetKind `json:"kind"`
	Address     string    `json:"address"`
	Collections *int      `json:"collections,omitempty"`
}

type RouterStatus struct {
	TrustedSigner string          `json:"trustedSigner"`
	Scheme        SigningScheme   `json:"scheme"`
	NonceStore    string          `json:"nonceStore"`
	Factories     []FactoryStatus `json:"factories"`
}

func (server *RouterServer) Status() RouterStatus {
	status := RouterStatus{
		TrustedSigner: server.Router.TrustedSigner().Hex(),
		Scheme:        server.Router.Scheme(),
		NonceStore:    server.NonceStore,
	}
	for _, kind := range knownAssetKinds {
		factory, ok := server.Router.Factory(kind)
		if !ok {
			continue
		}
		factoryStatus := FactoryStatus{Kind: kind, Address: factory.Address().Hex()}
		if counter, ok := factory.(interface{ Count() int }); ok {
			count := counter.Count()
			factoryStatus.Collections = &count
		}
		status.Factories = append(status.Factories, factoryStatus)
	}
	return status
}

func (server *RouterServer) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, server.Status())
}

func (server *RouterServer) AddressHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AddressResponse{Address: server.Router.TrustedSigner().Hex()})
}

func (server *RouterServer) NonceHandler(w http.ResponseWriter, r *http.Request) {
	nonce := chi.URLParam(r, "nonce")
	if unescaped, err := url.PathUnescape(nonce); err == nil {
		nonce = unescaped
	}

	consumed, err := server.Router.NonceConsumed(r.Context(), []byte(nonce))
	if err != nil {
		server.log.Error("nonce lookup failed", "request_id", requestID(r), "error", err.Error())
		writeError(w, r, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, NonceResponse{Nonce: nonce, Consumed: consumed})
}

func (server *RouterServer) AuthorizationHashHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters AuthorizationHashRequest
	if !decodeRequest(w, r, &requestParameters) {
		return
	}

	hash := AuthorizationHash(server.Router.Scheme(), requestParameters.Kind, []byte(requestParameters.Nonce))
	writeJSON(w, http.StatusOK, AuthorizationHashResponse{
		Scheme:            string(server.Router.Scheme()),
		AuthorizationHash: "0x" + hex.EncodeToString(hash),
	})
}

func (server *RouterServer) DeployHandler(w http.ResponseWriter, r *http.Request) {
	var requestParameters DeployNFTRequest
	if !decodeRequest(w, r, &requestParameters) {
		return
	}

	request, parseErr := ParseDeployNFTRequest(&requestParameters)
	if parseErr != nil {
		writeError(w, r, http.StatusBadRequest, "BadRequest", parseErr.Error())
		return
	}

	record, deployErr := server.Router.Deploy(r.Context(), request)
	if deployErr != nil {
		status, message := deployErrorStatus(deployErr)
		if status == http.StatusInternalServerError {
			server.log.Error("deployment failed", "request_id", requestID(r), "error", deployErr.Error())
		}
		writeError(w, r, status, errorCode(deployErr), message)
		return
	}

	writeJSON(w, http.StatusOK, DeployNFTResponse{RequestID: requestID(r), Record: &record})
}

// deployErrorStatus maps a deploy failure to its status code and a client safe message.
func deployErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidOwners):
		return http.StatusBadRequest, ErrInvalidOwners.Error()
	case errors.Is(err, ErrUnknownAssetKind):
		return http.StatusBadRequest, ErrUnknownAssetKind.Error()
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusForbidden, ErrInvalidSignature.Error()
	case errors.Is(err, ErrNonceAlreadyUsed):
		return http.StatusConflict, ErrNonceAlreadyUsed.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// RunServer serves the API until ctx is cancelled, then shuts down gracefully.
func (server *RouterServer) RunServer(ctx context.Context, serverHost string, serverPort int) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverHost, serverPort),
		Handler:      server.Handler(),
		ReadTimeout:  40 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		server.log.Info("starting router server", "host", serverHost, "port", serverPort)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server listener, err: %v", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.log.Info("shutting down router server")
	return httpServer.Shutdown(shutdownCtx)
}
