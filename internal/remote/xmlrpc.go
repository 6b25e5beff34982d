package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

func init() {
	// odpowiedzi z innym kodowaniem niż UTF-8 (starsze instancje za proxy)
	xmlrpc.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(cs, in)
	}
}

// XMLRPCDialer łączy się z instancją przez /xmlrpc/2/common i /xmlrpc/2/object.
type XMLRPCDialer struct {
	log      zerolog.Logger
	observer Observer
}

func NewXMLRPCDialer(log zerolog.Logger, observer Observer) *XMLRPCDialer {
	return &XMLRPCDialer{log: log, observer: observer}
}

type xmlrpcSession struct {
	log      zerolog.Logger
	observer Observer
	limiter  *rate.Limiter
	timeout  time.Duration

	common *xmlrpc.Client
	object *xmlrpc.Client

	db     string
	uid    int64
	apiKey string
}

func (d *XMLRPCDialer) Connect(ctx context.Context, t Target) (Session, error) {
	base, err := normalizeURL(t.Endpoint.URL)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	if t.Credentials.Database == "" || t.Credentials.Username == "" || t.Credentials.APIKey == "" {
		return nil, &AuthenticationError{Message: "missing database, username or api key"}
	}

	timeout := t.Endpoint.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !t.Endpoint.VerifySSL}, //nolint:gosec // self-signed dev instancje
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   2,
	}

	common, err := xmlrpc.NewClient(base+"/xmlrpc/2/common", transport)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	object, err := xmlrpc.NewClient(base+"/xmlrpc/2/object", transport)
	if err != nil {
		common.Close()
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	rps := t.Endpoint.RequestsPerSecond
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	s := &xmlrpcSession{
		log:      d.log.With().Str("remote", base).Str("db", t.Credentials.Database).Logger(),
		observer: d.observer,
		limiter:  rate.NewLimiter(limit, 1+int(rps)),
		timeout:  timeout,
		common:   common,
		object:   object,
		db:       t.Credentials.Database,
		apiKey:   t.Credentials.APIKey,
	}

	raw, err := call[any](ctx, s, s.common, "authenticate", "authenticate",
		[]any{t.Credentials.Database, t.Credentials.Username, t.Credentials.APIKey, map[string]any{}})
	if err != nil {
		s.Close()
		return nil, err
	}
	uid, ok := asInt64(raw)
	if !ok || uid == 0 {
		s.Close()
		return nil, &AuthenticationError{Message: "invalid credentials for " + t.Credentials.Username}
	}
	s.uid = uid
	s.log.Debug().Int64("uid", uid).Msg("remote session opened")
	return s, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url without host")
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

type callResult[T any] struct {
	v   T
	err error
}

// call wykonuje jedno wywołanie z limitem tempa i kontekstem. Klient XML-RPC
// nie zna kontekstu, więc czekamy na wynik albo na ctx.Done.
func call[T any](ctx context.Context, s *xmlrpcSession, c *xmlrpc.Client, method, op string, args []any) (T, error) {
	var zero T
	if err := s.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan callResult[T], 1)
	go func() {
		var out T
		err := c.Call(method, args, &out)
		done <- callResult[T]{v: out, err: err}
	}()

	select {
	case <-ctx.Done():
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = &ConnectionError{Op: op, Err: err}
		}
		s.observe(op, start, err)
		return zero, err
	case r := <-done:
		err := classify(op, r.err)
		s.observe(op, start, err)
		return r.v, err
	}
}

func (s *xmlrpcSession) observe(method string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveRemoteCall(method, time.Since(start), err)
	}
}

// exec to execute_kw na modelu.
func exec[T any](ctx context.Context, s *xmlrpcSession, model, method string, args []any, kw map[string]any) (T, error) {
	if kw == nil {
		kw = map[string]any{}
	}
	return call[T](ctx, s, s.object, "execute_kw", model+"."+method, []any{s.db, s.uid, s.apiKey, model, method, args, kw})
}
