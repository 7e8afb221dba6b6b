package drive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
)

// ReadonlyScope is the only scope requested: search and download.
const ReadonlyScope = drivev3.DriveReadonlyScope

const oobRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// AuthConfig controls the interactive authorization flow.
type AuthConfig struct {
	AuthHostName          string     // host the redirect listener binds to
	AuthHostPorts         []int      // tried in order; 0 picks any free port
	LocalWebserverEnabled bool       // false uses the paste-the-code flow
	LogLevel              slog.Level // minimum level logged by the flow
}

// DefaultAuthConfig mirrors the usual installed-app setup.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AuthHostName:          "localhost",
		AuthHostPorts:         []int{8080, 8090},
		LocalWebserverEnabled: true,
		LogLevel:              slog.LevelError,
	}
}

// Authorizer obtains Drive tokens, reusing cached ones from a TokenStore.
type Authorizer struct {
	cfg    AuthConfig
	store  TokenStore
	logger *slog.Logger

	in          io.Reader
	out         io.Writer
	openBrowser func(url string) error
}

// NewAuthorizer creates an Authorizer. A nil logger uses slog.Default.
func NewAuthorizer(cfg AuthConfig, store TokenStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		cfg:         cfg,
		store:       store,
		logger:      slog.New(levelHandler{min: cfg.LogLevel, Handler: logger.Handler()}),
		in:          os.Stdin,
		out:         os.Stderr,
		openBrowser: openURL,
	}
}

// SetPrompt replaces where the consent URL is printed and where a pasted
// code is read from.
func (a *Authorizer) SetPrompt(in io.Reader, out io.Writer) {
	a.in = in
	a.out = out
}

// SetBrowserFunc replaces how the consent URL is opened. nil disables it.
func (a *Authorizer) SetBrowserFunc(fn func(url string) error) {
	a.openBrowser = fn
}

// OAuthConfig builds the OAuth2 client configuration from a Google client
// secret JSON file.
func (a *Authorizer) OAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials %s: %w", ErrAuth, credentialsPath, err)
	}
	conf, err := google.ConfigFromJSON(data, ReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials %s: %w", ErrAuth, credentialsPath, err)
	}
	return conf, nil
}

// ObtainToken returns a usable token. A cached token is reused while it is
// valid and refreshed once it expires. When there is no cached token, or the
// provider rejects its refresh token, the interactive flow runs. Any new token
// is saved to the store.
func (a *Authorizer) ObtainToken(ctx context.Context, credentialsPath string) (*oauth2.Token, error) {
	tok, err := a.store.Load()
	if err != nil {
		a.logger.Warn("Ignoring unreadable cached token", slog.String("error", err.Error()))
		tok = nil
	}
	if tok != nil && tok.Valid() {
		a.logger.Debug("Using cached token", slog.Time("expiry", tok.Expiry))
		return tok, nil
	}

	conf, err := a.OAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	if tok != nil && tok.RefreshToken != "" {
		fresh, err := a.refresh(ctx, conf, tok)
		if err == nil {
			return fresh, nil
		}
		var rerr *oauth2.RetrieveError
		if !errors.As(err, &rerr) {
			return nil, err
		}
		a.logger.Warn("Cached token was rejected, authorizing again", slog.String("error", rerr.Error()))
	}

	code, err := a.authorize(ctx, conf)
	if err != nil {
		return nil, err
	}

	tok, err = conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %w", ErrAuth, err)
	}
	if err := a.store.Save(tok); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	a.logger.Info("Authentication successful")
	return tok, nil
}

// refresh exchanges the refresh token of an expired token for a new one and
// saves it. Provider rejections are returned as *oauth2.RetrieveError.
func (a *Authorizer) refresh(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := conf.TokenSource(ctx, tok).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		return nil, fmt.Errorf("%w: refresh token: %w", ErrAuth, err)
	}
	if err := a.store.Save(fresh); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	a.logger.Debug("Refreshed cached token", slog.Time("expiry", fresh.Expiry))
	return fresh, nil
}

// HTTPClient returns an authorized client. Tokens refreshed while the client
// is in use are written back to the store.
func (a *Authorizer) HTTPClient(ctx context.Context, credentialsPath string) (*http.Client, error) {
	tok, err := a.ObtainToken(ctx, credentialsPath)
	if err != nil {
		return nil, err
	}
	conf, err := a.OAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		src:    conf.TokenSource(ctx, tok),
		store:  a.store,
		last:   tok.AccessToken,
		logger: a.logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func (a *Authorizer) authorize(ctx context.Context, conf *oauth2.Config) (string, error) {
	if a.cfg.LocalWebserverEnabled {
		ln, err := a.listen()
		if err == nil {
			return a.localServerFlow(ctx, conf, ln)
		}
		a.logger.Warn("No free port for the local redirect, falling back to manual code entry",
			slog.String("error", err.Error()))
	}
	return a.pasteFlow(conf)
}

// listen binds the first free configured port, then any free port. Google
// accepts any loopback port for installed apps.
func (a *Authorizer) listen() (net.Listener, error) {
	for _, port := range a.cfg.AuthHostPorts {
		addr := net.JoinHostPort(a.cfg.AuthHostName, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		a.logger.Debug("Redirect port unavailable", slog.String("addr", addr), slog.String("error", err.Error()))
	}
	return net.Listen("tcp", net.JoinHostPort(a.cfg.AuthHostName, "0"))
}

type callbackResult struct {
	code string
	err  error
}

func (a *Authorizer) localServerFlow(ctx context.Context, conf *oauth2.Config, ln net.Listener) (string, error) {
	port := ln.Addr().(*net.TCPAddr).Port
	flowConf := *conf
	flowConf.RedirectURL = "http://" + net.JoinHostPort(a.cfg.AuthHostName, strconv.Itoa(port)) + "/"

	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "unexpected state", http.StatusBadRequest)
			return
		}
		var res callbackResult
		if reason := q.Get("error"); reason != "" {
			res.err = fmt.Errorf("%w: authorization refused: %s", ErrAuth, reason)
			fmt.Fprintln(w, "Authentication has failed:", reason)
		} else if res.code = q.Get("code"); res.code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		} else {
			fmt.Fprintln(w, "The authentication flow has completed. You may close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := flowConf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(a.out, "Your browser has been opened to visit:\n\n    %s\n\n", authURL)
	if a.openBrowser != nil {
		if err := a.openBrowser(authURL); err != nil {
			a.logger.Info("Could not open a browser, open the link manually", slog.String("error", err.Error()))
		}
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrAuth, ctx.Err())
	case res := <-results:
		if res.err != nil {
			return "", res.err
		}
		*conf = flowConf
		return res.code, nil
	}
}

// pasteFlow asks for the code by hand using the out-of-band redirect. Google
// no longer accepts that redirect for new clients, so this only serves
// providers that still do and hosts where no loopback listener can bind.
func (a *Authorizer) pasteFlow(conf *oauth2.Config) (string, error) {
	conf.RedirectURL = oobRedirectURL
	authURL := conf.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(a.out, "Go to the following link in your browser:\n\n    %s\n\nEnter verification code: ", authURL)

	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: read verification code: %w", ErrAuth, err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", fmt.Errorf("%w: no verification code entered", ErrAuth)
	}
	return code, nil
}

// persistingSource saves every newly minted token back to the store.
type persistingSource struct {
	src    oauth2.TokenSource
	store  TokenStore
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn("Failed to persist refreshed token", slog.String("error", err.Error()))
		}
	}
	return tok, nil
}

// levelHandler drops records below min before they reach the wrapped handler.
type levelHandler struct {
	min slog.Level
	slog.Handler
}

func (h levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.min && h.Handler.Enabled(ctx, l)
}

func (h levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelHandler{min: h.min, Handler: h.Handler.WithAttrs(attrs)}
}

func (h levelHandler) WithGroup(name string) slog.Handler {
	return levelHandler{min: h.min, Handler: h.Handler.WithGroup(name)}
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
