package console

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/consolegate/consolegate/internal/authstate"
	"github.com/consolegate/consolegate/internal/handshake"
	"github.com/consolegate/consolegate/internal/identity"
)

// ErrUnmounted is returned by Wait when the page was unmounted before it
// navigated
var ErrUnmounted = errors.New("login page unmounted before navigation")

// LoginPageConfig configures a LoginPage
type LoginPageConfig struct {
	// Target is where to navigate once login completes
	Target string
	// Delay between login completion and navigation
	Delay time.Duration
	// Splash is the minimum post-login transition shown by the form
	Splash time.Duration
	// AfterFunc overrides the handshake timer
	AfterFunc handshake.AfterFunc
}

// LoginPage hosts the login form. When the form reports completion it
// schedules a navigation to the target after a fixed delay; unmounting the
// page cancels that navigation.
type LoginPage struct {
	client    *Client
	form      *LoginForm
	handshake *handshake.Handshake
	target    string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	visit *Visit
	err   error
}

// NewLoginPage mounts a login page in client's browsing context
func NewLoginPage(client *Client, observer *authstate.Observer, cfg LoginPageConfig) *LoginPage {
	ctx, cancel := context.WithCancel(context.Background())
	p := &LoginPage{
		client: client,
		target: cfg.Target,
		ctx:    ctx,
		cancel: cancel,
	}
	if p.target == "" {
		p.target = "/"
	}

	var opts []handshake.Option
	if cfg.AfterFunc != nil {
		opts = append(opts, handshake.WithAfterFunc(cfg.AfterFunc))
	}
	p.handshake = handshake.New(cfg.Delay, p.navigate, opts...)
	p.form = NewLoginForm(observer, cfg.Splash, p.onLoginComplete, client.logger)
	return p
}

// Submit submits the hosted form
func (p *LoginPage) Submit(ctx context.Context, email, password string) (*identity.User, error) {
	return p.form.Submit(ctx, email, password)
}

// Unmount cancels any pending navigation
func (p *LoginPage) Unmount() {
	if p.handshake.Unmount() {
		p.client.logger.Debug().Str("target", p.target).Msg("Cancelled pending navigation")
	}
	p.cancel()
}

// Wait blocks until the page navigated or was unmounted and returns where the
// navigation landed
func (p *LoginPage) Wait(ctx context.Context) (*Visit, error) {
	select {
	case <-p.handshake.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !p.handshake.Navigated() {
		return nil, ErrUnmounted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visit, p.err
}

func (p *LoginPage) onLoginComplete() {
	p.handshake.Complete(p.target)
}

func (p *LoginPage) navigate(target string) {
	visit, err := p.client.Navigate(p.ctx, target)

	p.mu.Lock()
	p.visit, p.err = visit, err
	p.mu.Unlock()
}
