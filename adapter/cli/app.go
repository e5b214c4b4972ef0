package cli

import (
	billingApp "github.com/felixgeelhaar/billcycle/internal/billing/application"
	"github.com/felixgeelhaar/billcycle/internal/billing/domain"
)

// App holds the CLI application dependencies.
type App struct {
	Session    billingApp.AuthSession
	Reconciler *billingApp.Reconciler
	Gateway    *billingApp.Gateway
	Ticker     *billingApp.PhaseTicker
	Clock      domain.Clock

	// MaxProofBytes bounds how much of a proof image file is read.
	MaxProofBytes int64

	// SignOut forgets the signed-in user's credentials, if set.
	SignOut func()
}

// NewApp creates a new CLI application.
func NewApp(
	session billingApp.AuthSession,
	reconciler *billingApp.Reconciler,
	gateway *billingApp.Gateway,
	ticker *billingApp.PhaseTicker,
) *App {
	return &App{
		Session:       session,
		Reconciler:    reconciler,
		Gateway:       gateway,
		Ticker:        ticker,
		Clock:         domain.SystemClock{},
		MaxProofBytes: billingApp.DefaultMaxProofBytes,
	}
}

// SetClock replaces the clock used to derive bill phases.
func (a *App) SetClock(clock domain.Clock) {
	a.Clock = clock
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
