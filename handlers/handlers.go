package handlers

import (
	"time"

	"trading-alerts/api/billing"
	"trading-alerts/api/config"
	"trading-alerts/api/jobs"
	"trading-alerts/api/notify"
	"trading-alerts/api/sse"
	"trading-alerts/api/store"
)

// Package-level collaborators, wired once at startup by Setup.
var (
	Repo     store.Repository
	Notifier *notify.Notifier
	Hub      *sse.Hub
	Checkout billing.CheckoutCreator
	Jobs     *jobs.Runner
	Cfg      *config.Config
	Now      = time.Now
)

type Deps struct {
	Repo     store.Repository
	Notifier *notify.Notifier
	Hub      *sse.Hub
	Checkout billing.CheckoutCreator
	Jobs     *jobs.Runner
	Config   *config.Config
	Now      func() time.Time
}

func Setup(d Deps) {
	Repo = d.Repo
	Notifier = d.Notifier
	Hub = d.Hub
	Checkout = d.Checkout
	Jobs = d.Jobs
	Cfg = d.Config
	Now = time.Now
	if d.Now != nil {
		Now = d.Now
	}
}
