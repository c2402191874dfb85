package app

import (
	"context"
	"fmt"

	"vault_payday/internal/domain/economy"
	"vault_payday/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Payment is one external payment-event notification. Source names the
// producing job or category; Zone names where the principal earned it.
type Payment struct {
	Identity uuid.UUID
	Name     string
	Amount   float64
	Source   string
	Zone     string
}

// InterceptorConfig is the redirection policy.
type InterceptorConfig struct {
	BypassPermission  string
	MinimumPayment    float64
	InterceptAll      bool
	Sources           []string
	ZoneWhitelistMode bool
	WhitelistedZones  []string
	BlacklistedZones  []string
	NotifyProgress    bool
	ThresholdMinutes  int64
}

// Interceptor redirects qualifying external payments into pending balance.
// Any payment that fails a policy check passes through to the principal
// unchanged.
type Interceptor struct {
	cache    *Cache
	perms    PermissionSource
	notifier economy.Notifier
	metrics  *metrics.Metrics
	log      *logrus.Logger
	cfg      InterceptorConfig

	sources     map[string]struct{}
	whitelisted map[string]struct{}
	blacklisted map[string]struct{}
}

func NewInterceptor(cache *Cache, perms PermissionSource, notifier economy.Notifier, m *metrics.Metrics, log *logrus.Logger, cfg InterceptorConfig) *Interceptor {
	return &Interceptor{
		cache:       cache,
		perms:       perms,
		notifier:    notifier,
		metrics:     m,
		log:         log,
		cfg:         cfg,
		sources:     toSet(cfg.Sources),
		whitelisted: toSet(cfg.WhitelistedZones),
		blacklisted: toSet(cfg.BlacklistedZones),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// HandlePayment decides whether the payment is redirected into pending
// balance. It reports true when the caller must suppress the original
// payment; false lets it through untouched.
func (i *Interceptor) HandlePayment(ctx context.Context, p Payment) bool {
	if i.perms.Has(p.Identity, i.cfg.BypassPermission) {
		return false
	}
	if p.Amount < i.cfg.MinimumPayment {
		// Small payments bypass redirection.
		return false
	}
	if !i.interceptsSource(p.Source) {
		return false
	}
	if !i.zoneEligible(p.Zone) {
		return false
	}

	if err := i.cache.CreditPending(ctx, p.Identity, p.Amount); err != nil {
		// The credit could not be applied, so the original payment must not
		// be suppressed either; letting it through loses nothing.
		i.log.WithError(err).WithFields(logrus.Fields{
			"identity": p.Identity,
			"amount":   p.Amount,
		}).Error("Failed to credit intercepted payment, letting it through")
		return false
	}

	i.metrics.PaymentIntercepted(p.Amount)
	i.log.WithFields(logrus.Fields{
		"identity": p.Identity,
		"name":     p.Name,
		"amount":   fmt.Sprintf("%.2f", p.Amount),
		"source":   p.Source,
		"zone":     p.Zone,
	}).Debug("Intercepted payment into pending balance")

	if i.cfg.NotifyProgress {
		i.notifyProgress(ctx, p)
	}
	return true
}

func (i *Interceptor) interceptsSource(source string) bool {
	if i.cfg.InterceptAll {
		return true
	}
	if len(i.sources) == 0 {
		return true
	}
	_, listed := i.sources[source]
	return listed
}

func (i *Interceptor) zoneEligible(zone string) bool {
	if i.cfg.ZoneWhitelistMode {
		_, listed := i.whitelisted[zone]
		return listed
	}
	_, listed := i.blacklisted[zone]
	return !listed
}

// notifyProgress sends a best-effort progress message; failures are ignored.
func (i *Interceptor) notifyProgress(ctx context.Context, p Payment) {
	rec, err := i.cache.Get(ctx, p.Identity)
	if err != nil {
		return
	}
	i.notifier.Notify(p.Identity, fmt.Sprintf(
		"Redirected %.2f into your payday balance (pending %.2f, %d minutes to go).",
		p.Amount, rec.PendingBalance, rec.RemainingMinutes(i.cfg.ThresholdMinutes)))
}
