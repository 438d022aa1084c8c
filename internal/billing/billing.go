// Package billing connects plan upgrades to Stripe. Checkout and the
// customer portal are hosted by Stripe; the webhook keeps the local
// subscription records and user roles in step.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

var ErrNoSubscription = errors.New("billing: no subscription found")

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	IsYearly   bool
	SuccessURL string
	CancelURL  string
}

// Gateway is the slice of the Stripe API the service uses.
type Gateway interface {
	FindOrCreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
	// CustomerUserID returns the userId stored in the customer's metadata.
	CustomerUserID(ctx context.Context, customerID string) (string, error)
}

type Store interface {
	GetSubscription(ctx context.Context, userID string) (models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) error
	MarkCanceled(ctx context.Context, subscriptionID string, at time.Time) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
	SetRole(ctx context.Context, userID string, role models.Role) error
	InsertPayment(ctx context.Context, p models.Payment, subscriptionID string) error
}

// RoleForPrice maps a Stripe price to the plan role it grants.
func RoleForPrice(priceID string) models.Role {
	switch priceID {
	case models.PriceProMonthly, models.PriceProYearly:
		return models.RolePro
	case models.PriceProPlusMonthly, models.PriceProPlusYearly:
		return models.RoleProPlus
	}
	return models.RoleFree
}

type Service struct {
	gateway       Gateway
	store         Store
	webhookSecret string
	appURL        string
	onRoleChange  func(ctx context.Context, userID string, role models.Role)
	logger        *logger.Logger
	now           func() time.Time
}

// NewService builds the billing service. A nil gateway leaves checkout and
// portal calls answering with a configuration error.
func NewService(gateway Gateway, store Store, webhookSecret, appURL string, l *logger.Logger) *Service {
	return &Service{
		gateway:       gateway,
		store:         store,
		webhookSecret: webhookSecret,
		appURL:        strings.TrimRight(appURL, "/"),
		logger:        l.With("component", "billing"),
		now:           time.Now,
	}
}

// OnRoleChange registers a hook run after the webhook changes a user's role.
func (s *Service) OnRoleChange(fn func(ctx context.Context, userID string, role models.Role)) {
	s.onRoleChange = fn
}

func (s *Service) configured() error {
	if s.gateway == nil {
		return apperr.Configuration("Billing is not configured")
	}
	return nil
}

func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email, priceID string, isYearly bool) (string, error) {
	if err := s.configured(); err != nil {
		return "", err
	}
	if priceID == "" || userID == "" || email == "" {
		return "", apperr.Validation("Missing required parameters")
	}

	customerID, err := s.gateway.FindOrCreateCustomer(ctx, email, userID)
	if err != nil {
		s.logger.Error("Stripe customer lookup failed", "user_id", userID, "error", err)
		return "", apperr.Network("Failed to prepare billing", err)
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     userID,
		IsYearly:   isYearly,
		SuccessURL: s.appURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.appURL + "/#pricing",
	})
	if err != nil {
		s.logger.Error("Stripe checkout session failed", "user_id", userID, "error", err)
		return "", apperr.Network("Failed to create checkout session", err)
	}

	s.logger.Info("Checkout session created", "user_id", userID, "price_id", priceID)
	return url, nil
}

func (s *Service) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	if err := s.configured(); err != nil {
		return "", err
	}
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID == "" {
		return "", apperr.Validation("No subscription found")
	}

	url, err := s.gateway.CreatePortalSession(ctx, sub.StripeCustomerID, s.appURL+"/dashboard")
	if err != nil {
		s.logger.Error("Stripe portal session failed", "user_id", userID, "error", err)
		return "", apperr.Network("Failed to create portal session", err)
	}
	return url, nil
}

func (s *Service) CancelSubscription(ctx context.Context, userID string) error {
	return s.setCancel(ctx, userID, true)
}

func (s *Service) ReactivateSubscription(ctx context.Context, userID string) error {
	return s.setCancel(ctx, userID, false)
}

func (s *Service) setCancel(ctx context.Context, userID string, cancel bool) error {
	if err := s.configured(); err != nil {
		return err
	}
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return err
	}
	if sub.StripeSubscriptionID == "" {
		return apperr.Validation("No subscription found")
	}

	if err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel); err != nil {
		s.logger.Error("Stripe subscription update failed", "user_id", userID, "cancel", cancel, "error", err)
		return apperr.Network("Failed to update subscription", err)
	}
	if err := s.store.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel); err != nil {
		return apperr.Network("Failed to update subscription", err)
	}

	s.logger.Info("Subscription updated", "user_id", userID, "cancel_at_period_end", cancel)
	return nil
}

func (s *Service) subscription(ctx context.Context, userID string) (models.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, ErrNoSubscription) {
		return models.Subscription{}, apperr.Validation("No subscription found")
	}
	if err != nil {
		return models.Subscription{}, apperr.Network("Failed to load subscription", err)
	}
	return sub, nil
}

// HandleWebhook verifies the Stripe signature and applies the event.
// Unknown event types are accepted and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return apperr.Configuration("Webhook is not configured")
	}
	if signature == "" {
		return apperr.Validation("Missing signature")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("Stripe webhook signature failed", "error", err)
		return apperr.Validation("Webhook verification failed")
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return apperr.Validation("Invalid subscription payload")
		}
		return s.subscriptionChanged(ctx, &sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return apperr.Validation("Invalid subscription payload")
		}
		return s.subscriptionDeleted(ctx, &sub)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return apperr.Validation("Invalid invoice payload")
		}
		return s.invoicePaid(ctx, &inv, event.Type == "invoice.payment_succeeded")
	default:
		s.logger.Debug("Ignoring Stripe event", "type", event.Type)
	}
	return nil
}

func (s *Service) userForCustomer(ctx context.Context, c *stripe.Customer) (string, string, error) {
	if c == nil || c.ID == "" {
		return "", "", apperr.Validation("Missing customer id")
	}
	if c.Metadata != nil && c.Metadata["userId"] != "" {
		return c.ID, c.Metadata["userId"], nil
	}
	if s.gateway == nil {
		return c.ID, "", nil
	}
	userID, err := s.gateway.CustomerUserID(ctx, c.ID)
	if err != nil {
		return c.ID, "", apperr.Network("Failed to load customer", err)
	}
	return c.ID, userID, nil
}

func (s *Service) subscriptionChanged(ctx context.Context, sub *stripe.Subscription) error {
	customerID, userID, err := s.userForCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if userID == "" {
		s.logger.Error("No userId found in customer metadata", "customer_id", customerID)
		return nil
	}

	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}

	record := models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     customerID,
		Status:               string(sub.Status),
		PriceID:              priceID,
		CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := s.store.UpsertSubscription(ctx, record); err != nil {
		return apperr.Network("Failed to save subscription", err)
	}

	if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
		role := RoleForPrice(priceID)
		if err := s.setRole(ctx, userID, role); err != nil {
			return err
		}
		s.logger.Info("Updated user role from subscription", "user_id", userID, "role", role, "subscription_id", sub.ID)
	}
	return nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	customerID, userID, err := s.userForCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if err := s.store.MarkCanceled(ctx, sub.ID, s.now().UTC()); err != nil {
		return apperr.Network("Failed to update subscription", err)
	}
	if userID == "" {
		s.logger.Error("No userId found in customer metadata", "customer_id", customerID)
		return nil
	}

	s.logger.Info("Subscription deleted", "user_id", userID, "subscription_id", sub.ID)
	return s.setRole(ctx, userID, models.RoleFree)
}

func (s *Service) invoicePaid(ctx context.Context, inv *stripe.Invoice, succeeded bool) error {
	customerID, userID, err := s.userForCustomer(ctx, inv.Customer)
	if err != nil {
		return err
	}
	if userID == "" {
		s.logger.Error("No userId found in customer metadata", "customer_id", customerID)
		return nil
	}

	p := models.Payment{
		UserID:          userID,
		StripeInvoiceID: inv.ID,
		Currency:        string(inv.Currency),
		CreatedAt:       s.now().UTC(),
	}
	if succeeded {
		p.Amount = inv.AmountPaid
		p.Status = "succeeded"
	} else {
		p.Amount = inv.AmountDue
		p.Status = "failed"
	}

	subscriptionID := ""
	if inv.Subscription != nil {
		subscriptionID = inv.Subscription.ID
	}
	if err := s.store.InsertPayment(ctx, p, subscriptionID); err != nil {
		return apperr.Network("Failed to record payment", err)
	}

	if succeeded {
		s.logger.Info("Payment recorded", "user_id", userID, "amount", p.Amount, "currency", p.Currency)
	} else {
		s.logger.Warn("Payment failed", "user_id", userID, "invoice_id", inv.ID, "amount", strconv.FormatInt(p.Amount, 10))
	}
	return nil
}

func (s *Service) setRole(ctx context.Context, userID string, role models.Role) error {
	if err := s.store.SetRole(ctx, userID, role); err != nil {
		return apperr.Network("Failed to update user role", err)
	}
	if s.onRoleChange != nil {
		s.onRoleChange(ctx, userID, role)
	}
	return nil
}
